// Package store holds the logo store and progress sink collaborators, each
// with a persistent and an in-memory implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pulsechain-portfolio-api/internal/config"
	"pulsechain-portfolio-api/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LogoStore persists token logo references. GetLogo returns
// models.ErrNotFound when no logo is stored.
type LogoStore interface {
	GetLogo(ctx context.Context, address string) (*models.LogoEntry, error)
	SaveLogo(ctx context.Context, entry models.LogoEntry) error
}

// MongoLogoStore keeps logos in a MongoDB collection keyed by address
type MongoLogoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Connect opens a MongoDB client with the configured pool and timeout
func Connect(ctx context.Context, cfg *config.MongoDBConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoLogoStore wraps the logo collection of client
func NewMongoLogoStore(client *mongo.Client, cfg *config.MongoDBConfig) *MongoLogoStore {
	return &MongoLogoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.LogoCollection),
	}
}

// EnsureIndexes creates the unique address index
func (s *MongoLogoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "address", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("address_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create logo index: %w", err)
	}
	return nil
}

// GetLogo finds the logo for address
func (s *MongoLogoStore) GetLogo(ctx context.Context, address string) (*models.LogoEntry, error) {
	var entry models.LogoEntry
	err := s.collection.FindOne(ctx, bson.M{"address": models.NormalizeAddress(address)}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read logo: %w", err)
	}
	return &entry, nil
}

// SaveLogo upserts entry by address
func (s *MongoLogoStore) SaveLogo(ctx context.Context, entry models.LogoEntry) error {
	entry.Address = models.NormalizeAddress(entry.Address)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"address": entry.Address},
		bson.M{"$set": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save logo: %w", err)
	}
	return nil
}

// Ping checks the connection, used by health checks
func (s *MongoLogoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoLogoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MemoryLogoStore is a process-local LogoStore
type MemoryLogoStore struct {
	mu    sync.RWMutex
	logos map[string]models.LogoEntry
}

// NewMemoryLogoStore creates an empty in-memory store
func NewMemoryLogoStore() *MemoryLogoStore {
	return &MemoryLogoStore{logos: make(map[string]models.LogoEntry)}
}

// GetLogo returns the stored logo for address
func (s *MemoryLogoStore) GetLogo(_ context.Context, address string) (*models.LogoEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.logos[models.NormalizeAddress(address)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &entry, nil
}

// SaveLogo stores entry, replacing any previous one
func (s *MemoryLogoStore) SaveLogo(_ context.Context, entry models.LogoEntry) error {
	entry.Address = models.NormalizeAddress(entry.Address)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logos[entry.Address] = entry
	return nil
}
