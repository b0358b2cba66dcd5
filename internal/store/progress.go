package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pulsechain-portfolio-api/internal/config"
	"pulsechain-portfolio-api/internal/models"

	"github.com/redis/go-redis/v9"
)

// ProgressSink receives aggregation progress for a wallet. GetProgress
// returns models.ErrNotFound when nothing was reported.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, address string, progress models.Progress) error
	GetProgress(ctx context.Context, address string) (*models.Progress, error)
}

const progressKeyPrefix = "progress:"

func progressKey(address string) string {
	return progressKeyPrefix + models.NormalizeAddress(address)
}

// RedisProgressSink stores the latest progress per wallet as JSON with a TTL
type RedisProgressSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisClient creates a client and checks it with a ping
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:                 []string{cfg.Addr},
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           5 * time.Second,
		ReadTimeout:           3 * time.Second,
		WriteTimeout:          3 * time.Second,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisProgressSink wraps client
func NewRedisProgressSink(client redis.UniversalClient, ttl time.Duration) *RedisProgressSink {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisProgressSink{client: client, ttl: ttl}
}

// UpdateProgress overwrites the wallet's progress
func (s *RedisProgressSink) UpdateProgress(ctx context.Context, address string, progress models.Progress) error {
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(address), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	return nil
}

// GetProgress returns the wallet's latest progress
func (s *RedisProgressSink) GetProgress(ctx context.Context, address string) (*models.Progress, error) {
	payload, err := s.client.Get(ctx, progressKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	var progress models.Progress
	if err := json.Unmarshal(payload, &progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &progress, nil
}

// Ping checks the connection, used by health checks
func (s *RedisProgressSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisProgressSink) Close() error {
	return s.client.Close()
}

// MemoryProgressSink is a process-local ProgressSink with the same TTL
// behavior as the Redis one.
type MemoryProgressSink struct {
	mu       sync.RWMutex
	ttl      time.Duration
	progress map[string]progressEntry
	now      func() time.Time
}

type progressEntry struct {
	progress  models.Progress
	expiresAt time.Time
}

// NewMemoryProgressSink creates an in-memory sink
func NewMemoryProgressSink(ttl time.Duration) *MemoryProgressSink {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryProgressSink{
		ttl:      ttl,
		progress: make(map[string]progressEntry),
		now:      time.Now,
	}
}

// UpdateProgress overwrites the wallet's progress
func (s *MemoryProgressSink) UpdateProgress(_ context.Context, address string, progress models.Progress) error {
	now := s.now()
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = now.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progressKey(address)] = progressEntry{progress: progress, expiresAt: now.Add(s.ttl)}
	return nil
}

// GetProgress returns the wallet's latest unexpired progress
func (s *MemoryProgressSink) GetProgress(_ context.Context, address string) (*models.Progress, error) {
	s.mu.RLock()
	entry, ok := s.progress[progressKey(address)]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.expiresAt) {
		return nil, models.ErrNotFound
	}
	p := entry.progress
	return &p, nil
}
