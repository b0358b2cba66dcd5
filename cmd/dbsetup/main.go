package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/config"
	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/services"
	"pulsechain-portfolio-api/internal/store"
	"pulsechain-portfolio-api/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		initDB      = flag.Bool("init", false, "Create the logo collection indexes")
		seedFile    = flag.String("seed", "", "YAML file mapping token address to logo URL")
		healthCheck = flag.Bool("health", false, "Ping the logo store")
		configFile  = flag.String("config", os.Getenv("CONFIG_FILE"), "Config file path")
	)
	flag.Parse()

	if !*initDB && *seedFile == "" && !*healthCheck {
		fmt.Println("Logo Store Setup Utility")
		fmt.Println("Usage:")
		fmt.Println("  -init            Create the unique address index on the logo collection")
		fmt.Println("  -seed <file>     Upsert logos from a YAML map of address: url")
		fmt.Println("  -health          Ping the logo store")
		fmt.Println("  -config <file>   Config file (defaults to $CONFIG_FILE)")
		fmt.Println()
		fmt.Println("Environment Variables:")
		fmt.Println("  MONGODB_URI              MongoDB connection string")
		fmt.Println("  MONGODB_DATABASE         Database name")
		fmt.Println("  MONGODB_LOGO_COLLECTION  Logo collection name")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component("dbsetup")

	if cfg.MongoDB.URI == "" {
		log.Fatal("mongodb.uri is not set, the server keeps logos in memory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := store.Connect(ctx, &cfg.MongoDB)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	logos := store.NewMongoLogoStore(client, &cfg.MongoDB)
	defer func() {
		if err := logos.Close(context.Background()); err != nil {
			log.Warn("Error closing MongoDB client", zap.Error(err))
		}
	}()

	if *healthCheck {
		if err := runHealthCheck(ctx, logos); err != nil {
			log.Fatal("Health check failed", zap.Error(err))
		}
	}

	if *initDB {
		log.Info("Creating logo collection indexes",
			zap.String("database", cfg.MongoDB.Database),
			zap.String("collection", cfg.MongoDB.LogoCollection),
		)
		if err := logos.EnsureIndexes(ctx); err != nil {
			log.Fatal("Database initialization failed", zap.Error(err))
		}
	}

	if *seedFile != "" {
		n, err := seedLogos(ctx, logos, *seedFile)
		if err != nil {
			log.Fatal("Logo seeding failed", zap.Error(err))
		}
		log.Info("Seeded logos", zap.Int("count", n))
	}

	log.Info("Logo store setup completed successfully")
}

func runHealthCheck(ctx context.Context, logos *store.MongoLogoStore) error {
	checker := services.NewHealthChecker(nil, logos, nil)
	check := checker.CheckLogoStore(ctx)

	logger.Component("dbsetup").Info("Logo store health",
		zap.String("status", string(check.Status)),
		zap.Duration("response_time", check.ResponseTime),
		zap.String("message", check.Message),
	)
	if check.Status != services.HealthStatusHealthy {
		return fmt.Errorf("logo store is %s: %s", check.Status, check.Message)
	}
	return nil
}

// seedLogos upserts every entry of a YAML address -> url map
func seedLogos(ctx context.Context, logos store.LogoStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seeded := 0
	for address, url := range entries {
		if !common.IsHexAddress(address) || url == "" {
			return seeded, fmt.Errorf("invalid seed entry %q", address)
		}
		entry := models.LogoEntry{
			Address:   strings.ToLower(address),
			URL:       url,
			Source:    "seed",
			UpdatedAt: time.Now(),
		}
		if err := logos.SaveLogo(ctx, entry); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
