package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsechain-portfolio-api/internal/classifier"
	"pulsechain-portfolio-api/internal/config"
	"pulsechain-portfolio-api/internal/handlers"
	"pulsechain-portfolio-api/internal/middleware"
	"pulsechain-portfolio-api/internal/providers"
	"pulsechain-portfolio-api/internal/retry"
	"pulsechain-portfolio-api/internal/services"
	"pulsechain-portfolio-api/internal/store"
	"pulsechain-portfolio-api/pkg/cache"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"
	"pulsechain-portfolio-api/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Server represents the main application server
type Server struct {
	httpServer    *http.Server
	config        *config.Config
	metrics       *metrics.MetricsCollector
	rpcPool       *providers.RPCPool
	mongoClient   *mongo.Client
	redisClient   redis.UniversalClient
	janitor       *cache.Janitor
	clientLimiter *ratelimiter.ClientLimiter
	router        *handlers.Router
	stopCh        chan struct{}
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	log.Info("Starting PulseChain portfolio API server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.Int("rpc_endpoints", len(cfg.RPC.Endpoints)),
		zap.Bool("indexed_provider", cfg.IndexedEnabled()),
		zap.Bool("mongodb_logo_store", cfg.MongoDB.URI != ""),
		zap.Bool("redis_progress_sink", cfg.Redis.Addr != ""),
		zap.Duration("price_ttl", cfg.Cache.PriceTTL),
		zap.Duration("balance_ttl", cfg.Cache.BalanceTTL),
		zap.Int("batch_size", cfg.Batch.Size),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("environment", cfg.Logging.Environment),
	)

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	log.Info("Initializing server components")

	s := &Server{
		config:  cfg,
		metrics: metrics.NewMetricsCollector(),
		stopCh:  make(chan struct{}),
	}

	log.Debug("Initializing RPC pool")
	var chain providers.ChainReader
	if len(cfg.RPC.Endpoints) > 0 {
		pool, err := providers.NewRPCPool(cfg.RPC.Endpoints, cfg.RPC.Timeout, s.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rpc pool: %w", err)
		}
		s.rpcPool = pool
		chain = pool
	} else {
		log.Warn("No RPC endpoints configured, native balances and metadata reads are disabled")
	}

	metadata, err := providers.NewMetadataResolver(chain, cfg.Cache.MetadataSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata resolver: %w", err)
	}

	gateway := providers.NewGateway(buildSources(cfg, chain, s.metrics), metadata, upstreamPolicy(cfg))

	log.Debug("Loading classifier registry", zap.String("file", cfg.Classifier.RegistryFile))
	registry, err := classifier.LoadRegistry(cfg.Classifier.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier registry: %w", err)
	}
	txClassifier := classifier.New(registry, gateway)

	logos, logoPinger, err := s.openLogoStore(ctx)
	if err != nil {
		return nil, err
	}
	progress, progressPinger, err := s.openProgressSink(ctx)
	if err != nil {
		return nil, err
	}

	caches := services.NewCaches(cfg.Cache)
	s.janitor = cache.NewJanitor(cfg.Cache.SweepInterval, caches.All()...)
	s.janitor.OnSweep(func(name string, removed int) {
		if removed > 0 {
			log.Debug("Swept expired cache entries", zap.String("namespace", name), zap.Int("removed", removed))
		}
	})

	scheduler := services.NewBatchScheduler(gateway, caches.Prices, s.metrics, services.BatchOptions{
		Size:          cfg.Batch.Size,
		Delay:         cfg.Batch.Delay,
		BatchEndpoint: cfg.Batch.BatchEndpoint,
		Policy:        upstreamPolicy(cfg),
	})
	aggregator := services.NewBalanceAggregator(gateway, scheduler, caches, logos, progress, s.metrics,
		services.AggregatorOptions{
			RescanImportant: cfg.Aggregator.RescanImportant,
			ImportantTokens: cfg.Aggregator.ImportantTokens,
			DefaultLimit:    cfg.Aggregator.DefaultLimit,
			MaxLimit:        cfg.Aggregator.MaxLimit,
		})
	history := services.NewHistoryService(gateway, txClassifier, caches, s.metrics, services.HistoryOptions{
		DefaultLimit: cfg.Aggregator.HistoryLimit,
		MaxLimit:     cfg.Aggregator.MaxHistoryLimit,
	})
	prices := services.NewPriceService(gateway, scheduler, caches, s.metrics)
	portfolio := services.NewPortfolioService(aggregator, history, prices, caches)

	var blockReader services.BlockReader
	if chain != nil {
		blockReader = chain
	}
	checker := services.NewHealthChecker(blockReader, logoPinger, progressPinger)

	s.clientLimiter = ratelimiter.NewClientLimiter(ratelimiter.Config{
		Capacity:   cfg.RateLimit.Inbound.Capacity,
		RefillRate: cfg.RateLimit.Inbound.RefillRate,
		Cooldown:   cfg.RateLimit.Inbound.Cooldown,
	}, cfg.RateLimit.ClientIdleTTL)

	s.router = handlers.NewRouter(portfolio, handlers.NewHealthHandler(checker), s.metrics)

	log.Info("Server components initialized successfully")
	return s, nil
}

// buildSources orders the upstreams: indexed first when it has a key, then
// the chain-scan explorer, with the market provider for prices and direct
// RPC for native balances.
func buildSources(cfg *config.Config, chain providers.ChainReader, recorder providers.Recorder) providers.Sources {
	opts := []providers.Option{providers.WithRecorder(recorder)}

	scan := providers.NewScanProvider(providers.ScanConfig{
		BaseURL: cfg.Providers.Scan.BaseURL,
		APIKey:  cfg.Providers.Scan.APIKey,
		Timeout: cfg.Providers.Scan.Timeout,
	}, opts...)

	marketLimiter := ratelimiter.New(ratelimiter.Config{
		Capacity:   cfg.RateLimit.Market.Capacity,
		RefillRate: cfg.RateLimit.Market.RefillRate,
		Cooldown:   cfg.RateLimit.Market.Cooldown,
	})
	market := providers.NewMarketProvider(providers.MarketConfig{
		BaseURL: cfg.Providers.Market.BaseURL,
		ChainID: cfg.Providers.Market.ChainID,
		Timeout: cfg.Providers.Market.Timeout,
	}, marketLimiter, opts...)

	sources := providers.Sources{Chain: chain}

	if cfg.IndexedEnabled() {
		indexed := providers.NewIndexedProvider(providers.IndexedConfig{
			BaseURL: cfg.Providers.Indexed.BaseURL,
			APIKey:  cfg.Providers.Indexed.APIKey,
			Chain:   cfg.Providers.Indexed.Chain,
			Timeout: cfg.Providers.Indexed.Timeout,
		}, opts...)
		sources.Balances = append(sources.Balances, indexed)
		sources.Prices = append(sources.Prices, indexed)
		sources.History = append(sources.History, indexed)
	}

	sources.Balances = append(sources.Balances, scan)
	sources.Prices = append(sources.Prices, market)
	sources.History = append(sources.History, scan)

	if chain != nil {
		sources.Native = append(sources.Native, chain)
	}
	sources.Native = append(sources.Native, scan)
	return sources
}

func upstreamPolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy(cfg.Batch.RetryBaseDelay)
	policy.MaxAttempts = cfg.Batch.MaxAttempts
	return policy
}

// openLogoStore connects to MongoDB when configured, otherwise logos live in memory
func (s *Server) openLogoStore(ctx context.Context) (store.LogoStore, services.Pinger, error) {
	log := logger.GetLogger()

	if s.config.MongoDB.URI == "" {
		log.Info("Using in-memory logo store")
		return store.NewMemoryLogoStore(), nil, nil
	}

	client, err := store.Connect(ctx, &s.config.MongoDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect logo store: %w", err)
	}
	s.mongoClient = client

	logos := store.NewMongoLogoStore(client, &s.config.MongoDB)
	if err := logos.EnsureIndexes(ctx); err != nil {
		log.Warn("Failed to ensure logo indexes", zap.Error(err))
	}
	log.Info("Connected to MongoDB logo store", zap.String("database", s.config.MongoDB.Database))
	return logos, logos, nil
}

// openProgressSink connects to Redis when configured, otherwise progress lives in memory
func (s *Server) openProgressSink(ctx context.Context) (store.ProgressSink, services.Pinger, error) {
	log := logger.GetLogger()

	if s.config.Redis.Addr == "" {
		log.Info("Using in-memory progress sink")
		return store.NewMemoryProgressSink(s.config.Redis.ProgressTTL), nil, nil
	}

	client, err := store.NewRedisClient(ctx, &s.config.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect progress sink: %w", err)
	}
	s.redisClient = client

	sink := store.NewRedisProgressSink(client, s.config.Redis.ProgressTTL)
	log.Info("Connected to Redis progress sink", zap.String("addr", s.config.Redis.Addr))
	return sink, sink, nil
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:           s.newEngine(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
		zap.Duration("idle_timeout", s.config.Server.IdleTimeout),
	)

	s.startBackgroundRoutines()

	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	s.setupMiddleware(engine)
	s.setupRoutes(engine)
	return engine
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware(engine *gin.Engine) {
	engine.Use(logger.RecoveryMiddleware())
	engine.Use(logger.LoggingMiddleware())
	engine.Use(middleware.TimingMiddleware())
	engine.Use(middleware.ConcurrencyMiddleware(s.metrics))
	engine.Use(middleware.MetricsMiddleware(s.metrics))
	engine.Use(s.corsMiddleware())
}

// setupRoutes configures all application routes
func (s *Server) setupRoutes(engine *gin.Engine) {
	s.router.SetupHealthRoutes(engine)
	s.router.SetupMetricsRoutes(engine)
	s.router.SetupRoutes(engine, s.clientLimiter.Middleware())
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// startBackgroundRoutines starts the cache janitor and rate limiter cleanup
func (s *Server) startBackgroundRoutines() {
	log := logger.GetLogger()

	s.janitor.Start()

	go func() {
		ticker := time.NewTicker(s.config.RateLimit.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := s.clientLimiter.Cleanup(); removed > 0 {
					log.Debug("Dropped idle client buckets", zap.Int("removed", removed))
				}
			case <-s.stopCh:
				return
			}
		}
	}()

	log.Info("Background routines started",
		zap.Duration("cache_sweep_interval", s.config.Cache.SweepInterval),
		zap.Duration("rate_limit_cleanup_interval", s.config.RateLimit.CleanupInterval),
	)
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", zap.Duration("timeout", s.config.Server.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.cleanup(ctx)

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup releases every background routine and connection
func (s *Server) cleanup(ctx context.Context) {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	close(s.stopCh)
	if s.janitor != nil {
		s.janitor.Stop()
	}

	if s.rpcPool != nil {
		s.rpcPool.Close()
	}

	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			log.Error("Error closing MongoDB client", zap.Error(err))
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if err := logger.GetLogger().Sync(); err != nil {
		fmt.Printf("Error syncing logger: %v\n", err)
	}

	log.Info("Cleanup completed")
}
