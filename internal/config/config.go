package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsechain-portfolio-api/pkg/logger"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    logger.Config    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MongoDBConfig holds the logo store connection. An empty URI selects the
// in-memory store.
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	LogoCollection string        `mapstructure:"logo_collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

// RedisConfig holds the progress sink connection. An empty address selects
// the in-memory sink.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`
}

// RPCConfig lists the PulseChain JSON-RPC endpoints, tried in order
type RPCConfig struct {
	Endpoints []string      `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig holds the upstream REST providers
type ProvidersConfig struct {
	Indexed IndexedConfig `mapstructure:"indexed"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Market  MarketConfig  `mapstructure:"market"`
}

// IndexedConfig configures the indexed balance/price provider. It is
// disabled without an API key.
type IndexedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Chain   string        `mapstructure:"chain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScanConfig configures the chain-scan provider
type ScanConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig configures the market-data provider
type MarketConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	ChainID string        `mapstructure:"chain_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds per-namespace TTLs
type CacheConfig struct {
	PriceTTL      time.Duration `mapstructure:"price_ttl"`
	BalanceTTL    time.Duration `mapstructure:"balance_ttl"`
	TxPageTTL     time.Duration `mapstructure:"tx_page_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MetadataSize  int           `mapstructure:"metadata_size"`
}

// BucketConfig describes one token bucket
type BucketConfig struct {
	Capacity   float64       `mapstructure:"capacity"`
	RefillRate float64       `mapstructure:"refill_rate"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
}

// RateLimitConfig holds the inbound per-client limit and the market-data bucket
type RateLimitConfig struct {
	Inbound         BucketConfig  `mapstructure:"inbound"`
	Market          BucketConfig  `mapstructure:"market"`
	ClientIdleTTL   time.Duration `mapstructure:"client_idle_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// BatchConfig holds price batching parameters
type BatchConfig struct {
	Size           int           `mapstructure:"size"`
	Delay          time.Duration `mapstructure:"delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// BatchEndpoint sends each batch through the providers' batch price
	// endpoints instead of one lookup per token.
	BatchEndpoint bool `mapstructure:"batch_endpoint"`
}

// AggregatorConfig holds wallet aggregation options
type AggregatorConfig struct {
	RescanImportant bool     `mapstructure:"rescan_important"`
	ImportantTokens []string `mapstructure:"important_tokens"`
	DefaultLimit    int      `mapstructure:"default_limit"`
	MaxLimit        int      `mapstructure:"max_limit"`
	HistoryLimit    int      `mapstructure:"history_limit"`
	MaxHistoryLimit int      `mapstructure:"max_history_limit"`
}

// ClassifierConfig holds the optional registry extension file
type ClassifierConfig struct {
	RegistryFile string `mapstructure:"registry_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", "pulsechain_portfolio")
	v.SetDefault("mongodb.logo_collection", "token_logos")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("mongodb.max_pool_size", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progress_ttl", 10*time.Minute)

	v.SetDefault("rpc.endpoints", []string{"https://rpc.pulsechain.com", "https://pulsechain-rpc.publicnode.com"})
	v.SetDefault("rpc.timeout", 10*time.Second)

	v.SetDefault("providers.indexed.base_url", "https://deep-index.moralis.io/api/v2.2")
	v.SetDefault("providers.indexed.api_key", "")
	v.SetDefault("providers.indexed.chain", "pulse")
	v.SetDefault("providers.indexed.timeout", 15*time.Second)
	v.SetDefault("providers.scan.base_url", "https://api.scan.pulsechain.com")
	v.SetDefault("providers.scan.api_key", "")
	v.SetDefault("providers.scan.timeout", 30*time.Second)
	v.SetDefault("providers.market.base_url", "https://api.dexscreener.com")
	v.SetDefault("providers.market.chain_id", "pulsechain")
	v.SetDefault("providers.market.timeout", 5*time.Second)

	v.SetDefault("cache.price_ttl", 5*time.Minute)
	v.SetDefault("cache.balance_ttl", 3*time.Minute)
	v.SetDefault("cache.tx_page_ttl", 10*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.metadata_size", 4096)

	v.SetDefault("rate_limit.inbound.capacity", 60)
	v.SetDefault("rate_limit.inbound.refill_rate", 1.0)
	v.SetDefault("rate_limit.inbound.cooldown", 0)
	v.SetDefault("rate_limit.market.capacity", 30)
	v.SetDefault("rate_limit.market.refill_rate", 0.5)
	v.SetDefault("rate_limit.market.cooldown", 60*time.Second)
	v.SetDefault("rate_limit.client_idle_ttl", 10*time.Minute)
	v.SetDefault("rate_limit.cleanup_interval", 5*time.Minute)

	v.SetDefault("batch.size", 15)
	v.SetDefault("batch.delay", 400*time.Millisecond)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("batch.batch_endpoint", true)

	v.SetDefault("aggregator.rescan_important", true)
	v.SetDefault("aggregator.important_tokens", []string{
		"0xa1077a294dde1b09bb078844df40758a5d0f9a27", // WPLS
		"0x95b303987a60c71504d99aa1b13b4da07bc0f2ab", // PLSX
		"0x2b591e99afe9f32eaa6214f7b7629768c40eeb39", // HEX
		"0x2fa878ab3f87cc1c9737fc071108f904c0b0c95d", // INC
	})
	v.SetDefault("aggregator.default_limit", 50)
	v.SetDefault("aggregator.max_limit", 500)
	v.SetDefault("aggregator.history_limit", 25)
	v.SetDefault("aggregator.max_history_limit", 100)

	v.SetDefault("classifier.registry_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "development")
	v.SetDefault("logging.output_paths", []string{"stdout"})
}

// Load reads configuration from defaults, an optional YAML file and the
// environment. Environment keys use "_" for nesting, e.g. SERVER_PORT or
// PROVIDERS_INDEXED_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if len(c.RPC.Endpoints) == 0 {
		errs = append(errs, errors.New("rpc.endpoints must not be empty"))
	}
	if c.Batch.Size <= 0 {
		errs = append(errs, errors.New("batch.size must be positive"))
	}
	if c.Batch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("batch.max_attempts must be positive"))
	}
	if c.RateLimit.Market.Capacity < 1 {
		errs = append(errs, errors.New("rate_limit.market.capacity must be at least 1"))
	}
	if c.Cache.PriceTTL <= 0 || c.Cache.BalanceTTL <= 0 || c.Cache.TxPageTTL <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Aggregator.MaxLimit < c.Aggregator.DefaultLimit {
		errs = append(errs, errors.New("aggregator.max_limit must not be below default_limit"))
	}
	return errors.Join(errs...)
}

// IndexedEnabled reports whether the indexed provider has credentials
func (c *Config) IndexedEnabled() bool {
	return c.Providers.Indexed.APIKey != ""
}
