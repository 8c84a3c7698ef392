// Package config provides centralized configuration management for ImpactWatch binaries.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the master configuration for the pipeline service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`

	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Assembler AssemblerConfig `mapstructure:"assembler"`
	DeepDive  DeepDiveConfig  `mapstructure:"deepdive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DLQ       DLQConfig       `mapstructure:"dlq"`

	Watches []WatchConfig `mapstructure:"watches"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects and configures the Store backend.
type DatabaseConfig struct {
	// Type is one of "memory", "postgres", "sqlite".
	Type           string         `mapstructure:"type"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
	SQLite         SQLiteConfig   `mapstructure:"sqlite"`
	MigrationsPath string         `mapstructure:"migrations_path"`
	// Per-call timeouts for the SQL stores.
	QueryTimeout   time.Duration  `mapstructure:"query_timeout"`
	WriteTimeout   time.Duration  `mapstructure:"write_timeout"`
	BulkTimeout    time.Duration  `mapstructure:"bulk_timeout"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConnString renders the settings as a postgres:// URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// SQLiteConfig holds the single-node SQLite store location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// NATSConfig holds NATS message broker configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	// SigningKey enables HMAC signatures on card events when set.
	SigningKey string `mapstructure:"signing_key"`
}

// OpenSearchConfig holds OpenSearch connection settings for the signal and card index.
type OpenSearchConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	TLSSkipVerify bool          `mapstructure:"tls_skip_verify"`
	IndexPrefix   string        `mapstructure:"index_prefix"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// GatewayConfig configures caching, breaking and retrying in front of providers.
type GatewayConfig struct {
	Breaker BreakerConfig `mapstructure:"breaker"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Classes ClassesConfig `mapstructure:"classes"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes"`
}

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CacheConfig configures the two-tier response cache.
type CacheConfig struct {
	// MaxStale is how long past its TTL an entry may still be served as degraded.
	MaxStale     time.Duration `mapstructure:"max_stale"`
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	Redis        bool          `mapstructure:"redis"`
}

// ClassesConfig holds per-provider-class settings.
type ClassesConfig struct {
	News         ClassConfig `mapstructure:"news"`
	Search       ClassConfig `mapstructure:"search"`
	Extraction   ClassConfig `mapstructure:"extraction"`
	DeepResearch ClassConfig `mapstructure:"deep_research"`
}

// ClassConfig holds cache TTL, call timeout and backpressure for one provider class.
type ClassConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	MaxInFlight   int64         `mapstructure:"max_in_flight"`
}

// ProvidersConfig configures the concrete upstream adapters.
type ProvidersConfig struct {
	UserAgent    string               `mapstructure:"user_agent"`
	News         NewsProviderConfig   `mapstructure:"news"`
	Search       SearchProviderConfig `mapstructure:"search"`
	Extraction   ExtractionConfig     `mapstructure:"extraction"`
	DeepResearch DeepResearchConfig   `mapstructure:"deep_research"`
}

// NewsProviderConfig selects the breaking-news source.
type NewsProviderConfig struct {
	// Type is "rss" or "newsapi".
	Type     string `mapstructure:"type"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	Language string `mapstructure:"language"`
	PageSize int    `mapstructure:"page_size"`
}

// SearchProviderConfig configures the enrichment web search.
type SearchProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Count   int    `mapstructure:"count"`
}

// ExtractionConfig selects the extraction provider.
type ExtractionConfig struct {
	// Type is "gemini" or "http".
	Type   string `mapstructure:"type"`
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
}

// DeepResearchConfig configures the deep-research provider.
type DeepResearchConfig struct {
	URL          string `mapstructure:"url"`
	APIKey       string `mapstructure:"api_key"`
	SourceTarget int    `mapstructure:"source_target"`
}

// PipelineConfig holds normalization and dedup settings plus reference data locations.
type PipelineConfig struct {
	DedupWindow         time.Duration `mapstructure:"dedup_window"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	StalenessHorizon    time.Duration `mapstructure:"staleness_horizon"`
	PublisherTable      string        `mapstructure:"publisher_table"`
	RuleTable           string        `mapstructure:"rule_table"`
	WatchReferenceData  bool          `mapstructure:"watch_reference_data"`
	// SeenFilter is "memory" or "redis".
	SeenFilter string `mapstructure:"seen_filter"`
}

// ScoringConfig holds credibility and confidence parameters.
type ScoringConfig struct {
	UnknownCredibility  float64        `mapstructure:"unknown_credibility"`
	FreshAge            time.Duration  `mapstructure:"fresh_age"`
	FreshPenalty        float64        `mapstructure:"fresh_penalty"`
	BreakingPenalty     float64        `mapstructure:"breaking_penalty"`
	CorroborationTarget int            `mapstructure:"corroboration_target"`
	RecencyDecay        float64        `mapstructure:"recency_decay"`
	Weights             ConfidenceMult `mapstructure:"weights"`
}

// ConfidenceMult weights the four confidence components.
type ConfidenceMult struct {
	Credibility   float64 `mapstructure:"credibility"`
	Corroboration float64 `mapstructure:"corroboration"`
	Extraction    float64 `mapstructure:"extraction"`
	Recency       float64 `mapstructure:"recency"`
}

// RiskConfig holds the per-axis risk weights.
type RiskConfig struct {
	Weights AxisWeights `mapstructure:"weights"`
}

// AxisWeights weights each impact axis.
type AxisWeights struct {
	Market     float64 `mapstructure:"market"`
	Product    float64 `mapstructure:"product"`
	Pricing    float64 `mapstructure:"pricing"`
	Regulatory float64 `mapstructure:"regulatory"`
	Brand      float64 `mapstructure:"brand"`
}

// AssemblerConfig holds impact card assembly settings.
type AssemblerConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// DeepDiveConfig configures deep-dive job execution.
type DeepDiveConfig struct {
	// Backend is "local" (in-process workers) or "nats" (JetStream work queue).
	Backend string `mapstructure:"backend"`
	Workers int    `mapstructure:"workers"`
	// JobStore is "memory" or "redis".
	JobStore string        `mapstructure:"job_store"`
	JobTTL   time.Duration `mapstructure:"job_ttl"`
}

// SchedulerConfig configures periodic watch processing.
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// DLQConfig configures the rejected-signal dead letter queue.
type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BasePath string `mapstructure:"base_path"`
}

// WatchConfig declares a monitored entity.
type WatchConfig struct {
	ID       string   `mapstructure:"id"`
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
	Sector   string   `mapstructure:"sector"`
}

// Watch returns the configured watch with the given ID.
func (c *Config) Watch(id string) (WatchConfig, bool) {
	for _, w := range c.Watches {
		if w.ID == id {
			return w, true
		}
	}
	return WatchConfig{}, false
}

// Load reads configuration from path, or from $IMPACTWATCH_CONFIG_DIR/config.yaml
// when path is empty, then applies IMPACTWATCH_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		configDir := os.Getenv("IMPACTWATCH_CONFIG_DIR")
		if configDir == "" {
			configDir = "/etc/impactwatch"
		}
		path = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("IMPACTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Type {
	case "memory", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.type %q must be memory, postgres or sqlite", c.Database.Type))
	}
	if t := c.Pipeline.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.similarity_threshold %v must be in (0,1]", t))
	}
	if c.Pipeline.DedupWindow <= 0 {
		errs = append(errs, errors.New("pipeline.dedup_window must be positive"))
	}
	if c.Assembler.Window <= 0 {
		errs = append(errs, errors.New("assembler.window must be positive"))
	}
	if c.Gateway.Breaker.FailureThreshold < 1 || c.Gateway.Breaker.HalfOpenProbes < 1 {
		errs = append(errs, errors.New("gateway.breaker thresholds must be at least 1"))
	}
	if c.Gateway.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("gateway.retry.max_attempts must be at least 1"))
	}

	w := c.Risk.Weights
	if sum := w.Market + w.Product + w.Pricing + w.Regulatory + w.Brand; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("risk.weights must sum to 1, got %v", sum))
	}
	cw := c.Scoring.Weights
	if sum := cw.Credibility + cw.Corroboration + cw.Extraction + cw.Recency; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("scoring.weights must sum to 1, got %v", sum))
	}

	seen := make(map[string]bool, len(c.Watches))
	for _, watch := range c.Watches {
		if watch.ID == "" {
			errs = append(errs, errors.New("watches: id is required"))
			continue
		}
		if seen[watch.ID] {
			errs = append(errs, fmt.Errorf("watches: duplicate id %q", watch.ID))
		}
		seen[watch.ID] = true
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.type", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "impactwatch")
	v.SetDefault("database.postgres.user", "impactwatch")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("database.sqlite.path", "/var/lib/impactwatch/impactwatch.db")
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.query_timeout", "5s")
	v.SetDefault("database.write_timeout", "10s")
	v.SetDefault("database.bulk_timeout", "30s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "impactwatch:")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.signing_key", "")

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "impactwatch")
	v.SetDefault("opensearch.flush_interval", "5s")

	v.SetDefault("gateway.breaker.failure_threshold", 5)
	v.SetDefault("gateway.breaker.failure_window", "1m")
	v.SetDefault("gateway.breaker.cooldown", "30s")
	v.SetDefault("gateway.breaker.half_open_probes", 1)
	v.SetDefault("gateway.retry.max_attempts", 3)
	v.SetDefault("gateway.retry.base_delay", "250ms")
	v.SetDefault("gateway.retry.max_delay", "5s")
	v.SetDefault("gateway.cache.max_stale", "168h")
	v.SetDefault("gateway.cache.l1_max_entries", 10000)
	v.SetDefault("gateway.cache.redis", false)

	v.SetDefault("gateway.classes.news.ttl", "15m")
	v.SetDefault("gateway.classes.news.timeout", "10s")
	v.SetDefault("gateway.classes.news.rate_per_second", 2)
	v.SetDefault("gateway.classes.news.burst", 4)
	v.SetDefault("gateway.classes.news.max_in_flight", 4)
	v.SetDefault("gateway.classes.search.ttl", "60m")
	v.SetDefault("gateway.classes.search.timeout", "10s")
	v.SetDefault("gateway.classes.search.rate_per_second", 1)
	v.SetDefault("gateway.classes.search.burst", 2)
	v.SetDefault("gateway.classes.search.max_in_flight", 2)
	v.SetDefault("gateway.classes.extraction.ttl", "24h")
	v.SetDefault("gateway.classes.extraction.timeout", "30s")
	v.SetDefault("gateway.classes.extraction.rate_per_second", 1)
	v.SetDefault("gateway.classes.extraction.burst", 2)
	v.SetDefault("gateway.classes.extraction.max_in_flight", 4)
	v.SetDefault("gateway.classes.deep_research.ttl", "168h")
	v.SetDefault("gateway.classes.deep_research.timeout", "5m")
	v.SetDefault("gateway.classes.deep_research.rate_per_second", 0.2)
	v.SetDefault("gateway.classes.deep_research.burst", 1)
	v.SetDefault("gateway.classes.deep_research.max_in_flight", 2)

	v.SetDefault("providers.user_agent", "impactwatch/1.0")
	v.SetDefault("providers.news.type", "rss")
	v.SetDefault("providers.news.url", "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en")
	v.SetDefault("providers.news.language", "en")
	v.SetDefault("providers.news.page_size", 50)
	v.SetDefault("providers.search.enabled", false)
	v.SetDefault("providers.search.count", 10)
	v.SetDefault("providers.extraction.type", "gemini")
	v.SetDefault("providers.extraction.model", "gemini-2.5-flash")
	v.SetDefault("providers.deep_research.source_target", 20)

	v.SetDefault("pipeline.dedup_window", "24h")
	v.SetDefault("pipeline.similarity_threshold", 0.85)
	v.SetDefault("pipeline.staleness_horizon", "168h")
	v.SetDefault("pipeline.publisher_table", "/etc/impactwatch/publishers.yaml")
	v.SetDefault("pipeline.rule_table", "/etc/impactwatch/rules.yaml")
	v.SetDefault("pipeline.watch_reference_data", true)
	v.SetDefault("pipeline.seen_filter", "memory")

	v.SetDefault("scoring.unknown_credibility", 0.3)
	v.SetDefault("scoring.fresh_age", "2h")
	v.SetDefault("scoring.fresh_penalty", 0.85)
	v.SetDefault("scoring.breaking_penalty", 0.9)
	v.SetDefault("scoring.corroboration_target", 3)
	v.SetDefault("scoring.recency_decay", 0.01)
	v.SetDefault("scoring.weights.credibility", 0.4)
	v.SetDefault("scoring.weights.corroboration", 0.3)
	v.SetDefault("scoring.weights.extraction", 0.2)
	v.SetDefault("scoring.weights.recency", 0.1)

	v.SetDefault("risk.weights.market", 0.3)
	v.SetDefault("risk.weights.product", 0.3)
	v.SetDefault("risk.weights.pricing", 0.2)
	v.SetDefault("risk.weights.regulatory", 0.1)
	v.SetDefault("risk.weights.brand", 0.1)

	v.SetDefault("assembler.window", "10m")

	v.SetDefault("deepdive.backend", "local")
	v.SetDefault("deepdive.workers", 2)
	v.SetDefault("deepdive.job_store", "memory")
	v.SetDefault("deepdive.job_ttl", "168h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.retry_delay", "5m")

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.base_path", "/var/lib/impactwatch/dlq")
}
