// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Search    SearchConfig    `mapstructure:"search"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Vector    VectorConfig    `mapstructure:"vector"`
	AI        AIConfig        `mapstructure:"ai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RunnerConfig governs the ingestion worker pool.
type RunnerConfig struct {
	// Concurrency of 0 derives the pool size from CPU count.
	Concurrency         int    `mapstructure:"concurrency"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	BatchSize           int    `mapstructure:"batch_size"`
	VectorizeTopic      string `mapstructure:"vectorize_topic"`
}

// FetchConfig bounds the HTTP fetch stage.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBytes       int64  `mapstructure:"max_bytes"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ExtractConfig bounds the isolated extraction stage.
type ExtractConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RetryConfig tunes failure classification and backoff.
type RetryConfig struct {
	BaseDelaySeconds int  `mapstructure:"base_delay_seconds"`
	MaxDelayMinutes  int  `mapstructure:"max_delay_minutes"`
	MaxAttempts      int  `mapstructure:"max_attempts"`
	IncludeStack     bool `mapstructure:"include_stack"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	OverfetchMultiplier int     `mapstructure:"overfetch_multiplier"`
	DecayRate           float64 `mapstructure:"decay_rate"`
	DecayFloor          float64 `mapstructure:"decay_floor"`
	BoostFactor         float64 `mapstructure:"boost_factor"`
	WebBaseURL          string  `mapstructure:"web_base_url"`
	WebAPIKey           string  `mapstructure:"web_api_key"`
	WebTimeoutSeconds   int     `mapstructure:"web_timeout_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	// Backend is one of memory, local, gcs.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for the vectorize handoff topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// VectorConfig points at the SurrealDB similarity store. An empty URL selects
// the in-memory vector store.
type VectorConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Table     string `mapstructure:"table"`
}

// AIConfig selects the generative provider for the enrich stage.
type AIConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	ServerURL string `mapstructure:"server_url"`
	APIKey    string `mapstructure:"api_key"`
}

// EmbeddingConfig selects the embedding provider for search.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	ServerURL string `mapstructure:"server_url"`
	APIKey    string `mapstructure:"api_key"`
	Dimension int    `mapstructure:"dimension"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOREKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("runner.concurrency", 0)
	v.SetDefault("runner.poll_interval_seconds", 2)
	v.SetDefault("runner.batch_size", 16)
	v.SetDefault("runner.vectorize_topic", "lorekeep-vectorize")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_bytes", 10*1024*1024)
	v.SetDefault("fetch.user_agent", "lorekeep-bot/0.1")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("extract.timeout_seconds", 20)
	v.SetDefault("retry.base_delay_seconds", 5)
	v.SetDefault("retry.max_delay_minutes", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.include_stack", false)
	v.SetDefault("search.overfetch_multiplier", 3)
	v.SetDefault("search.decay_rate", 0.3)
	v.SetDefault("search.decay_floor", 0.05)
	v.SetDefault("search.boost_factor", 0.2)
	v.SetDefault("search.web_timeout_seconds", 10)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "objects")
	v.SetDefault("vector.namespace", "lorekeep")
	v.SetDefault("vector.database", "knowledge")
	v.SetDefault("vector.table", "memory_record")
	v.SetDefault("ai.provider", "ollama")
	v.SetDefault("ai.model", "llama3.1:8b")
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "all-minilm:l6-v2")
	v.SetDefault("embedding.dimension", 384)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Search.DecayFloor < 0 || c.Search.DecayFloor > 1 {
		return fmt.Errorf("search.decay_floor must be within [0, 1]")
	}
	return nil
}

// FetchTimeout converts the fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ExtractTimeout converts the extraction timeout to a duration.
func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Extract.TimeoutSeconds) * time.Second
}

// PollInterval converts the runner poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalSeconds) * time.Second
}

// RetryBaseDelay converts the retry base delay to a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelaySeconds) * time.Second
}

// RetryMaxDelay converts the retry delay ceiling to a duration.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMinutes) * time.Minute
}
