// Package config loads the service configuration from config.yaml, an
// optional .env file and environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig                 `yaml:"server"`
	Logging    LogConfig                    `yaml:"logging"`
	HTTP       HTTPConfig                   `yaml:"http"`
	Selection  SelectionConfig              `yaml:"selection"`
	Cache      CacheConfig                  `yaml:"cache"`
	Resilience ResilienceConfig             `yaml:"resilience"`
	Catalog    CatalogConfig                `yaml:"catalog"`
	Providers  map[string]RawProviderConfig `yaml:"providers"`
	Storage    StorageConfig                `yaml:"storage"`
	Tracing    TracingConfig                `yaml:"tracing"`
	Metrics    MetricsConfig                `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects every endpoint except health and metrics when set.
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit uses echo's size notation, e.g. "10M".
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "auto", "json" or "pretty". Auto picks pretty on a terminal.
	Format string `yaml:"format"`
}

// HTTPConfig holds outbound timeouts in seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// SelectionConfig sets the default strategy and the hybrid constants.
type SelectionConfig struct {
	Strategy string `yaml:"strategy"`
	// MaxAlternatives bounds how many ranked runners-up become fallback
	// models when no fallback is configured for a provider.
	MaxAlternatives    int     `yaml:"max_alternatives"`
	ReasoningBonus     float64 `yaml:"reasoning_bonus"`
	ReasoningThreshold float64 `yaml:"reasoning_threshold"`
	CostCeiling        float64 `yaml:"cost_ceiling"`
	LatencyCeilingMs   int     `yaml:"latency_ceiling_ms"`
}

// CacheConfig covers the result cache and the catalog snapshot cache.
type CacheConfig struct {
	Results ResultCacheConfig `yaml:"results"`

	// Type selects where catalog snapshots persist: "local" or "redis".
	Type  string      `yaml:"type"`
	Dir   string      `yaml:"dir"`
	Redis RedisConfig `yaml:"redis"`
}

// ResultCacheConfig configures the in-memory response cache.
type ResultCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// RedisConfig holds the redis snapshot cache settings.
type RedisConfig struct {
	URL string        `yaml:"url"`
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

// ResilienceConfig groups retry and circuit breaker settings.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig maps onto retry.Policy.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	Jitter         bool          `yaml:"jitter"`
}

// CircuitBreakerConfig configures the per-provider breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CatalogConfig says where backend descriptors come from. URL wins over
// Path; with neither the built-in catalog is used.
type CatalogConfig struct {
	Path            string        `yaml:"path"`
	URL             string        `yaml:"url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// RawProviderConfig is a provider entry as written in YAML, before env
// discovery and credential filtering.
type RawProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// FallbackModels are tried in order on this provider once retries are exhausted.
	FallbackModels []string `yaml:"fallback_models"`
	// FallbackProvider is tried when FallbackModels is empty.
	FallbackProvider string `yaml:"fallback_provider"`
}

// StorageConfig selects the trace database.
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// TracingConfig configures the dispatch trace log.
type TracingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoadResult is the loaded configuration plus where it came from.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was read, or "" when none was found.
	Path string
}

// ConfigPathEnv names a YAML file to load instead of the default search.
const ConfigPathEnv = "STRATUMAI_CONFIG"

var defaultConfigPaths = []string{"config.yaml", "config/config.yaml"}

// Load builds the configuration: defaults, then config.yaml with ${VAR}
// expansion, then environment overrides. A missing .env or config.yaml is
// not an error.
func Load() (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	path, raw, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

func readConfigFile() (string, []byte, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return path, raw, nil
	}
	for _, path := range defaultConfigPaths {
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return path, raw, nil
	}
	return "", nil, nil
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return buildDefaultConfig()
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		Logging: LogConfig{Level: "info", Format: "auto"},
		HTTP:    HTTPConfig{Timeout: 600, ResponseHeaderTimeout: 600},
		Selection: SelectionConfig{
			Strategy:           "hybrid",
			MaxAlternatives:    2,
			ReasoningBonus:     0.05,
			ReasoningThreshold: 0.6,
			CostCeiling:        0.05,
			LatencyCeilingMs:   10000,
		},
		Cache: CacheConfig{
			Results: ResultCacheConfig{Enabled: true, TTL: time.Hour, MaxSize: 1000},
			Type:    "local",
			Dir:     ".cache",
			Redis:   RedisConfig{Key: "stratumai:catalog", TTL: 24 * time.Hour},
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxRetries:     3,
				InitialBackoff: time.Second,
				MaxBackoff:     60 * time.Second,
				BackoffFactor:  2,
				Jitter:         true,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Catalog: CatalogConfig{
			RefreshInterval: 0,
			FetchTimeout:    30 * time.Second,
		},
		Providers: map[string]RawProviderConfig{},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/stratumai.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "stratumai"},
		},
		Tracing: TracingConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{Enabled: false, Endpoint: "/metrics"},
	}
}

// Validate rejects values that would fail later in less obvious ways.
func (c *Config) Validate() error {
	var errs []error
	switch c.Logging.Format {
	case "", "auto", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, json or pretty, got %q", c.Logging.Format))
	}
	switch c.Cache.Type {
	case "", "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type must be local or redis, got %q", c.Cache.Type))
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.URL == "" {
		errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
	}
	switch c.Storage.Type {
	case "", "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be sqlite, postgresql or mongodb, got %q", c.Storage.Type))
	}
	if c.Cache.Results.TTL < 0 || c.Cache.Results.MaxSize < 0 {
		errs = append(errs, errors.New("cache.results ttl and max_size must not be negative"))
	}
	if c.Selection.MaxAlternatives < 0 {
		errs = append(errs, errors.New("selection.max_alternatives must not be negative"))
	}
	if c.Catalog.RefreshInterval < 0 {
		errs = append(errs, errors.New("catalog.refresh_interval must not be negative"))
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		errs = append(errs, errors.New("http timeouts must not be negative"))
	}
	return errors.Join(errs...)
}
