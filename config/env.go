package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default} placeholders. A variable
// that is unset or empty takes its default when one is given; without a
// default the placeholder is left in place so later filtering can detect it.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

// applyEnvOverrides copies set environment variables over cfg.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	str("PORT", &cfg.Server.Port)
	str("STRATUMAI_MASTER_KEY", &cfg.Server.MasterKey)
	str("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	integer("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	integer("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	str("SELECTION_STRATEGY", &cfg.Selection.Strategy)
	integer("SELECTION_MAX_ALTERNATIVES", &cfg.Selection.MaxAlternatives)

	boolean("RESULT_CACHE_ENABLED", &cfg.Cache.Results.Enabled)
	duration("RESULT_CACHE_TTL", &cfg.Cache.Results.TTL)
	integer("RESULT_CACHE_MAX_SIZE", &cfg.Cache.Results.MaxSize)
	str("CACHE_TYPE", &cfg.Cache.Type)
	str("CACHE_DIR", &cfg.Cache.Dir)
	str("REDIS_URL", &cfg.Cache.Redis.URL)
	str("REDIS_KEY", &cfg.Cache.Redis.Key)
	duration("REDIS_TTL", &cfg.Cache.Redis.TTL)

	integer("RETRY_MAX_RETRIES", &cfg.Resilience.Retry.MaxRetries)
	duration("RETRY_INITIAL_BACKOFF", &cfg.Resilience.Retry.InitialBackoff)
	duration("RETRY_MAX_BACKOFF", &cfg.Resilience.Retry.MaxBackoff)
	boolean("RETRY_JITTER", &cfg.Resilience.Retry.Jitter)

	str("CATALOG_PATH", &cfg.Catalog.Path)
	str("CATALOG_URL", &cfg.Catalog.URL)
	duration("CATALOG_REFRESH_INTERVAL", &cfg.Catalog.RefreshInterval)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	integer("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	str("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	str("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	integer("TRACING_BUFFER_SIZE", &cfg.Tracing.BufferSize)
	duration("TRACING_FLUSH_INTERVAL", &cfg.Tracing.FlushInterval)
	integer("TRACING_RETENTION_DAYS", &cfg.Tracing.RetentionDays)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
