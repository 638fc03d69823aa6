package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the key the catalog snapshot is stored under.
	DefaultRedisKey = "stratumai:catalog"

	// DefaultRedisTTL expires snapshots that stop being refreshed.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Key overrides DefaultRedisKey.
	Key string

	// TTL overrides DefaultRedisTTL.
	TTL time.Duration
}

// RedisCache implements Cache on a shared Redis key so every instance
// behind a load balancer starts from the same catalog.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := NewRedisCacheWithClient(client, cfg.Key, cfg.TTL)
	slog.Info("redis snapshot cache connected", "key", c.key, "ttl", c.ttl)
	return c, nil
}

// NewRedisCacheWithClient wraps an existing client. Empty key and zero ttl
// fall back to the defaults.
func NewRedisCacheWithClient(client *redis.Client, key string, ttl time.Duration) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisCache{client: client, key: key, ttl: ttl}
}

// Get retrieves the snapshot from Redis.
func (c *RedisCache) Get(ctx context.Context) (*CatalogSnapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	return decodeSnapshot(data)
}

// Set stores the snapshot in Redis with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, snapshot *CatalogSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
