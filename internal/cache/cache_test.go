package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		tmpDir := t.TempDir()
		cacheFile := filepath.Join(tmpDir, "catalog.json")

		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		data := &CatalogSnapshot{
			Version:     1,
			UpdatedAt:   time.Now().UTC(),
			Source:      "file:catalog.yaml",
			Fingerprint: "00000000deadbeef",
			Backends:    json.RawMessage(`{"backends":[{"provider":"openai","model":"gpt-4o"}]}`),
		}

		if err := cache.Set(ctx, data); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		if result.Version != 1 {
			t.Errorf("expected version 1, got %d", result.Version)
		}
		if result.Fingerprint != "00000000deadbeef" {
			t.Errorf("fingerprint = %q", result.Fingerprint)
		}
		var doc struct {
			Backends []map[string]string `json:"backends"`
		}
		if err := json.Unmarshal(result.Backends, &doc); err != nil {
			t.Fatalf("backends not preserved: %v", err)
		}
		if len(doc.Backends) != 1 || doc.Backends[0]["model"] != "gpt-4o" {
			t.Errorf("unexpected backends payload: %s", result.Backends)
		}
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		tmpDir := t.TempDir()
		cacheFile := filepath.Join(tmpDir, "nested", "dir", "catalog.json")

		cache := NewLocalCache(cacheFile)
		if err := cache.Set(context.Background(), &CatalogSnapshot{Version: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(cacheFile); os.IsNotExist(err) {
			t.Fatal("snapshot file was not created")
		}
		if _, err := os.Stat(cacheFile + ".tmp"); !os.IsNotExist(err) {
			t.Fatal("temp file left behind")
		}
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatal("expected nil result for empty path")
		}

		if err := cache.Set(ctx, &CatalogSnapshot{Version: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("CloseIsNoOp", func(t *testing.T) {
		cache := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
		if err := cache.Close(); err != nil {
			t.Fatalf("unexpected error on close: %v", err)
		}
	})

	t.Run("IgnoresOtherLayouts", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalog.json")
		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		for _, snap := range []*CatalogSnapshot{
			{Version: SnapshotVersion + 1, Backends: json.RawMessage(`{"backends":[]}`)},
			{Version: SnapshotVersion},
		} {
			if err := cache.Set(ctx, snap); err != nil {
				t.Fatalf("unexpected error on set: %v", err)
			}
			result, err := cache.Get(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != nil {
				t.Fatalf("expected snapshot %+v to be ignored", snap)
			}
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalog.json")
		if err := os.WriteFile(cacheFile, []byte("not valid json"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		_, err := NewLocalCache(cacheFile).Get(context.Background())
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{URL: "not-a-redis-url"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisCacheWithClient_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	c := NewRedisCacheWithClient(client, "", 0)
	if c.key != DefaultRedisKey {
		t.Errorf("key = %q, want %q", c.key, DefaultRedisKey)
	}
	if c.ttl != DefaultRedisTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultRedisTTL)
	}

	c = NewRedisCacheWithClient(client, "custom", time.Minute)
	if c.key != "custom" || c.ttl != time.Minute {
		t.Errorf("got key=%q ttl=%v", c.key, c.ttl)
	}
}
