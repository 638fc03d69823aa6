// Package cache persists backend catalog snapshots between restarts.
// Supports both local (file) and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the only snapshot layout Get accepts.
const SnapshotVersion = 1

// CatalogSnapshot is the persisted form of a loaded backend catalog.
type CatalogSnapshot struct {
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Source      string    `json:"source"`
	Fingerprint string    `json:"fingerprint"`
	// Backends holds the raw catalog document so it can be re-parsed without
	// re-fetching from the configured source.
	Backends json.RawMessage `json:"backends"`
}

// Cache defines the interface for catalog snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the stored snapshot.
	// Returns nil, nil if no snapshot exists yet.
	Get(ctx context.Context) (*CatalogSnapshot, error)

	// Set stores the snapshot, replacing any previous one.
	Set(ctx context.Context, snapshot *CatalogSnapshot) error

	// Close releases any resources held by the cache.
	Close() error
}

// decodeSnapshot parses a stored snapshot. Snapshots written by another
// layout version are reported as absent so the loader falls back to the source.
func decodeSnapshot(data []byte) (*CatalogSnapshot, error) {
	var snapshot CatalogSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion || len(snapshot.Backends) == 0 {
		return nil, nil
	}
	return &snapshot, nil
}
