package tracelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore stores entries in the dispatch_traces table.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the table and indexes when missing.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_traces (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			attempts INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			steps JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_traces table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON dispatch_traces(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_traces_request_id ON dispatch_traces(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_traces_backend ON dispatch_traces(provider, model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(store.stopCleanup, store.cleanup)
	}
	return store, nil
}

// WriteBatch inserts all entries in one pgx batch inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO dispatch_traces (`+traceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.RequestID, e.Timestamp, e.Strategy, e.Complexity, e.Provider, e.Model,
			e.CacheHit, e.Attempts, e.Outcome, e.LatencyMs, e.ErrorKind, e.Error,
			e.InputTokens, e.OutputTokens, e.EstimatedCost, marshalSteps(e))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d traces: %w", len(entries), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *PostgreSQLStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id::text, "+traceColumnsAfterID+" FROM dispatch_traces ORDER BY timestamp DESC, id LIMIT $1", recentLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e     Entry
			steps []byte
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Strategy, &e.Complexity, &e.Provider, &e.Model,
			&e.CacheHit, &e.Attempts, &e.Outcome, &e.LatencyMs, &e.ErrorKind, &e.Error,
			&e.InputTokens, &e.OutputTokens, &e.EstimatedCost, &steps); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &e.Steps); err != nil {
				slog.Warn("failed to decode trace steps", "error", err, "id", e.ID)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Flush is a no-op; writes are synchronous.
func (s *PostgreSQLStore) Flush(context.Context) error { return nil }

// Close stops the retention loop. The pool is owned by the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.pool.Exec(ctx, "DELETE FROM dispatch_traces WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to clean up old traces", "error", err)
		return
	}
	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old traces", "deleted", result.RowsAffected())
	}
}
