package tracelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite binds at most 999 parameters per statement.
const (
	maxSQLiteParams      = 999
	columnsPerTraceEntry = 17
	maxEntriesPerBatch   = maxSQLiteParams / columnsPerTraceEntry
)

const (
	traceColumnsAfterID = `request_id, timestamp, strategy, complexity, provider, model,
	cache_hit, attempts, outcome, latency_ms, error_kind, error,
	input_tokens, output_tokens, estimated_cost, steps`
	traceColumns = "id, " + traceColumnsAfterID
)

// sqliteTimeLayout has a fixed-width fraction so text order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore stores entries in the dispatch_traces table.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the table and indexes when missing and starts the
// retention loop when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_traces (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			complexity REAL NOT NULL DEFAULT 0,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0,
			steps JSON
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(store.stopCleanup, store.cleanup)
	}
	return store, nil
}

// WriteBatch inserts entries in chunks that fit the parameter limit.
// Entries whose id already exists are skipped.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		chunk := entries[i:min(i+maxEntriesPerBatch, len(entries))]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerTraceEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			var steps any
			if raw := marshalSteps(e); raw != nil {
				steps = string(raw)
			}
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(sqliteTimeLayout),
				e.Strategy,
				e.Complexity,
				e.Provider,
				e.Model,
				e.CacheHit,
				e.Attempts,
				e.Outcome,
				e.LatencyMs,
				e.ErrorKind,
				e.Error,
				e.InputTokens,
				e.OutputTokens,
				e.EstimatedCost,
				steps,
			)
		}

		query := "INSERT OR IGNORE INTO dispatch_traces (" + traceColumns + ") VALUES " + strings.Join(placeholders, ",")
		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert trace batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}
	return nil
}

// Recent returns the newest entries first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+traceColumns+" FROM dispatch_traces ORDER BY timestamp DESC, id LIMIT ?", recentLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e     Entry
			ts    string
			steps sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.Strategy, &e.Complexity, &e.Provider, &e.Model,
			&e.CacheHit, &e.Attempts, &e.Outcome, &e.LatencyMs, &e.ErrorKind, &e.Error,
			&e.InputTokens, &e.OutputTokens, &e.EstimatedCost, &steps); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("trace %s has invalid timestamp %q: %w", e.ID, ts, err)
		}
		if steps.Valid && steps.String != "" {
			if err := json.Unmarshal([]byte(steps.String), &e.Steps); err != nil {
				slog.Warn("failed to decode trace steps", "error", err, "id", e.ID)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Flush is a no-op; writes are synchronous.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

// Close stops the retention loop. The database is owned by the storage layer.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(sqliteTimeLayout)

	result, err := s.db.Exec("DELETE FROM dispatch_traces WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to clean up old traces", "error", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		slog.Info("cleaned up old traces", "deleted", n)
	}
}

// marshalSteps returns nil when there are no steps or they cannot be encoded.
func marshalSteps(e *Entry) []byte {
	if len(e.Steps) == 0 {
		return nil
	}
	raw, err := json.Marshal(e.Steps)
	if err != nil {
		slog.Warn("failed to marshal trace steps", "error", err, "id", e.ID)
		return nil
	}
	return raw
}
