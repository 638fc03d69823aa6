// Package tracelog records one entry per dispatched request and stores them
// through a buffered asynchronous writer.
package tracelog

import (
	"context"
	"time"

	"stratumai/internal/retry"
)

// Store persists trace entries. Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes entries. Called by the Logger when flushing.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]*Entry, error)

	// Flush forces pending writes to complete.
	Flush(ctx context.Context) error

	// Close stops background work. It does not close the underlying database.
	Close() error
}

// Entry is the record of one dispatch.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	RequestID string    `json:"request_id" bson:"request_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Strategy   string  `json:"strategy,omitempty" bson:"strategy,omitempty"`
	Complexity float64 `json:"complexity" bson:"complexity"`
	Provider   string  `json:"provider" bson:"provider"`
	Model      string  `json:"model" bson:"model"`

	CacheHit  bool   `json:"cache_hit" bson:"cache_hit"`
	Attempts  int    `json:"attempts" bson:"attempts"`
	Outcome   string `json:"outcome" bson:"outcome"`
	LatencyMs int64  `json:"latency_ms" bson:"latency_ms"`

	ErrorKind string `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	Error     string `json:"error,omitempty" bson:"error,omitempty"`

	InputTokens   int     `json:"input_tokens" bson:"input_tokens"`
	OutputTokens  int     `json:"output_tokens" bson:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost" bson:"estimated_cost"`

	Steps []retry.Step `json:"steps,omitempty" bson:"steps,omitempty"`
}

// Config holds trace log settings.
type Config struct {
	Enabled bool

	// BufferSize is the capacity of the in-memory queue.
	BufferSize int

	FlushInterval time.Duration

	// RetentionDays is how long entries are kept (0 = forever).
	RetentionDays int
}

// DefaultConfig returns a disabled configuration with working defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

const (
	// BatchFlushThreshold triggers an immediate flush without waiting for the timer.
	BatchFlushThreshold = 100

	// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
	DefaultRecentLimit = 100
)

func recentLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultRecentLimit
	}
	return limit
}
