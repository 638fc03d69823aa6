package tracelog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Recorder accepts trace entries. Implemented by Logger and NoopLogger.
type Recorder interface {
	Write(entry *Entry)
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// Logger queues entries on a channel and writes them in batches, either when
// BatchFlushThreshold entries are pending or every FlushInterval.
type Logger struct {
	store  Store
	config Config
	buffer chan *Entry
	done   chan struct{}
	wg     sync.WaitGroup
	writes sync.WaitGroup // in-flight Write calls
	closed atomic.Bool
	now    func() time.Time
}

// NewLogger starts the flush goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:  store,
		config: cfg,
		buffer: make(chan *Entry, cfg.BufferSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues entry without blocking. It assigns an ID and timestamp when
// missing. When the buffer is full or the logger is closed the entry is dropped.
func (l *Logger) Write(entry *Entry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add.
	if l.closed.Load() {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	select {
	case l.buffer <- entry:
	default:
		slog.Warn("trace log buffer full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
		)
	}
}

// Recent reads from the store. Entries still buffered are not included.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	return l.store.Recent(ctx, recentLimit(limit))
}

// Config returns the logger configuration.
func (l *Logger) Config() Config {
	return l.config
}

// Close drains the buffer, flushes the store and closes it. Idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.writes.Wait()
	close(l.done)
	l.wg.Wait()
	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			l.flushBatch(batch)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush trace store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write trace batch", "error", err, "count", len(batch))
	}
}

// NoopLogger discards entries. Used when tracing is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(*Entry) {}

func (NoopLogger) Recent(context.Context, int) ([]*Entry, error) { return nil, nil }

func (NoopLogger) Close() error { return nil }
