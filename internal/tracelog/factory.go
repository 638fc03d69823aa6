package tracelog

import (
	"context"
	"errors"
	"fmt"

	"stratumai/internal/storage"
)

// Result holds the trace recorder and the storage it owns.
type Result struct {
	Recorder Recorder
	Storage  storage.Storage
}

// Close closes the recorder and then the storage. Safe to call more than once.
func (r *Result) Close() error {
	var errs []error
	if r.Recorder != nil {
		if err := r.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	return errors.Join(errs...)
}

// New opens storage and starts a Logger. When cfg.Enabled is false it
// returns a NoopLogger and opens nothing.
func New(ctx context.Context, cfg Config, storageCfg storage.Config) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Recorder: NoopLogger{}}, nil
	}

	conn, err := storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	store, err := NewStore(ctx, conn, cfg.RetentionDays)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Result{Recorder: NewLogger(store, cfg), Storage: conn}, nil
}

// NewStore creates the Store matching the storage backend.
func NewStore(ctx context.Context, conn storage.Storage, retentionDays int) (Store, error) {
	switch conn.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(conn.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, conn.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, conn.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}
