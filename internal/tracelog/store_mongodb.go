package tracelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite is the sentinel behind PartialWriteError.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports an InsertMany where some documents failed.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial trace insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

var tracePartialWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stratumai_trace_partial_write_failures_total",
	Help: "Partial failures when inserting dispatch traces into MongoDB",
})

// MongoDBStore stores entries in the dispatch_traces collection. Retention
// is delegated to a TTL index.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates indexes when missing.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	collection := database.Collection("dispatch_traces")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	timestampIndex := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		timestampIndex.Options = options.Index().SetExpireAfterSeconds(int32(int64(retentionDays) * 24 * 60 * 60))
	}
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "model", Value: 1}}},
		timestampIndex,
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for traces", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch inserts entries unordered so one bad document does not stop the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		failed := len(bulkErr.WriteErrors)
		slog.Warn("partial trace insert failure",
			"total", len(entries),
			"failed", failed,
			"succeeded", len(entries)-failed,
		)
		tracePartialWriteFailures.Inc()
		return &PartialWriteError{TotalEntries: len(entries), FailedCount: failed, Cause: bulkErr}
	}
	return fmt.Errorf("failed to insert traces: %w", err)
}

// Recent returns the newest entries first.
func (s *MongoDBStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(recentLimit(limit)))
	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Entry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode traces: %w", err)
	}
	for _, e := range out {
		e.Timestamp = e.Timestamp.UTC()
	}
	return out, nil
}

// Flush is a no-op; writes are synchronous.
func (s *MongoDBStore) Flush(context.Context) error { return nil }

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error { return nil }
