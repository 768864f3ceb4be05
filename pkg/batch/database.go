package batch

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/predatorx7/logcore/pkg/connmgr"
)

// PartialWriteError is returned by Database.InsertMany when the driver
// reports a bulk-write partial failure: some documents were written, some
// were rejected. FailedIndexes maps each rejected document's position in
// the submitted slice to the driver's error message for it.
type PartialWriteError struct {
	FailedIndexes map[int]string
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("batch: partial write failure on %d of the submitted documents", len(e.FailedIndexes))
}

// Database is the narrow surface the Batch Manager needs from the
// Connection Manager plus driver: a circuit-breaker check and an
// unordered bulk insert that classifies the two failure shapes the spec
// distinguishes (partial vs. whole-batch transient).
//
// Kept as an interface — the way the teacher abstracts storage.LogStore —
// so the flush algorithm can be tested without a live MongoDB.
type Database interface {
	IsCircuitOpen() bool
	InsertMany(ctx context.Context, collection string, docs []interface{}) error
}

// MongoDatabase implements Database against a live connmgr.Manager.
type MongoDatabase struct {
	conn *connmgr.Manager
}

// NewMongoDatabase wraps a Connection Manager as a batch.Database.
func NewMongoDatabase(conn *connmgr.Manager) *MongoDatabase {
	return &MongoDatabase{conn: conn}
}

func (m *MongoDatabase) IsCircuitOpen() bool {
	return m.conn.IsCircuitOpen()
}

func (m *MongoDatabase) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	handle, err := m.conn.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("batch: acquire: %w", err)
	}

	_, err = handle.Database.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		failed := make(map[int]string, len(bulkErr.WriteErrors))
		for _, we := range bulkErr.WriteErrors {
			failed[we.Index] = we.Message
		}
		if len(failed) > 0 {
			return &PartialWriteError{FailedIndexes: failed}
		}
	}

	return fmt.Errorf("batch: insert many into %s: %w", collection, err)
}
