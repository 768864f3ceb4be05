// Package batch implements the Batch Manager (C2): a per-collection,
// bounded, time-and-size-triggered staging area with at-most-one
// concurrent flush per collection, retry on transient failure, and a
// dead-letter path for permanent per-record failures.
//
// Transient failures are retried without a cap: the failed entries are put
// back at the front of their collection's batch and go out with the next
// size-triggered or periodic flush, with no backoff delay. While the
// circuit breaker is open, flushes are skipped and entries stay staged.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/predatorx7/logcore/pkg/model"
)

// Metrics is a point-in-time snapshot of the Batch Manager's counters.
type Metrics struct {
	TotalEntriesProcessed uint64
	TotalBatchesFlushed   uint64
	TotalFlushFailures    uint64
	TotalRetries          uint64
	AverageBatchSize      float64
	LastFlushTime         time.Time
	CurrentMemoryUsage    int64
	CollectionsActive     int
}

// Manager is the Batch Manager (C2).
type Manager struct {
	cfg Config
	db  Database
	log zerolog.Logger

	mu          sync.RWMutex
	collections map[string]*collectionBatch

	currentMemory int64 // atomic, sum of every collectionBatch.memorySize

	totalEntries  atomic.Uint64
	totalFlushed  atomic.Uint64
	totalFailures atomic.Uint64
	totalRetries  atomic.Uint64
	lastFlushUnix atomic.Int64

	shuttingDown atomic.Bool
	stopTimer    chan struct{}
	timerDone    chan struct{}
}

// New constructs a Batch Manager and starts its periodic-flush timer.
func New(cfg Config, db Database, log zerolog.Logger) *Manager {
	cfg = cfg.WithDefaults()
	m := &Manager{
		cfg:         cfg,
		db:          db,
		log:         log.With().Str("component", "batch").Logger(),
		collections: make(map[string]*collectionBatch),
		stopTimer:   make(chan struct{}),
		timerDone:   make(chan struct{}),
	}
	go m.runTimer()
	return m
}

func (m *Manager) getOrCreate(name string) *collectionBatch {
	m.mu.RLock()
	cb, ok := m.collections[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.collections[name]; ok {
		return cb
	}
	cb = newCollectionBatch(name)
	m.collections[name] = cb
	return cb
}

// Submit appends an entry to its destination collection's batch, stamping
// batch bookkeeping fields, and triggers a flush if the size or global
// memory threshold is crossed. It is non-blocking beyond local queueing
// work: the flush itself, if triggered, runs on its own goroutine.
func (m *Manager) Submit(ctx context.Context, entry model.Entry) error {
	if entry.Collection == "" {
		entry.Collection = m.cfg.DefaultCollection
	}

	if m.shuttingDown.Load() {
		return m.submitDuringShutdown(ctx, entry)
	}

	// Clone before staging: entry's Metadata/Attributes maps are shared
	// with the caller, who may reuse or mutate them after this call
	// returns, and the flush goroutine reads them later on its own
	// timeline.
	batched := model.BatchedEntry{
		Entry:   entry.Clone(),
		BatchID: uuid.NewString(),
	}

	cb := m.getOrCreate(entry.Collection)
	count, _ := cb.append(batched)
	atomic.AddInt64(&m.currentMemory, int64(entry.EstimatedSize()))
	m.totalEntries.Add(1)

	totalMem := atomic.LoadInt64(&m.currentMemory)
	if count >= m.cfg.BatchSize || totalMem >= m.cfg.MaxMemoryUsage {
		go m.flushCollection(context.Background(), cb)
	}

	return nil
}

// submitDuringShutdown bypasses batching once shutdown has begun: the
// entry is written with a single insert directly, or dropped (with a
// diagnostic) if the database is unavailable.
func (m *Manager) submitDuringShutdown(ctx context.Context, entry model.Entry) error {
	if m.db.IsCircuitOpen() {
		m.log.Error().Str("collection", entry.Collection).Msg("dropping post-shutdown entry: circuit open")
		return nil
	}
	if err := m.db.InsertMany(ctx, entry.Collection, []interface{}{entry}); err != nil {
		m.log.Error().Err(err).Str("collection", entry.Collection).Msg("dropping post-shutdown entry: insert failed")
	}
	return nil
}

// runTimer fires a periodic flush pass every FlushInterval. Ticks are
// fire-and-forget: the timer handler schedules flushes concurrently but
// does not wait on them, so a slow flush never delays the next tick.
func (m *Manager) runTimer() {
	defer close(m.timerDone)

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopTimer:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	m.mu.RLock()
	batches := make([]*collectionBatch, 0, len(m.collections))
	for _, cb := range m.collections {
		batches = append(batches, cb)
	}
	m.mu.RUnlock()

	for _, cb := range batches {
		count, _, lastFlush := cb.snapshot()
		if count == 0 {
			continue
		}
		if time.Since(lastFlush) < m.cfg.FlushInterval {
			continue
		}
		go m.flushCollection(context.Background(), cb)
	}
}

// flushCollection runs the flush algorithm for a single collection. It is
// safe to call concurrently for different collections; for the same
// collection, tryStartFlush enforces the at-most-one rule.
func (m *Manager) flushCollection(ctx context.Context, cb *collectionBatch) {
	if m.db.IsCircuitOpen() {
		return
	}
	if !cb.tryStartFlush() {
		return
	}
	defer cb.endFlush()

	toFlush, _, ok := cb.beginFlush()
	if !ok {
		return
	}

	docs := make([]interface{}, len(toFlush))
	for i, e := range toFlush {
		docs[i] = e.Strip()
	}

	var size int64
	for _, e := range toFlush {
		size += int64(e.EstimatedSize())
	}
	atomic.AddInt64(&m.currentMemory, -size)

	err := m.db.InsertMany(ctx, cb.name, docs)
	if err == nil {
		m.totalFlushed.Add(1)
		m.lastFlushUnix.Store(time.Now().Unix())
		cb.resetRetries()
		m.log.Info().Str("collection", cb.name).Int("count", len(toFlush)).Msg("flush succeeded")
		return
	}

	var partial *PartialWriteError
	if errors.As(err, &partial) {
		m.handlePartialFailure(ctx, cb.name, toFlush, partial)
		m.totalFlushed.Add(1)
		m.lastFlushUnix.Store(time.Now().Unix())
		cb.resetRetries()
		return
	}

	m.totalFailures.Add(1)
	m.totalRetries.Add(1)
	retries := cb.incrementRetries()
	cb.prepend(toFlush)
	atomic.AddInt64(&m.currentMemory, size)
	m.log.Warn().Err(err).Str("collection", cb.name).Int("count", len(toFlush)).Int("retry_count", retries).Msg("flush failed, will retry")
}

// handlePartialFailure routes the documents the driver rejected to the
// collection's dead-letter collection; documents not in the failure list
// are considered successfully persisted and are not retried.
func (m *Manager) handlePartialFailure(ctx context.Context, collection string, toFlush []model.BatchedEntry, partial *PartialWriteError) {
	dlqDocs := make([]interface{}, 0, len(partial.FailedIndexes))
	for idx, msg := range partial.FailedIndexes {
		if idx < 0 || idx >= len(toFlush) {
			continue
		}
		dlqDocs = append(dlqDocs, model.DeadLetterRecord{
			OriginalLog:      toFlush[idx].Strip(),
			ErrorDetails:     msg,
			FailedAt:         time.Now(),
			SourceCollection: collection,
		})
	}
	if len(dlqDocs) == 0 {
		return
	}

	dlqName := model.DLQName(collection)
	if err := m.db.InsertMany(ctx, dlqName, dlqDocs); err != nil {
		m.log.Error().Err(err).Str("dlq_collection", dlqName).Int("count", len(dlqDocs)).
			Msg("dead-letter insert failed, dropping records")
		return
	}
	m.log.Warn().Str("collection", collection).Int("count", len(dlqDocs)).Msg("routed records to dead-letter collection")
}

// FlushAll requests a flush of every non-empty collection batch and waits
// for all of them to reach a terminal outcome (success, partial-failure
// DLQ routing, or transient re-prepend). A collection whose flush is
// already in flight is skipped, and FlushAll does not wait for that
// flush; while the circuit is open every collection is skipped.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.RLock()
	batches := make([]*collectionBatch, 0, len(m.collections))
	for _, cb := range m.collections {
		batches = append(batches, cb)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, cb := range batches {
		if cb.isEmpty() {
			continue
		}
		wg.Add(1)
		go func(cb *collectionBatch) {
			defer wg.Done()
			m.flushCollection(ctx, cb)
		}(cb)
	}
	wg.Wait()
	return nil
}

// ConfiguredMaxMemoryUsage returns the configured global memory cap, used
// by the Health Reporter to judge memory-pressure degradation.
func (m *Manager) ConfiguredMaxMemoryUsage() int64 {
	return m.cfg.MaxMemoryUsage
}

// RetryCount returns the Retry Counter Map entry for collection: the
// number of consecutive transient flush failures since its last
// successful flush. Zero for a collection with no batch yet.
func (m *Manager) RetryCount(collection string) int {
	m.mu.RLock()
	cb, ok := m.collections[collection]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return cb.retryCount()
}

// Metrics returns a snapshot of the manager's counters.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	active := len(m.collections)
	m.mu.RUnlock()

	flushed := m.totalFlushed.Load()
	entries := m.totalEntries.Load()

	var avg float64
	if flushed > 0 {
		avg = float64(entries) / float64(flushed)
	}

	var lastFlush time.Time
	if ts := m.lastFlushUnix.Load(); ts > 0 {
		lastFlush = time.Unix(ts, 0)
	}

	return Metrics{
		TotalEntriesProcessed: entries,
		TotalBatchesFlushed:   flushed,
		TotalFlushFailures:    m.totalFailures.Load(),
		TotalRetries:          m.totalRetries.Load(),
		AverageBatchSize:      avg,
		LastFlushTime:         lastFlush,
		CurrentMemoryUsage:    atomic.LoadInt64(&m.currentMemory),
		CollectionsActive:     active,
	}
}

// Shutdown stops the periodic timer, drains remaining batches via
// FlushAll, and switches Submit into its inline-or-drop mode for any
// entries submitted after this point. It returns once FlushAll completes
// or timeout elapses, whichever comes first.
func (m *Manager) Shutdown(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.cfg.GracefulShutdownTimeout
	}

	m.shuttingDown.Store(true)
	close(m.stopTimer)
	<-m.timerDone

	done := make(chan struct{})
	go func() {
		_ = m.FlushAll(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("batch: shutdown timed out after %s", timeout)
	}
}
