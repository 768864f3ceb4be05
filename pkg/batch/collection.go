package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/predatorx7/logcore/pkg/model"
)

// collectionBatch is the per-destination-collection staging area. mu
// guards entries/memorySize/lastFlush together so the atomic swap in
// beginFlush is indivisible with respect to concurrent Append calls — the
// invariant the spec calls out as the fix for the v1.0.6 loss bug.
type collectionBatch struct {
	name string

	mu         sync.Mutex
	entries    []model.BatchedEntry
	memorySize int64
	lastFlush  time.Time
	retries    int // consecutive flush failures for the current recovery episode

	flushing atomic.Bool // true iff a flush task currently owns this collection
}

// newCollectionBatch leaves lastFlush at its zero value rather than
// stamping time.Now(): a collection is created microseconds before the
// ticker's next fire, and stamping "now" would make that first tick's
// staleness check (time.Since(lastFlush) < FlushInterval) find the batch
// not yet stale, deferring the collection's first periodic flush to the
// *second* tick and silently doubling flush latency. The zero value is
// always older than FlushInterval, so a never-flushed collection is
// eligible the moment it has entries.
func newCollectionBatch(name string) *collectionBatch {
	return &collectionBatch{name: name}
}

// append adds an entry to the live batch and returns the new entry count
// and the live batch's memory size, so the caller can evaluate trigger
// conditions without taking the lock twice.
func (c *collectionBatch) append(e model.BatchedEntry) (count int, memSize int64) {
	size := int64(e.EstimatedSize())
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.memorySize += size
	count = len(c.entries)
	memSize = c.memorySize
	c.mu.Unlock()
	return count, memSize
}

// beginFlush performs the atomic swap: the live entries/memorySize are
// replaced with a fresh empty batch, and the removed entries are handed
// back to the caller to flush. Returns ok=false if there is nothing to
// flush.
func (c *collectionBatch) beginFlush() (toFlush []model.BatchedEntry, droppedMem int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return nil, 0, false
	}

	toFlush = c.entries
	droppedMem = c.memorySize
	c.entries = nil
	c.memorySize = 0
	c.lastFlush = time.Now()
	return toFlush, droppedMem, true
}

// prepend puts failed entries back at the front of the live batch,
// preserving their original relative order, and restores their bytes to
// the memory count — the transient-failure recovery path.
func (c *collectionBatch) prepend(failed []model.BatchedEntry) {
	if len(failed) == 0 {
		return
	}
	var restored int64
	for _, e := range failed {
		restored += int64(e.EstimatedSize())
	}
	c.mu.Lock()
	c.entries = append(append([]model.BatchedEntry{}, failed...), c.entries...)
	c.memorySize += restored
	c.mu.Unlock()
}

func (c *collectionBatch) snapshot() (count int, memSize int64, lastFlush time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.memorySize, c.lastFlush
}

func (c *collectionBatch) isEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) == 0
}

// incrementRetries bumps the per-collection retry counter for the current
// recovery episode (the Retry Counter Map entry for this collection) and
// returns the new value.
func (c *collectionBatch) incrementRetries() int {
	c.mu.Lock()
	c.retries++
	n := c.retries
	c.mu.Unlock()
	return n
}

// resetRetries clears the per-collection retry counter after a successful
// flush.
func (c *collectionBatch) resetRetries() {
	c.mu.Lock()
	c.retries = 0
	c.mu.Unlock()
}

func (c *collectionBatch) retryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// tryStartFlush enforces the at-most-one-concurrent-flush-per-collection
// invariant. Returns false if a flush is already active.
func (c *collectionBatch) tryStartFlush() bool {
	return c.flushing.CompareAndSwap(false, true)
}

func (c *collectionBatch) endFlush() {
	c.flushing.Store(false)
}
