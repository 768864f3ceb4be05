package connmgr

import (
	"sync"
	"sync/atomic"
	"time"
)

// atomicCounter is a small wrapper so Metrics snapshots never need the
// manager's main mutex just to read a counter.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) inc() { c.v.Add(1) }

func (c *atomicCounter) load() uint64 { return c.v.Load() }

// timeBox guards a time.Time behind a mutex; time.Time is not safe to
// access via atomic.Value across zero values without a type assertion
// dance, so a tiny mutex is simpler and this is not a hot path.
type timeBox struct {
	mu sync.Mutex
	t  time.Time
}

func (b *timeBox) set(t time.Time) {
	b.mu.Lock()
	b.t = t
	b.mu.Unlock()
}

func (b *timeBox) get() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.t
}
