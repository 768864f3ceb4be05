package connmgr

import (
	"sync/atomic"
	"time"
)

// breakerState is the circuit breaker's tri-state guard. It is kept
// separate from the connection state machine: a breaker can be Open while
// the underlying client object still technically exists (e.g. mid
// reconnect attempt).
type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// circuitBreaker fast-fails acquire calls once a connection has failed
// failureThreshold times in a row, and lets exactly one trial request
// through openDuration later. Modeled on the CAS-based breaker in
// szibis-metrics-governor's exporter package: atomics only, no mutex,
// so AllowTrial never blocks a producer.
type circuitBreaker struct {
	state            atomic.Int32
	failureCount     atomic.Int32
	lastFailureUnix  atomic.Int64
	halfOpenInFlight atomic.Int32

	failureThreshold int32
	openDuration     time.Duration
}

func newCircuitBreaker(failureThreshold int, openDuration time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: int32(failureThreshold),
		openDuration:     openDuration,
	}
}

func (b *circuitBreaker) State() breakerState {
	return breakerState(b.state.Load())
}

func (b *circuitBreaker) FailureCount() int {
	return int(b.failureCount.Load())
}

// AllowTrial reports whether the caller may attempt a connect right now.
// It performs the Open -> HalfOpen transition itself (CAS-guarded, so only
// one concurrent caller wins the transition and becomes the trial).
func (b *circuitBreaker) AllowTrial() bool {
	switch breakerState(b.state.Load()) {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		// Only one in-flight trial at a time; everyone else fast-fails.
		return b.halfOpenInFlight.CompareAndSwap(0, 1)
	case breakerOpen:
		elapsed := time.Since(time.Unix(0, b.lastFailureUnix.Load()))
		if elapsed < b.openDuration {
			return false
		}
		if b.state.CompareAndSwap(int32(breakerOpen), int32(breakerHalfOpen)) {
			b.halfOpenInFlight.Store(1)
			return true
		}
		return false
	default:
		return true
	}
}

// IsOpen reports whether the breaker is currently fast-failing requests
// (Open and the open window has not yet elapsed).
func (b *circuitBreaker) IsOpen() bool {
	if breakerState(b.state.Load()) != breakerOpen {
		return false
	}
	elapsed := time.Since(time.Unix(0, b.lastFailureUnix.Load()))
	return elapsed < b.openDuration
}

// RecordSuccess resets the failure count and, if this was the half-open
// trial, closes the breaker.
func (b *circuitBreaker) RecordSuccess() {
	b.failureCount.Store(0)
	if breakerState(b.state.Load()) == breakerHalfOpen {
		b.halfOpenInFlight.Store(0)
		b.state.Store(int32(breakerClosed))
	}
}

// RecordFailure increments the failure count and opens the breaker either
// immediately (failure during a half-open trial) or once the consecutive
// failure count reaches the threshold.
func (b *circuitBreaker) RecordFailure() {
	b.lastFailureUnix.Store(time.Now().UnixNano())

	if breakerState(b.state.Load()) == breakerHalfOpen {
		b.halfOpenInFlight.Store(0)
		b.state.Store(int32(breakerOpen))
		return
	}

	fails := b.failureCount.Add(1)
	if fails >= b.failureThreshold {
		b.state.Store(int32(breakerOpen))
	}
}
