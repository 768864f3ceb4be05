package batch

import "time"

// Defaults mirror other_examples/marcioazam-microservices-base's logging
// client Config: batch size 500 (vs. its 100 — ours matches the spec's own
// default), a 5s flush interval, and a 30s graceful-shutdown bound.
const (
	DefaultBatchSize               = 500
	DefaultFlushInterval           = 5 * time.Second
	DefaultMaxMemoryUsage          = 100 << 20 // 100 MiB
	DefaultCollection              = "logs"
	DefaultGracefulShutdownTimeout = 30 * time.Second
)

// Config configures the Batch Manager. Zero values are replaced with the
// documented defaults by WithDefaults.
type Config struct {
	DefaultCollection       string
	BatchSize               int
	FlushInterval           time.Duration
	MaxMemoryUsage          int64
	GracefulShutdownTimeout time.Duration
}

// WithDefaults returns a copy of cfg with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.DefaultCollection == "" {
		c.DefaultCollection = DefaultCollection
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxMemoryUsage <= 0 {
		c.MaxMemoryUsage = DefaultMaxMemoryUsage
	}
	if c.GracefulShutdownTimeout <= 0 {
		c.GracefulShutdownTimeout = DefaultGracefulShutdownTimeout
	}
	return c
}
