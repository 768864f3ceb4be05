// Package health aggregates the Connection Manager's and Batch Manager's
// status into a single view (C4), and exposes it both as a Go value and
// as Prometheus metrics — the pattern dvereshchagin-monitoring-dashboard's
// gateway uses for its own request/latency collectors.
package health

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/predatorx7/logcore/pkg/batch"
	"github.com/predatorx7/logcore/pkg/connmgr"
)

// Status is one component's health tag.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Report is the aggregated health view returned by Reporter.Check.
type Report struct {
	CheckedAt      time.Time
	Overall        Status
	Database       Status
	DatabaseReason string
	Batch          Status
	ConnMetrics    connmgr.Metrics
	BatchMetrics   batch.Metrics
}

// Reporter aggregates C1 and C2 status. Reads of their metrics are
// acceptable to be stale by the width of a scrape interval — no locking
// beyond what each component already provides per-field.
type Reporter struct {
	conn  *connmgr.Manager
	batch *batch.Manager

	collectors *prometheusCollectors
}

// New constructs a Reporter over a live Connection Manager and Batch
// Manager, and registers its Prometheus collectors into registry.
func New(conn *connmgr.Manager, b *batch.Manager, registry *prometheus.Registry) *Reporter {
	r := &Reporter{conn: conn, batch: b}
	if registry != nil {
		r.collectors = newPrometheusCollectors(registry)
	}
	return r
}

// Check produces a fresh Report, probing the database and reading the
// Batch Manager's counters. It also updates the Prometheus gauges/counters
// if a registry was supplied to New.
func (r *Reporter) Check(ctx context.Context) Report {
	probe := r.conn.HealthProbe(ctx)
	connMetrics := r.conn.Metrics()
	batchMetrics := r.batch.Metrics()

	dbStatus := StatusUp
	dbReason := ""
	if !probe.Up {
		dbStatus = StatusDown
		dbReason = probe.Reason
	}

	batchStatus := r.classifyBatch(batchMetrics)

	overall := StatusUp
	switch {
	case dbStatus == StatusDown:
		overall = StatusDown
	case batchStatus == StatusDegraded:
		overall = StatusDegraded
	}

	report := Report{
		CheckedAt:      time.Now(),
		Overall:        overall,
		Database:       dbStatus,
		DatabaseReason: dbReason,
		Batch:          batchStatus,
		ConnMetrics:    connMetrics,
		BatchMetrics:   batchMetrics,
	}

	if r.collectors != nil {
		r.collectors.observe(report)
	}

	return report
}

// classifyBatch implements §4.4's degraded rule: the batch subsystem is
// degraded if its lifetime flush-failure ratio exceeds 10%, or staged memory
// usage exceeds 90% of the configured cap.
func (r *Reporter) classifyBatch(m batch.Metrics) Status {
	flushed := m.TotalBatchesFlushed
	if flushed == 0 {
		flushed = 1
	}
	failureRatio := float64(m.TotalFlushFailures) / float64(flushed)

	memRatio := 0.0
	if cap := r.batchMemoryCap(); cap > 0 {
		memRatio = float64(m.CurrentMemoryUsage) / float64(cap)
	}

	if failureRatio > 0.1 || memRatio > 0.9 {
		return StatusDegraded
	}
	return StatusUp
}

func (r *Reporter) batchMemoryCap() int64 {
	return r.batch.ConfiguredMaxMemoryUsage()
}
