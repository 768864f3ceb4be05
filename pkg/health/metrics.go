package health

import "github.com/prometheus/client_golang/prometheus"

// prometheusCollectors bundles the gauges/counters exposed on the sample
// host's /metrics endpoint. Shape grounded on dvereshchagin-monitoring-
// dashboard's internal/metrics/metrics.go: a struct of collectors built
// and registered once in New, updated from observe on every Check.
type prometheusCollectors struct {
	overallUp          prometheus.Gauge
	databaseUp         prometheus.Gauge
	batchDegraded      prometheus.Gauge
	connSuccesses      prometheus.Counter
	connFailures       prometheus.Counter
	connReconnects     prometheus.Counter
	breakerOpen        prometheus.Gauge
	entriesProcessed   prometheus.Counter
	batchesFlushed     prometheus.Counter
	flushFailures      prometheus.Counter
	retries            prometheus.Counter
	currentMemoryUsage prometheus.Gauge
	collectionsActive  prometheus.Gauge

	last counterState
}

func newPrometheusCollectors(registry *prometheus.Registry) *prometheusCollectors {
	c := &prometheusCollectors{
		overallUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_health_overall_up",
			Help: "1 if the overall health status is up, 0 otherwise.",
		}),
		databaseUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_health_database_up",
			Help: "1 if the database health probe reports up, 0 otherwise.",
		}),
		batchDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_health_batch_degraded",
			Help: "1 if the batch subsystem is degraded, 0 otherwise.",
		}),
		connSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_connmgr_successes_total",
			Help: "Total successful connect attempts.",
		}),
		connFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_connmgr_failures_total",
			Help: "Total failed connect attempts.",
		}),
		connReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_connmgr_reconnects_total",
			Help: "Total successful reconnects after a circuit trip.",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_connmgr_breaker_open",
			Help: "1 if the circuit breaker is currently open, 0 otherwise.",
		}),
		entriesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_batch_entries_processed_total",
			Help: "Total log entries submitted to the batch manager.",
		}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_batch_flushes_total",
			Help: "Total successful batch flushes.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_batch_flush_failures_total",
			Help: "Total transient batch flush failures.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logcore_batch_retries_total",
			Help: "Total flush retries scheduled after a transient failure.",
		}),
		currentMemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_batch_memory_usage_bytes",
			Help: "Current estimated bytes staged across all collection batches.",
		}),
		collectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logcore_batch_collections_active",
			Help: "Number of collections with a live batch.",
		}),
	}

	registry.MustRegister(
		c.overallUp, c.databaseUp, c.batchDegraded,
		c.connSuccesses, c.connFailures, c.connReconnects, c.breakerOpen,
		c.entriesProcessed, c.batchesFlushed, c.flushFailures, c.retries,
		c.currentMemoryUsage, c.collectionsActive,
	)

	return c
}

// counterState holds the last cumulative value reported for each source
// counter. Prometheus counters only support Add; the underlying sources
// (connmgr, batch) hand back running totals, so observe converts each
// total to a delta against the last-seen value before adding it.
type counterState struct {
	connSuccesses    uint64
	connFailures     uint64
	connReconnects   uint64
	entriesProcessed uint64
	batchesFlushed   uint64
	flushFailures    uint64
	retries          uint64
}

func (c *prometheusCollectors) observe(r Report) {
	if r.Database == StatusUp {
		c.databaseUp.Set(1)
	} else {
		c.databaseUp.Set(0)
	}
	if r.Overall == StatusUp {
		c.overallUp.Set(1)
	} else {
		c.overallUp.Set(0)
	}
	if r.Batch == StatusDegraded {
		c.batchDegraded.Set(1)
	} else {
		c.batchDegraded.Set(0)
	}
	if r.ConnMetrics.BreakerState == "open" {
		c.breakerOpen.Set(1)
	} else {
		c.breakerOpen.Set(0)
	}

	c.currentMemoryUsage.Set(float64(r.BatchMetrics.CurrentMemoryUsage))
	c.collectionsActive.Set(float64(r.BatchMetrics.CollectionsActive))

	c.addDelta(&c.last.connSuccesses, r.ConnMetrics.Successes, c.connSuccesses)
	c.addDelta(&c.last.connFailures, r.ConnMetrics.Failures, c.connFailures)
	c.addDelta(&c.last.connReconnects, r.ConnMetrics.Reconnects, c.connReconnects)
	c.addDelta(&c.last.entriesProcessed, r.BatchMetrics.TotalEntriesProcessed, c.entriesProcessed)
	c.addDelta(&c.last.batchesFlushed, r.BatchMetrics.TotalBatchesFlushed, c.batchesFlushed)
	c.addDelta(&c.last.flushFailures, r.BatchMetrics.TotalFlushFailures, c.flushFailures)
	c.addDelta(&c.last.retries, r.BatchMetrics.TotalRetries, c.retries)
}

func (c *prometheusCollectors) addDelta(last *uint64, current uint64, counter prometheus.Counter) {
	if current > *last {
		counter.Add(float64(current - *last))
	}
	*last = current
}
