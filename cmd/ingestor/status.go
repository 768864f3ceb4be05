package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/predatorx7/logcore/pkg/health"
)

type statusResponse struct {
	Status             string    `json:"status"`
	Uptime             string    `json:"uptime"`
	CheckedAt          time.Time `json:"checkedAt"`
	Database           string    `json:"database"`
	DatabaseReason     string    `json:"databaseReason,omitempty"`
	Batch              string    `json:"batch"`
	EntriesProcessed   uint64    `json:"entriesProcessed"`
	BatchesFlushed     uint64    `json:"batchesFlushed"`
	FlushFailures      uint64    `json:"flushFailures"`
	CurrentMemoryUsage int64     `json:"currentMemoryUsageBytes"`
	CollectionsActive  int       `json:"collectionsActive"`
}

var startTime = time.Now()

// HandleStatus serves a detailed point-in-time view of both the
// Connection Manager and Batch Manager, for operators.
func HandleStatus(reporter *health.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := reporter.Check(r.Context())

		resp := statusResponse{
			Status:             string(report.Overall),
			Uptime:             time.Since(startTime).String(),
			CheckedAt:          report.CheckedAt,
			Database:           string(report.Database),
			DatabaseReason:     report.DatabaseReason,
			Batch:              string(report.Batch),
			EntriesProcessed:   report.BatchMetrics.TotalEntriesProcessed,
			BatchesFlushed:     report.BatchMetrics.TotalBatchesFlushed,
			FlushFailures:      report.BatchMetrics.TotalFlushFailures,
			CurrentMemoryUsage: report.BatchMetrics.CurrentMemoryUsage,
			CollectionsActive:  report.BatchMetrics.CollectionsActive,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// HandleHealthz serves a minimal liveness/readiness probe: 200 when the
// overall status is up or degraded, 503 when down.
func HandleHealthz(reporter *health.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := reporter.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Overall == health.StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": string(report.Overall),
		})
	}
}
