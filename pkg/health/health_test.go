package health

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatorx7/logcore/pkg/batch"
	"github.com/predatorx7/logcore/pkg/connmgr"
)

// fakeDatabase is a minimal batch.Database the Batch Manager can flush
// against without a live MongoDB.
type fakeDatabase struct{ circuitOpen bool }

func (f *fakeDatabase) IsCircuitOpen() bool { return f.circuitOpen }

func (f *fakeDatabase) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	return nil
}

func newTestReporter(t *testing.T, maxMemory int64) (*Reporter, *prometheus.Registry) {
	t.Helper()
	conn := connmgr.New(connmgr.Config{URI: "mongodb://127.0.0.1:27017/unused"}, zerolog.Nop())
	b := batch.New(batch.Config{MaxMemoryUsage: maxMemory}, &fakeDatabase{}, zerolog.Nop())
	registry := prometheus.NewRegistry()
	return New(conn, b, registry), registry
}

func TestReporter_Check_DownWhenNeverConnected(t *testing.T) {
	reporter, _ := newTestReporter(t, 1<<20)

	report := reporter.Check(context.Background())

	assert.Equal(t, StatusDown, report.Database)
	assert.Equal(t, StatusDown, report.Overall)
	assert.Equal(t, "not connected", report.DatabaseReason)
}

func TestReporter_ClassifyBatch_DegradedOnHighFailureRatio(t *testing.T) {
	reporter, _ := newTestReporter(t, 1<<20)

	status := reporter.classifyBatch(batch.Metrics{
		TotalBatchesFlushed: 10,
		TotalFlushFailures:  5,
	})
	assert.Equal(t, StatusDegraded, status)
}

func TestReporter_ClassifyBatch_UpOnLowFailureRatio(t *testing.T) {
	reporter, _ := newTestReporter(t, 1<<20)

	status := reporter.classifyBatch(batch.Metrics{
		TotalBatchesFlushed: 100,
		TotalFlushFailures:  1,
	})
	assert.Equal(t, StatusUp, status)
}

func TestReporter_ClassifyBatch_DegradedOnMemoryPressure(t *testing.T) {
	reporter, _ := newTestReporter(t, 1000)

	status := reporter.classifyBatch(batch.Metrics{
		TotalBatchesFlushed: 1,
		CurrentMemoryUsage:  950,
	})
	assert.Equal(t, StatusDegraded, status)
}

func TestReporter_Check_RegistersPrometheusCollectors(t *testing.T) {
	reporter, registry := newTestReporter(t, 1<<20)

	reporter.Check(context.Background())

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "logcore_health_database_up" {
			found = true
			require.Len(t, fam.GetMetric(), 1)
			assert.Equal(t, float64(0), fam.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "expected logcore_health_database_up to be registered")
}

func TestReporter_New_WithoutRegistry_SkipsCollectors(t *testing.T) {
	conn := connmgr.New(connmgr.Config{URI: "mongodb://127.0.0.1:27017/unused"}, zerolog.Nop())
	b := batch.New(batch.Config{}, &fakeDatabase{}, zerolog.Nop())
	reporter := New(conn, b, nil)

	// Must not panic in the absence of a registry.
	report := reporter.Check(context.Background())
	assert.Equal(t, StatusDown, report.Database)
}
