package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveFetch("success", 120*time.Millisecond)
	m.ObserveFetch("failed", time.Second)
	m.ObserveFetch("success", 80*time.Millisecond)
	m.IncPages("example.org")
	m.AddExtracted("example.org", 3)
	m.AddStored(2, 1)
	m.ObserveRun("full_pipeline", "completed", time.Minute)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.PostingsExtracted.WithLabelValues("example.org")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.PostingsStored), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DuplicatesSkipped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("full_pipeline", "completed")), 0)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("success", time.Second)
		m.IncPages("x")
		m.AddExtracted("x", 1)
		m.IncEmbeddingFailure()
		m.AddScored(1, 1)
		m.AddStored(1, 0)
		m.IncDigest("sent")
		m.ObserveRun("crawl", "failed", time.Second)
	})
	assert.Nil(t, m.Registry())
}
