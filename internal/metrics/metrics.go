// Package metrics holds the Prometheus collectors for crawl, scoring, storage and delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "opportunist"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal      *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	PagesCrawled      *prometheus.CounterVec
	PostingsExtracted *prometheus.CounterVec

	EmbeddingFailures prometheus.Counter
	PostingsScored    prometheus.Counter
	PostingsAccepted  prometheus.Counter

	PostingsStored    prometheus.Counter
	DuplicatesSkipped prometheus.Counter

	DigestsDelivered *prometheus.CounterVec
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.FetchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "fetches_total",
		Help:      "Fetch calls by final outcome",
	}, []string{"status"})
	m.FetchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "fetch_duration_seconds",
		Help:      "Elapsed time of a fetch call including retries",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	m.PagesCrawled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "pages_total",
		Help:      "Pages attempted per domain",
	}, []string{"domain"})
	m.PostingsExtracted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "postings_extracted_total",
		Help:      "Candidate postings extracted per domain",
	}, []string{"domain"})

	m.EmbeddingFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "relevance",
		Name:      "embedding_batch_failures_total",
		Help:      "Embedding batches replaced by zero vectors",
	})
	m.PostingsScored = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "relevance",
		Name:      "postings_scored_total",
		Help:      "Postings scored against the interest set",
	})
	m.PostingsAccepted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "relevance",
		Name:      "postings_accepted_total",
		Help:      "Postings at or above the relevance threshold",
	})

	m.PostingsStored = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "store",
		Name:      "postings_stored_total",
		Help:      "Postings inserted",
	})
	m.DuplicatesSkipped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "store",
		Name:      "duplicates_skipped_total",
		Help:      "Postings skipped because their content hash already exists",
	})

	m.DigestsDelivered = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "digest",
		Name:      "delivered_total",
		Help:      "Digest deliveries by status",
	}, []string{"status"})
	m.PipelineRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by task and final status",
	}, []string{"task", "status"})
	m.PipelineDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Pipeline run duration",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"task"})

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncPages(domain string) {
	if m == nil {
		return
	}
	m.PagesCrawled.WithLabelValues(domain).Inc()
}

func (m *Metrics) AddExtracted(domain string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostingsExtracted.WithLabelValues(domain).Add(float64(n))
}

func (m *Metrics) IncEmbeddingFailure() {
	if m == nil {
		return
	}
	m.EmbeddingFailures.Inc()
}

func (m *Metrics) AddScored(scored, accepted int) {
	if m == nil {
		return
	}
	m.PostingsScored.Add(float64(scored))
	m.PostingsAccepted.Add(float64(accepted))
}

func (m *Metrics) AddStored(stored, duplicates int) {
	if m == nil {
		return
	}
	m.PostingsStored.Add(float64(stored))
	m.DuplicatesSkipped.Add(float64(duplicates))
}

func (m *Metrics) IncDigest(status string) {
	if m == nil {
		return
	}
	m.DigestsDelivered.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRun(task, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(task, status).Inc()
	m.PipelineDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}
