// Package metrics defines the Prometheus collectors for the enrichment
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	DocumentsEnqueued   *prometheus.CounterVec
	DocumentsEnriched   *prometheus.CounterVec
	EnrichmentDuration  *prometheus.HistogramVec
	QueueWaiting        prometheus.Gauge
	WorkersBusy         *prometheus.GaugeVec
	CapabilityCalls     *prometheus.CounterVec
	CapabilityLatency   *prometheus.HistogramVec
	DocumentsSubmitted  prometheus.Counter
	SubmissionErrors    prometheus.Counter
	BatchFlushDuration  prometheus.Histogram
	BatchRetriesTotal   prometheus.Counter
	DedupeSkipsTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates and registers all pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		DocumentsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_documents_enqueued_total",
				Help: "Documents accepted by the enrichment queue, by source type.",
			},
			[]string{"source_type"},
		),
		DocumentsEnriched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_documents_enriched_total",
				Help: "Documents leaving the queue, by outcome (completed, failed, cancelled).",
			},
			[]string{"outcome"},
		),
		EnrichmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_enrichment_duration_seconds",
				Help:    "Per-document enrichment latency by worker type.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"worker_type"},
		),
		QueueWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_waiting",
				Help: "Documents in the FIFO waiting buffer.",
			},
		),
		WorkersBusy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_workers_busy",
				Help: "Worker slots currently processing a document, by worker type.",
			},
			[]string{"worker_type"},
		),
		CapabilityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_capability_calls_total",
				Help: "Capability service calls by capability and status (ok, error).",
			},
			[]string{"capability", "status"},
		),
		CapabilityLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_capability_latency_seconds",
				Help:    "Capability service call latency.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"capability"},
		),
		DocumentsSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_documents_submitted_total",
				Help: "Documents accepted by the remote ingestion boundary.",
			},
		),
		SubmissionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_submission_errors_total",
				Help: "Documents that permanently failed submission.",
			},
		),
		BatchFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_batch_flush_duration_seconds",
				Help:    "Latency of one batch chunk submission, including retries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		BatchRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_batch_retries_total",
				Help: "Chunk-level submission retries.",
			},
		),
		DedupeSkipsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_dedupe_skips_total",
				Help: "Documents skipped because their idempotency key was already accepted.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_http_requests_total",
				Help: "Operational HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_http_request_duration_seconds",
				Help:    "Operational HTTP request latency.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_http_requests_in_flight",
				Help: "Operational HTTP requests currently being served.",
			},
		),
	}

	prometheus.MustRegister(
		m.DocumentsEnqueued,
		m.DocumentsEnriched,
		m.EnrichmentDuration,
		m.QueueWaiting,
		m.WorkersBusy,
		m.CapabilityCalls,
		m.CapabilityLatency,
		m.DocumentsSubmitted,
		m.SubmissionErrors,
		m.BatchFlushDuration,
		m.BatchRetriesTotal,
		m.DedupeSkipsTotal,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
