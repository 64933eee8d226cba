// Package metrics defines the Prometheus instruments for the email dispatch
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFaulted   = "faulted"
)

// Skip reasons.
const (
	ReasonOptOut      = "opt_out"
	ReasonComposition = "composition"
	ReasonFault       = "request_fault"
	ReasonGate        = "feature_disabled"
)

// Metrics groups the pipeline instruments.
type Metrics struct {
	intentsRecognized prometheus.Counter
	jobsEnqueued      prometheus.Counter
	jobsProcessed     *prometheus.CounterVec
	jobDuration       prometheus.Histogram
	emailsSkipped     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the instruments with reg. Passing a *prometheus.Registry
// also enables Handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		intentsRecognized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mailr",
			Subsystem: "dispatch",
			Name:      "intents_recognized_total",
			Help:      "Total number of responses that carried an email intent.",
		}),
		jobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mailr",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs added to the work item queue.",
		}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailr",
			Subsystem: "dispatcher",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs executed by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailr",
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Job execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		emailsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailr",
			Subsystem: "dispatch",
			Name:      "emails_skipped_total",
			Help:      "Total number of emails not sent, by reason.",
		}, []string{"reason"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// WatchQueue exposes the current queue depth as a gauge.
func (m *Metrics) WatchQueue(reg prometheus.Registerer, depth func() int) {
	if m == nil {
		return
	}
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "mailr",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of jobs waiting in the work item queue.",
	}, func() float64 { return float64(depth()) })
}

// IntentRecognized counts a response that carried an email intent.
func (m *Metrics) IntentRecognized() {
	if m == nil {
		return
	}
	m.intentsRecognized.Inc()
}

// JobEnqueued counts a job handed to the queue.
func (m *Metrics) JobEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

// JobProcessed records one dispatcher execution.
func (m *Metrics) JobProcessed(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// EmailSkipped counts an email that was deliberately not sent.
func (m *Metrics) EmailSkipped(reason string) {
	if m == nil {
		return
	}
	m.emailsSkipped.WithLabelValues(reason).Inc()
}

// Handler returns the scrape endpoint for the registry the metrics were
// created with, falling back to the default registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
