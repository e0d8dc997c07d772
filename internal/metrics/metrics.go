// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gabaritai"

// Metrics bundles the pipeline collectors so handlers and the pipeline
// share one registration point.
type Metrics struct {
	JobsSubmitted     prometheus.Counter
	JobsFinished      *prometheus.CounterVec
	ActiveJobs        prometheus.Gauge
	PagesProcessed    *prometheus.CounterVec
	IdentityFallbacks prometheus.Counter
	JobDuration       prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "jobs_submitted_total",
			Help:      "Scan jobs accepted for processing.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "jobs_finished_total",
			Help:      "Scan jobs that reached a terminal status.",
		}, []string{"status"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "jobs_active",
			Help:      "Scan jobs currently being processed.",
		}),
		PagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "pages_processed_total",
			Help:      "Pages that finished recognition, by outcome.",
		}, []string{"outcome"}),
		IdentityFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "identity_fallbacks_total",
			Help:      "Pages reprocessed without identity extraction.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "job_duration_seconds",
			Help:      "Wall time from processing start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(
		m.JobsSubmitted,
		m.JobsFinished,
		m.ActiveJobs,
		m.PagesProcessed,
		m.IdentityFallbacks,
		m.JobDuration,
	)
	return m
}

// ObserveJob records a finished job under its terminal status.
func (m *Metrics) ObserveJob(status string, took time.Duration) {
	m.JobsFinished.WithLabelValues(status).Inc()
	m.JobDuration.Observe(took.Seconds())
}
