// Package metrics exposes Prometheus collectors for sync and query activity.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/pdfqa/internal/job"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	uploads        prometheus.Counter
	uploadFailures prometheus.Counter
	jobPolls       *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	answers        *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfqa_uploads_total",
			Help: "Documents uploaded to the remote file store.",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfqa_upload_failures_total",
			Help: "Document uploads that failed and aborted a sync.",
		}),
		jobPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfqa_job_polls_total",
			Help: "Status polls issued for remote jobs.",
		}, []string{"kind"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfqa_jobs_total",
			Help: "Remote jobs that reached a terminal status.",
		}, []string{"kind", "status"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfqa_answers_total",
			Help: "Answer attempts by outcome.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.uploads, m.uploadFailures, m.jobPolls, m.jobs, m.answers)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests, custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Upload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.uploads.Inc()
		return
	}
	m.uploadFailures.Inc()
}

// ObservePoll is a job.Observer.
func (m *Metrics) ObservePoll(kind string, s job.State) {
	if m == nil {
		return
	}
	m.jobPolls.WithLabelValues(kind).Inc()
}

// JobDone records a terminal job status.
func (m *Metrics) JobDone(kind, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Answer(status string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(status).Inc()
}
