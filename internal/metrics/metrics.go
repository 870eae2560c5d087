// Package metrics provides Prometheus metrics for PolicyPro
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scan-and-remediate engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ScansTotal         *prometheus.CounterVec
	ScannerRunsTotal   *prometheus.CounterVec
	ScannerIssuesTotal *prometheus.CounterVec

	LLMRequestsTotal    *prometheus.CounterVec
	LLMRateLimitRetries prometheus.Counter
	ConflictIterations  prometheus.Histogram

	SuggestionTransitions *prometheus.CounterVec
	IngestionTotal        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg. A nil reg gets a private
// registry, which keeps tests from colliding on the default one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.ScansTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_scans_total",
			Help: "Total number of finished document scans",
		},
		[]string{"outcome"},
	)

	m.ScannerRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_scanner_runs_total",
			Help: "Total number of individual scanner runs",
		},
		[]string{"scanner", "outcome"},
	)

	m.ScannerIssuesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_scanner_issues_total",
			Help: "Total number of issues created by each scanner",
		},
		[]string{"scanner"},
	)

	m.LLMRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_llm_requests_total",
			Help: "Total number of reasoning service requests",
		},
		[]string{"status"},
	)

	m.LLMRateLimitRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "policypro_llm_rate_limit_retries_total",
			Help: "Total number of retries after a rate limit response",
		},
	)

	m.ConflictIterations = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policypro_conflict_loop_iterations",
			Help:    "Iterations used by each conflict scan conversation",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
	)

	m.SuggestionTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_suggestion_transitions_total",
			Help: "Total number of apply/dismiss attempts",
		},
		[]string{"action", "outcome"},
	)

	m.IngestionTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policypro_ingestion_total",
			Help: "Total number of ingestion attempts",
		},
		[]string{"format", "outcome"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordScan records a finished scan.
func (m *Metrics) RecordScan(outcome string) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
}

// RecordScanner records one scanner run and the issues it produced.
func (m *Metrics) RecordScanner(scanner, outcome string, issues int) {
	if m == nil {
		return
	}
	m.ScannerRunsTotal.WithLabelValues(scanner, outcome).Inc()
	if issues > 0 {
		m.ScannerIssuesTotal.WithLabelValues(scanner).Add(float64(issues))
	}
}

// RecordLLMRequest records a reasoning service response by status.
func (m *Metrics) RecordLLMRequest(status string) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitRetry counts one backoff wait.
func (m *Metrics) RecordRateLimitRetry() {
	if m == nil {
		return
	}
	m.LLMRateLimitRetries.Inc()
}

// ObserveConflictIterations records the length of a conflict conversation.
func (m *Metrics) ObserveConflictIterations(n int) {
	if m == nil {
		return
	}
	m.ConflictIterations.Observe(float64(n))
}

// RecordTransition records an apply or dismiss attempt.
func (m *Metrics) RecordTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.SuggestionTransitions.WithLabelValues(action, outcome).Inc()
}

// RecordIngestion records a parse attempt.
func (m *Metrics) RecordIngestion(format, outcome string) {
	if m == nil {
		return
	}
	m.IngestionTotal.WithLabelValues(format, outcome).Inc()
}
