// Package metrics exposes Prometheus instrumentation for scoring and
// progression.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/progress"
)

const namespace = "vibecheck"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	completions   *prometheus.CounterVec
	achievements  *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	txLatency     *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New creates a registry with the Go and process collectors plus the
// vibecheck metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Submissions scored, by challenge and pass result.",
		}, []string{"challenge", "passed"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Recorded completions by outcome.",
		}, []string{"outcome"}),
		achievements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked, by achievement id.",
		}, []string{"achievement"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Transient storage failures surfaced to callers.",
		}, []string{"op"}),
		txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_transaction_seconds",
			Help:      "Latency of storage units of work including retries.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations,
		m.completions,
		m.achievements,
		m.storageErrors,
		m.txLatency,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScore implements scoring.Observer.
func (m *Metrics) ObserveScore(challengeID string, result domain.ScoreResult) {
	m.evaluations.WithLabelValues(challengeID, strconv.FormatBool(result.Passed)).Inc()
}

// ObserveCompletion implements progress.Observer.
func (m *Metrics) ObserveCompletion(result *progress.CompletionResult) {
	if result.AlreadyCompleted {
		m.completions.WithLabelValues("duplicate").Inc()
		return
	}
	m.completions.WithLabelValues("awarded").Inc()
	for _, id := range result.Unlocked {
		m.achievements.WithLabelValues(id).Inc()
	}
}

// ObserveStorageError implements progress.Observer.
func (m *Metrics) ObserveStorageError(op string, _ error) {
	m.storageErrors.WithLabelValues(op).Inc()
	if op == "record_completion" {
		m.completions.WithLabelValues("error").Inc()
	}
}

// ObserveTransaction implements progress.Observer.
func (m *Metrics) ObserveTransaction(op string, elapsed time.Duration) {
	m.txLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// InstrumentHandler records request counts and latency for route.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		m.httpLatency.MustCurryWith(prometheus.Labels{"route": route}),
		promhttp.InstrumentHandlerCounter(
			m.httpRequests.MustCurryWith(prometheus.Labels{"route": route}),
			next,
		),
	)
}
