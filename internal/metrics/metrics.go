// Package metrics exposes Prometheus collectors for the review service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionAttemptsTotal    *prometheus.CounterVec
	extractionRecordsTotal     *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	admissionRejectionsTotal   prometheus.Counter
	challengeWaitsTotal        *prometheus.CounterVec
	revealIterations           prometheus.Histogram
	activeSessions             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_extraction_attempts_total",
				Help: "Total number of extraction tier runs, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		extractionRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_extraction_records_total",
				Help: "Total number of admissible records produced, labeled by tier.",
			},
			[]string{"tier"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviews_extraction_duration_seconds",
				Help:    "Histogram of extraction tier durations, labeled by tier.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"tier"},
		)

		admissionRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reviews_admission_rejections_total",
				Help: "Total number of requests rejected by the admission gate.",
			},
		)

		challengeWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_challenge_waits_total",
				Help: "Total number of challenge waits, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		revealIterations = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reviews_reveal_iterations",
				Help:    "Histogram of reveal-loop iterations per dynamic session.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviews_active_render_sessions",
				Help: "Number of render sessions currently open.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtraction records one tier run.
func ObserveExtraction(tier, outcome string, records int, duration time.Duration) {
	extractionAttemptsTotal.WithLabelValues(tier, outcome).Inc()
	if records > 0 {
		extractionRecordsTotal.WithLabelValues(tier).Add(float64(records))
	}
	extractionDurationSeconds.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObserveAdmissionRejected counts one rejected admission check.
func ObserveAdmissionRejected() {
	admissionRejectionsTotal.Inc()
}

// ObserveChallengeWait counts a challenge wait by outcome
// ("resolved" or "unresolved").
func ObserveChallengeWait(outcome string) {
	challengeWaitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRevealIterations records how many reveal passes a session ran.
func ObserveRevealIterations(n int) {
	revealIterations.Observe(float64(n))
}

// IncActiveSessions increments the open session gauge.
func IncActiveSessions() {
	activeSessions.Inc()
}

// DecActiveSessions decrements the open session gauge.
func DecActiveSessions() {
	activeSessions.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
