package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Analysis job metrics
	AnalysesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broken_links_analyses_created_total",
			Help: "Total number of analyses created",
		},
		[]string{"plan"},
	)

	AnalysesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broken_links_analyses_finished_total",
			Help: "Total number of analyses that reached a terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	AnalysesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broken_links_analyses_running",
			Help: "Current number of analyses being crawled",
		},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broken_links_analysis_duration_seconds",
			Help:    "Wall time from start to terminal status",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	AnalysesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broken_links_analyses_reaped_total",
			Help: "Total number of finished analyses removed by retention",
		},
	)

	// Crawler metrics
	LinkChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_link_checks_total",
			Help: "Total number of links probed",
		},
		[]string{"link_type", "result"}, // result: "ok", "broken"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_circuit_breaker_transitions_total",
			Help: "Total number of per-host circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	BlockedDials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_blocked_dials_total",
			Help: "Total number of crawler connections refused for non-public addresses",
		},
		[]string{"reason"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordFinished records an analysis reaching status after running for duration.
func RecordFinished(status string, duration time.Duration) {
	AnalysesFinished.WithLabelValues(status).Inc()
	AnalysisDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
