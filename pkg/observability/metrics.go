// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the AutomateIQ platform.
package observability

import "github.com/prometheus/client_golang/prometheus"

// APIBuckets defines histogram buckets suited for API request latencies,
// ranging from 5ms to 30s.
var APIBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// EngineBuckets defines histogram buckets suited for AI engine latencies,
// ranging from 100ms to 120s.
var EngineBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automateiq_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: APIBuckets,
		},
		[]string{"method", "path"},
	)

	// RequestsInFlight tracks the number of requests currently being served.
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automateiq_http_requests_in_flight",
			Help: "In-flight HTTP requests",
		},
	)

	// AuthFailuresTotal counts rejected authentication attempts by reason code.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_auth_failures_total",
			Help: "Authentication failures",
		},
		[]string{"reason"},
	)

	// GateRejectionsTotal counts requests rejected by an authorization gate.
	GateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_gate_rejections_total",
			Help: "Authorization gate rejections",
		},
		[]string{"gate", "code"},
	)

	// LoginsTotal counts login attempts by outcome.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_logins_total",
			Help: "Login attempts",
		},
		[]string{"result"},
	)

	// CreditsSpentTotal counts AI credits debited per operation.
	CreditsSpentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_credits_spent_total",
			Help: "AI credits spent",
		},
		[]string{"operation"},
	)

	// EngineRequestsTotal counts requests forwarded to the AI engine.
	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automateiq_engine_requests_total",
			Help: "AI engine requests",
		},
		[]string{"operation", "status"},
	)

	// EngineRequestDuration records AI engine round-trip latency in seconds.
	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automateiq_engine_request_duration_seconds",
			Help:    "AI engine request duration",
			Buckets: EngineBuckets,
		},
		[]string{"operation"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "automateiq_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RequestsInFlight,
		AuthFailuresTotal,
		GateRejectionsTotal,
		LoginsTotal,
		CreditsSpentTotal,
		EngineRequestsTotal,
		EngineRequestDuration,
		RateLimitRejectedTotal,
	)
}
