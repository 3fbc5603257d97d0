// Package metrics provides Prometheus instrumentation for the payment gate.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paygate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// GateDecisionsTotal counts admission decisions by outcome reason.
	// "granted" is used for admitted requests.
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "gate_decisions_total",
			Help:      "Admission gate decisions by reason code.",
		},
		[]string{"reason"},
	)

	// VerificationsTotal counts chain verification attempts by network and outcome.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "verifications_total",
			Help:      "On-chain payment verifications by network and outcome.",
		},
		[]string{"network", "outcome"},
	)

	// VerificationDuration observes chain RPC verification latency by network.
	VerificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paygate",
			Name:      "verification_duration_seconds",
			Help:      "Chain verification duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"network"},
	)

	// RateLimitedTotal counts requests denied by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paygate",
		Name:      "rate_limited_total",
		Help:      "Total requests denied by the rate limiter.",
	})

	// FetchAttemptsTotal counts outbound fetch attempts by result.
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "fetch_attempts_total",
			Help:      "Outbound fetch attempts by result (ok, retryable, terminal, blocked).",
		},
		[]string{"result"},
	)

	// ReplayStoreSize tracks the number of consumed transaction ids held in memory.
	ReplayStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paygate",
		Name:      "replay_store_size",
		Help:      "Number of consumed (network, tx) pairs in the replay store.",
	})

	// RateWindowsTracked tracks the number of live client rate windows.
	RateWindowsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paygate",
		Name:      "rate_windows_tracked",
		Help:      "Number of client rate-limit windows currently tracked.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GateDecisionsTotal,
		VerificationsTotal,
		VerificationDuration,
		RateLimitedTotal,
		FetchAttemptsTotal,
		ReplayStoreSize,
		RateWindowsTracked,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
