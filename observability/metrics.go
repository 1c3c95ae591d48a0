package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics records calls served by the daemon's HTTP groups.
type APIMetrics struct {
	calls     *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttled *prometheus.CounterVec
}

var (
	apiOnce    sync.Once
	apiMetrics *APIMetrics
)

// latencyBuckets cover a state commit on LevelDB, from sub-millisecond views
// to multi-second fulfilment batches.
var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// API returns the process-wide call metrics.
func API() *APIMetrics {
	apiOnce.Do(func() {
		apiMetrics = &APIMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "api",
				Name:      "calls_total",
				Help:      "API calls by route group, operation and status class.",
			}, []string{"group", "operation", "class"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "api",
				Name:      "rejected_total",
				Help:      "API calls answered with an error status, by exact code.",
			}, []string{"group", "operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "api",
				Name:      "call_duration_seconds",
				Help:      "Time spent serving API calls.",
				Buckets:   latencyBuckets,
			}, []string{"group", "operation"}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "api",
				Name:      "throttled_total",
				Help:      "API calls turned away before reaching the protocol.",
			}, []string{"group", "reason"}),
		}
		prometheus.MustRegister(apiMetrics.calls, apiMetrics.rejected, apiMetrics.latency, apiMetrics.throttled)
	})
	return apiMetrics
}

func label(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// statusClass folds an HTTP status into "2xx", "4xx" and so on.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Observe records one served call with the status finally written.
func (m *APIMetrics) Observe(group, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	group = label(group, "unknown")
	operation = label(operation, "unknown")
	m.calls.WithLabelValues(group, operation, statusClass(status)).Inc()
	if status >= 400 {
		m.rejected.WithLabelValues(group, operation, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(group, operation).Observe(elapsed.Seconds())
}

// Throttled counts a call refused by an admission policy such as the rate
// limiter.
func (m *APIMetrics) Throttled(group, reason string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(label(group, "unknown"), label(reason, "unspecified")).Inc()
}
