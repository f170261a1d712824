package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks API request volume and latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle *prometheus.CounterVec
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics
)

// HTTP returns the process-wide API metrics.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route, method and status code.",
			}, []string{"route", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dualbond",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttle)
	})
	return httpRegistry
}

// Observe records a finished request.
func (m *HTTPMetrics) Observe(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Throttled records a rate limited request.
func (m *HTTPMetrics) Throttled(route string) {
	if m == nil {
		return
	}
	m.throttle.WithLabelValues(route).Inc()
}
