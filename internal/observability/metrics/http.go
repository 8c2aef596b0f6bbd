package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the REST API.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
	authTotal       *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aves_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"}, // route is the registered path, e.g. /api/species/:id
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aves_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "route"},
	)
	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aves_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor10, BucketCount6),
		},
		[]string{"method", "route"},
	)
	m.authTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aves_auth_attempts_total",
			Help: "Bearer token verifications by method and result",
		},
		[]string{"method", "result"}, // method: jwt, supabase; result: success, error
	)
	m.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aves_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
}

// RecordRequest records a completed request.
func (m *HTTPMetrics) RecordRequest(method, route string, status int, size int64, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	if size >= 0 {
		m.responseSize.WithLabelValues(method, route).Observe(float64(size))
	}
}

// RecordAuth records a token verification.
func (m *HTTPMetrics) RecordAuth(method string, err error) {
	m.authTotal.WithLabelValues(method, statusOf(err)).Inc()
}

// RecordRateLimited records a request rejected with 429.
func (m *HTTPMetrics) RecordRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsTotal, m.requestDuration, m.responseSize, m.authTotal, m.rateLimited}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
