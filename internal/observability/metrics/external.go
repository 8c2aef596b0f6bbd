package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aves-app/aves/internal/httpclient"
)

// ExternalAPIMetrics tracks outbound calls to Unsplash, Anthropic and Supabase.
type ExternalAPIMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewExternalAPIMetrics creates and registers outbound API metrics.
func NewExternalAPIMetrics(registry prometheus.Registerer) (*ExternalAPIMetrics, error) {
	m := &ExternalAPIMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aves_external_requests_total",
			Help: "Outbound API requests by service and status code (0 for transport errors)",
		}, []string{"service", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aves_external_request_duration_seconds",
			Help:    "Outbound API latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms*10, BucketFactor2, BucketCount12),
		}, []string{"service"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aves_external_retries_total",
			Help: "Outbound API retries by service",
		}, []string{"service"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Instrument installs an after-response hook on client recording service metrics.
func (m *ExternalAPIMetrics) Instrument(service string, client *httpclient.Client) {
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
		}
		m.requests.WithLabelValues(service, strconv.Itoa(code)).Inc()
		m.duration.WithLabelValues(service).Observe(elapsed.Seconds())
	})
}

// RecordRetry records a retried outbound call.
func (m *ExternalAPIMetrics) RecordRetry(service string) {
	m.retries.WithLabelValues(service).Inc()
}

func (m *ExternalAPIMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.duration, m.retries}
}

// Describe implements the Collector interface
func (m *ExternalAPIMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ExternalAPIMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
