// Package observability exposes Prometheus metrics for the AVES server.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aves-app/aves/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	HTTP     *metrics.HTTPMetrics
	Jobs     *metrics.JobMetrics
	External *metrics.ExternalAPIMetrics
}

// NewMetrics creates a registry with Go runtime, process and AVES collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	jobMetrics, err := metrics.NewJobMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create job metrics: %w", err)
	}

	externalMetrics, err := metrics.NewExternalAPIMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create external API metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		HTTP:     httpMetrics,
		Jobs:     jobMetrics,
		External: externalMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
