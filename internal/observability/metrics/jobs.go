package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks background jobs by type and final status.
type JobMetrics struct {
	started        *prometheus.CounterVec
	finished       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	itemsProcessed *prometheus.CounterVec
	active         *prometheus.GaugeVec
}

// NewJobMetrics creates and registers job metrics.
func NewJobMetrics(registry prometheus.Registerer) (*JobMetrics, error) {
	m := &JobMetrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aves_jobs_started_total",
			Help: "Jobs started by type",
		}, []string{"type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aves_jobs_finished_total",
			Help: "Jobs finished by type and final status",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aves_job_duration_seconds",
			Help:    "Job run time",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12),
		}, []string{"type"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aves_job_items_total",
			Help: "Items processed by jobs",
		}, []string{"type", "result"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aves_jobs_active",
			Help: "Jobs currently processing",
		}, []string{"type"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// JobStarted records a job entering processing.
func (m *JobMetrics) JobStarted(jobType string) {
	m.started.WithLabelValues(jobType).Inc()
	m.active.WithLabelValues(jobType).Inc()
}

// JobFinished records a job reaching a final status.
func (m *JobMetrics) JobFinished(jobType, status string, elapsed time.Duration) {
	m.finished.WithLabelValues(jobType, status).Inc()
	m.duration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	m.active.WithLabelValues(jobType).Dec()
}

// ItemProcessed records one processed item.
func (m *JobMetrics) ItemProcessed(jobType string, err error) {
	m.itemsProcessed.WithLabelValues(jobType, statusOf(err)).Inc()
}

func (m *JobMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.started, m.finished, m.duration, m.itemsProcessed, m.active}
}

// Describe implements the Collector interface
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
