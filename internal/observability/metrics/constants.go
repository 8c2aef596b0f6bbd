// Package metrics provides the Prometheus collectors for the AVES server.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration.
const (
	// BucketStart1ms starts 1ms histograms (1ms to ~4s with 12 buckets).
	BucketStart1ms = 0.001
	// BucketStart100ms starts 100ms histograms (100ms to ~7min with 12 buckets).
	BucketStart100ms = 0.1
	// BucketStart100B starts response size histograms (100B to ~10MB).
	BucketStart100B = 100.0

	BucketFactor2  = 2
	BucketFactor10 = 10

	BucketCount6  = 6
	BucketCount12 = 12
)
