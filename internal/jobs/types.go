// Package jobs tracks asynchronous bulk operations (image collection, batch
// annotation) in memory. Job state does not survive a restart.
package jobs

import (
	stderrors "errors"
	"maps"
	"slices"
	"time"
)

// Common errors returned by store operations
var (
	ErrJobNotFound       = stderrors.New("job not found")
	ErrInvalidTransition = stderrors.New("invalid job status transition")
	ErrStoreClosed       = stderrors.New("job store is shut down")
	ErrNilFunc           = stderrors.New("cannot run nil job function")
	errJobTimedOut       = stderrors.New("job exceeded its timeout")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsFinal reports whether no further transitions are possible.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether Cancel is allowed from s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Type identifies the kind of work a job performs.
type Type string

const (
	TypeImageCollection Type = "image_collection"
	TypeBatchAnnotation Type = "batch_annotation"
)

// ItemError records the failure of one item within a job.
type ItemError struct {
	Item      string    `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a snapshot of a tracked job. Values returned by the store are copies.
type Job struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Status      Status         `json:"status"`
	Total       int            `json:"total"`
	Processed   int            `json:"processed"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Errors      []ItemError    `json:"errors"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Progress returns processed/total as a percentage (0 when total is unknown).
func (j *Job) Progress() float64 {
	if j.Total <= 0 {
		return 0
	}
	return float64(j.Processed) / float64(j.Total) * 100
}

func (j *Job) clone() Job {
	c := *j
	c.Errors = slices.Clone(j.Errors)
	if c.Errors == nil {
		c.Errors = []ItemError{}
	}
	c.Metadata = maps.Clone(j.Metadata)
	c.Result = maps.Clone(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type   Type
	Status Status
}

func (f Filter) matches(j *Job) bool {
	return (f.Type == "" || j.Type == f.Type) && (f.Status == "" || j.Status == f.Status)
}
