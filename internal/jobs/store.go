package jobs

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
)

const (
	// DefaultTimeout bounds the run time of a single job.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetention is how long finished jobs stay visible.
	DefaultRetention = time.Hour

	// maxItemErrors caps the per-job error list.
	maxItemErrors = 200
)

// Func performs the work of a job. It should return promptly once
// ctx is done or p.Cancelled() reports true.
type Func func(ctx context.Context, p *Progress) error

// Recorder receives job lifecycle events for metrics.
type Recorder interface {
	JobStarted(jobType string)
	JobFinished(jobType, status string, elapsed time.Duration)
	ItemProcessed(jobType string, err error)
}

type entry struct {
	job       Job
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Store tracks jobs in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
	recorder  Recorder
	log       logger.Logger

	baseCtx  context.Context
	stop     context.CancelFunc
	running  sync.WaitGroup
	closed   bool
	janitor  sync.Once
	janitorW sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the per-job timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetention sets how long finished jobs are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty job store.
func NewStore(opts ...Option) *Store {
	ctx, stop := context.WithCancel(context.Background())
	s := &Store{
		jobs:      make(map[string]*entry),
		timeout:   DefaultTimeout,
		retention: DefaultRetention,
		now:       time.Now,
		log:       logger.Global().Module("jobs"),
		baseCtx:   ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new pending job.
func (s *Store) Create(jobType Type, total int, metadata map[string]any) Job {
	e := &entry{job: Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusPending,
		Total:     max(total, 0),
		Errors:    []ItemError{},
		Metadata:  metadata,
		CreatedAt: s.now(),
	}}

	s.mu.Lock()
	s.jobs[e.job.ID] = e
	s.mu.Unlock()

	s.log.Debug("job created",
		logger.String("job_id", e.job.ID),
		logger.String("type", string(jobType)),
		logger.Int("total", e.job.Total))
	return e.job.clone()
}

// Submit creates a job and starts it immediately. A job that cannot be started
// is removed again.
func (s *Store) Submit(jobType Type, total int, metadata map[string]any, fn Func) (Job, error) {
	job := s.Create(jobType, total, metadata)
	if err := s.Run(job.ID, fn); err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return Job{}, err
	}
	return s.Get(job.ID)
}

// Run starts fn for a pending job in its own goroutine under the store timeout.
func (s *Store) Run(id string, fn Func) error {
	if fn == nil {
		return ErrNilFunc
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if e.job.Status != StatusPending {
		status := e.job.Status
		s.mu.Unlock()
		return invalidTransition(id, status, StatusProcessing)
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	started := s.now()
	e.cancel = cancel
	e.job.Status = StatusProcessing
	e.job.StartedAt = &started
	jobType := string(e.job.Type)
	s.running.Add(1)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.JobStarted(jobType)
	}

	go s.execute(ctx, cancel, e, fn, started)
	return nil
}

func (s *Store) execute(ctx context.Context, cancel context.CancelFunc, e *entry, fn Func, started time.Time) {
	defer s.running.Done()
	defer cancel()

	p := &Progress{store: s, entry: e, ctx: ctx}
	err := runSafely(ctx, fn, p)

	s.mu.Lock()
	finished := s.now()
	switch {
	case e.cancelled.Load() || e.job.Status == StatusCancelled:
		e.job.Status = StatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.job.Status = StatusFailed
		e.job.Error = errJobTimedOut.Error()
	case err != nil:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	case s.baseCtx.Err() != nil:
		e.job.Status = StatusCancelled
	default:
		e.job.Status = StatusCompleted
	}
	if e.job.CompletedAt == nil {
		e.job.CompletedAt = &finished
	}
	snapshot := e.job.clone()
	s.mu.Unlock()

	elapsed := finished.Sub(started)
	if s.recorder != nil {
		s.recorder.JobFinished(string(snapshot.Type), string(snapshot.Status), elapsed)
	}

	fields := []logger.Field{
		logger.String("job_id", snapshot.ID),
		logger.String("type", string(snapshot.Type)),
		logger.String("status", string(snapshot.Status)),
		logger.Int("processed", snapshot.Processed),
		logger.Int("failed", snapshot.Failed),
		logger.Duration("elapsed", elapsed),
	}
	if snapshot.Status == StatusFailed {
		s.log.Warn("job failed", append(fields, logger.String("error", snapshot.Error))...)
		return
	}
	s.log.Info("job finished", fields...)
}

// runSafely converts a panic in fn into an error.
func runSafely(ctx context.Context, fn Func, p *Progress) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r).
				Component("jobs").
				Category(errors.CategoryJobQueue).
				Priority(errors.PriorityHigh).
				Build()
		}
	}()
	return fn(ctx, p)
}

// Cancel stops a pending or processing job. Cancelling a finished job,
// including one already cancelled, is an invalid transition.
func (s *Store) Cancel(id string) (Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, notFound(id)
	}
	if !e.job.Status.Cancellable() {
		status := e.job.Status
		s.mu.Unlock()
		return Job{}, invalidTransition(id, status, StatusCancelled)
	}

	now := s.now()
	e.cancelled.Store(true)
	e.job.Status = StatusCancelled
	e.job.CompletedAt = &now
	cancel := e.cancel
	snapshot := e.job.clone()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.log.Info("job cancelled", logger.String("job_id", id), logger.String("type", string(snapshot.Type)))
	return snapshot, nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return e.job.clone(), nil
}

// List returns snapshots of matching jobs, newest first.
func (s *Store) List(filter Filter) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if filter.matches(&e.job) {
			out = append(out, e.job.clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, e := range s.jobs {
		counts[e.job.Status]++
	}
	return counts
}

// Cleanup removes finished jobs that completed before now minus the retention window.
func (s *Store) Cleanup() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.jobs {
		if e.job.Status.IsFinal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Cleanup every interval until ctx is done or the store shuts down.
// Only the first call starts a janitor.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.janitor.Do(func() {
		s.janitorW.Add(1)
		go func() {
			defer s.janitorW.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.baseCtx.Done():
					return
				case <-ticker.C:
					if n := s.Cleanup(); n > 0 {
						s.log.Debug("removed expired jobs", logger.Int("count", n))
					}
				}
			}
		}()
	})
}

// Shutdown cancels all running jobs and waits for them and the janitor to exit,
// or for ctx to be done.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		s.janitorW.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("jobs").
			Category(errors.CategoryTimeout).
			Context("operation", "shutdown").
			Build()
	}
}

func notFound(id string) error {
	return errors.New(ErrJobNotFound).
		Component("jobs").
		Category(errors.CategoryNotFound).
		Context("job_id", id).
		Build()
}

func invalidTransition(id string, from, to Status) error {
	return errors.New(ErrInvalidTransition).
		Component("jobs").
		Category(errors.CategoryConflict).
		Context("job_id", id).
		Context("from", string(from)).
		Context("to", string(to)).
		Build()
}
