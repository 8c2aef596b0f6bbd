package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aves-app/aves/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []string
	items    int
	failures int
}

func (r *recordingRecorder) JobStarted(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, jobType)
}

func (r *recordingRecorder) JobFinished(jobType, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, jobType+":"+status)
}

func (r *recordingRecorder) ItemProcessed(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items++
	if err != nil {
		r.failures++
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
	})
	return s
}

func waitForStatus(t *testing.T, s *Store, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.Get(id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestCreateIsPending(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	job := s.Create(TypeImageCollection, 3, map[string]any{"speciesIds": []string{"a"}})

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Empty(t, job.Errors)
	assert.NotNil(t, job.Errors)
	assert.Nil(t, job.StartedAt)
	assert.Zero(t, job.Progress())
}

func TestRunCompletesAndCountsItems(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	s := newTestStore(t, WithRecorder(rec))

	job, err := s.Submit(TypeBatchAnnotation, 3, nil, func(ctx context.Context, p *Progress) error {
		p.Step("img-1", nil)
		p.Step("img-2", errors.NewStd("vision failed"))
		p.Step("img-3", nil)
		p.SetResult("annotationsCreated", 7)
		return nil
	})
	require.NoError(t, err)

	done := waitForStatus(t, s, job.ID, StatusCompleted)
	assert.Equal(t, 3, done.Processed)
	assert.Equal(t, 2, done.Succeeded)
	assert.Equal(t, 1, done.Failed)
	require.Len(t, done.Errors, 1)
	assert.Equal(t, "img-2", done.Errors[0].Item)
	assert.Equal(t, "vision failed", done.Errors[0].Error)
	assert.Equal(t, 7, done.Result["annotationsCreated"])
	assert.InDelta(t, 100.0, done.Progress(), 0.001)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.finished) == 1
	}, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"batch_annotation"}, rec.started)
	assert.Equal(t, []string{"batch_annotation:completed"}, rec.finished)
	assert.Equal(t, 3, rec.items)
	assert.Equal(t, 1, rec.failures)
}

func TestRunFailureAndPanic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fn      Func
		wantErr string
	}{
		{
			name:    "returned error",
			fn:      func(context.Context, *Progress) error { return fmt.Errorf("unsplash unavailable") },
			wantErr: "unsplash unavailable",
		},
		{
			name:    "panic",
			fn:      func(context.Context, *Progress) error { panic("boom") },
			wantErr: "job panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestStore(t)
			job, err := s.Submit(TypeImageCollection, 1, nil, tt.fn)
			require.NoError(t, err)

			failed := waitForStatus(t, s, job.ID, StatusFailed)
			assert.Equal(t, tt.wantErr, failed.Error)
		})
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, WithTimeout(20*time.Millisecond))
	job, err := s.Submit(TypeImageCollection, 1, nil, func(ctx context.Context, _ *Progress) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	failed := waitForStatus(t, s, job.ID, StatusFailed)
	assert.Equal(t, errJobTimedOut.Error(), failed.Error)
}

func TestRunRejectsNonPending(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	job, err := s.Submit(TypeImageCollection, 0, nil, func(context.Context, *Progress) error { return nil })
	require.NoError(t, err)
	waitForStatus(t, s, job.ID, StatusCompleted)

	err = s.Run(job.ID, func(context.Context, *Progress) error { return nil })
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	err = s.Run("missing", func(context.Context, *Progress) error { return nil })
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.True(t, errors.IsNotFound(err))

	require.ErrorIs(t, s.Run(job.ID, nil), ErrNilFunc)
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	job := s.Create(TypeImageCollection, 2, nil)

	cancelled, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	err = s.Run(job.ID, func(context.Context, *Progress) error { return nil })
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelProcessingJobStopsWork(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	s := newTestStore(t, WithRecorder(rec))
	started := make(chan struct{})

	job, err := s.Submit(TypeImageCollection, 100, nil, func(ctx context.Context, p *Progress) error {
		close(started)
		for i := range 100 {
			if p.Cancelled() {
				return ctx.Err()
			}
			p.Step(fmt.Sprintf("species-%d", i), nil)
			time.Sleep(2 * time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	<-started

	cancelled, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.finished) == 1
	}, 2*time.Second, 5*time.Millisecond)

	final, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Less(t, final.Processed, 100)

	rec.mu.Lock()
	assert.Equal(t, []string{"image_collection:cancelled"}, rec.finished)
	rec.mu.Unlock()
}

func TestCancelFinalJobIsConflict(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	job := s.Create(TypeBatchAnnotation, 1, nil)
	_, err := s.Cancel(job.ID)
	require.NoError(t, err)

	_, err = s.Cancel(job.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = s.Cancel("unknown")
	assert.True(t, errors.IsNotFound(err))
}

func TestListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	s := newTestStore(t, WithClock(clock))
	first := s.Create(TypeImageCollection, 1, nil)
	second := s.Create(TypeBatchAnnotation, 1, nil)
	third := s.Create(TypeImageCollection, 1, nil)
	_, err := s.Cancel(third.ID)
	require.NoError(t, err)

	all := s.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	images := s.List(Filter{Type: TypeImageCollection})
	require.Len(t, images, 2)

	pending := s.List(Filter{Status: StatusPending})
	require.Len(t, pending, 2)

	both := s.List(Filter{Type: TypeImageCollection, Status: StatusCancelled})
	require.Len(t, both, 1)
	assert.Equal(t, third.ID, both[0].ID)

	counts := s.Counts()
	assert.Equal(t, 2, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusCancelled])
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	job := s.Create(TypeImageCollection, 1, map[string]any{"count": 1})
	job.Metadata["count"] = 99

	again, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Metadata["count"])
}

func TestCleanupRemovesExpiredFinishedJobs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	s := newTestStore(t, WithClock(clock), WithRetention(time.Hour))
	finished := s.Create(TypeImageCollection, 1, nil)
	_, err := s.Cancel(finished.ID)
	require.NoError(t, err)
	pending := s.Create(TypeImageCollection, 1, nil)

	assert.Zero(t, s.Cleanup())

	advance(2 * time.Hour)
	assert.Equal(t, 1, s.Cleanup())

	_, err = s.Get(finished.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = s.Get(pending.ID)
	assert.NoError(t, err)
}

func TestJanitorStopsOnShutdown(t *testing.T) {
	t.Parallel()

	s := NewStore(WithRetention(time.Millisecond))
	s.StartJanitor(context.Background(), 5*time.Millisecond)
	s.StartJanitor(context.Background(), 5*time.Millisecond)

	job := s.Create(TypeImageCollection, 1, nil)
	_, err := s.Cancel(job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.Get(job.ID)
		return errors.IsNotFound(err)
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	s := NewStore()
	started := make(chan struct{})
	job, err := s.Submit(TypeBatchAnnotation, 1, nil, func(ctx context.Context, _ *Progress) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	final, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	_, err = s.Submit(TypeBatchAnnotation, 1, nil, func(context.Context, *Progress) error { return nil })
	require.ErrorIs(t, err, ErrStoreClosed)
	assert.Len(t, s.List(Filter{}), 1, "a job that never started must not linger as pending")
}

func TestSubmitFailureLeavesNoPendingJob(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Submit(TypeImageCollection, 2, nil, nil)
	require.ErrorIs(t, err, ErrNilFunc)

	assert.Empty(t, s.List(Filter{}))
	assert.Zero(t, s.Counts()[StatusPending])
}
