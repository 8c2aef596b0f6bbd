package jobs

import "context"

// Progress is handed to a running Func to report per-item outcomes.
type Progress struct {
	store *Store
	entry *entry
	ctx   context.Context
}

// Step records one processed item. A non-nil err is captured as an ItemError.
func (p *Progress) Step(item string, err error) {
	s := p.store

	s.mu.Lock()
	j := &p.entry.job
	j.Processed++
	if err != nil {
		j.Failed++
		if len(j.Errors) < maxItemErrors {
			j.Errors = append(j.Errors, ItemError{Item: item, Error: err.Error(), Timestamp: s.now()})
		}
	} else {
		j.Succeeded++
	}
	jobType := string(j.Type)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ItemProcessed(jobType, err)
	}
}

// SetTotal updates the expected item count once it is known.
func (p *Progress) SetTotal(total int) {
	p.store.mu.Lock()
	p.entry.job.Total = max(total, 0)
	p.store.mu.Unlock()
}

// SetResult stores a summary value exposed on the job.
func (p *Progress) SetResult(key string, value any) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if p.entry.job.Result == nil {
		p.entry.job.Result = make(map[string]any)
	}
	p.entry.job.Result[key] = value
}

// Cancelled reports whether the job was cancelled or its context is done.
func (p *Progress) Cancelled() bool {
	return p.entry.cancelled.Load() || p.ctx.Err() != nil
}

// JobID returns the id of the running job.
func (p *Progress) JobID() string {
	return p.entry.job.ID
}
