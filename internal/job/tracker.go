package job

import (
	"context"
	"sync"
	"time"
)

// Tracker records the progress of a running job. Counter updates are written
// at most once per interval; status changes and Flush always write.
type Tracker struct {
	repo     Repository
	interval time.Duration

	mu      sync.Mutex
	j       *Job
	written time.Time
}

func NewTracker(repo Repository, j *Job, interval time.Duration) *Tracker {
	return &Tracker{repo: repo, j: j, interval: interval}
}

// SetStatus changes the reported status and method. An empty method keeps
// the current one.
func (t *Tracker) SetStatus(ctx context.Context, status, method string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.j.Status = status
	if method != "" {
		t.j.Method = method
	}
	return t.writeLocked(ctx)
}

// Note changes the status text like SetStatus, but is written on the
// counter schedule.
func (t *Tracker) Note(ctx context.Context, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.j.Status = status
	if time.Since(t.written) < t.interval {
		return nil
	}
	return t.writeLocked(ctx)
}

// Add bumps the counters.
func (t *Tracker) Add(ctx context.Context, read, skipped int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.j.Read += read
	t.j.Skipped += skipped
	if time.Since(t.written) < t.interval {
		return nil
	}
	return t.writeLocked(ctx)
}

func (t *Tracker) Finish(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.j.Finish()
	return t.writeLocked(context.WithoutCancel(ctx))
}

func (t *Tracker) Fail(ctx context.Context, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.j.Fail(msg)
	return t.writeLocked(context.WithoutCancel(ctx))
}

func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx)
}

func (t *Tracker) writeLocked(ctx context.Context) error {
	t.written = time.Now()
	return t.repo.Update(ctx, t.j)
}
