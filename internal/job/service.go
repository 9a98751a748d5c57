package job

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/ahmethakanbesel/diadict/internal/progress"
)

// Processor handles execution of a claimed job.
type Processor interface {
	Process(ctx context.Context, j *Job) error
}

// Service queues jobs, answers progress queries and lets callers wait for a
// job to end. It wraps the domain Processor so the worker pool reports back
// through it.
type Service struct {
	repo      Repository
	processor Processor
	notify    func() // optional: wake worker pool

	mu      sync.Mutex
	waiters map[int64]chan struct{}
}

func NewService(repo Repository, processor Processor) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		waiters:   make(map[int64]chan struct{}),
	}
}

// SetNotify sets a callback invoked when a new pending job is created.
func (s *Service) SetNotify(fn func()) { s.notify = fn }

// Submit queues a job. A job already pending or running for the same
// identity is returned instead of a new one.
func (s *Service) Submit(ctx context.Context, req StartRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	k := kinds[req.Kind]
	id := identity(k, req.Params)

	active, err := s.repo.FindActive(ctx, req.Kind, id)
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	if active != nil {
		slog.Info("job already active", "job", active.ID, "kind", req.Kind, "identity", id)
		return active, nil
	}

	j := &Job{
		Kind:     req.Kind,
		Identity: id,
		Params:   maps.Clone(req.Params),
		State:    StatePending,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify()
	}
	return j, nil
}

// Await blocks until job id has ended or ctx is done.
func (s *Service) Await(ctx context.Context, id int64) (*Job, error) {
	ch := s.waiter(id)

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		s.release(id)
		return j, nil
	}

	select {
	case <-ch:
		return s.repo.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Progress reports on the newest job for the request's identity. With no
// such job the answer is idle.
func (s *Service) Progress(ctx context.Context, req ProgressRequest) (progress.Report, error) {
	if err := req.Validate(); err != nil {
		return progress.Report{}, err
	}
	j, err := s.repo.Latest(ctx, req.Kind, identity(kinds[req.Kind], req.Params))
	if err != nil {
		return progress.Report{}, fmt.Errorf("latest job: %w", err)
	}
	if j == nil {
		return progress.Report{Status: progress.StatusIdle}, nil
	}
	return j.Report(), nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListJobsRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, req.Kind)
}

// RecoverStale fails jobs left unfinished by a previous run. Their start
// requests died with that process, so nobody is waiting to rerun them.
func (s *Service) RecoverStale(ctx context.Context) error {
	n, err := s.repo.FailUnfinished(ctx, "interrupted by server restart")
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("failed interrupted jobs", "count", n)
	}
	return nil
}

// Prune deletes finished jobs older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if n > 0 {
		slog.Info("pruned finished jobs", "count", n)
	}
	return n, nil
}

// Process implements Processor for the worker pool. A job the domain
// processor leaves unfinished is marked failed.
func (s *Service) Process(ctx context.Context, j *Job) error {
	defer s.release(j.ID)

	err := s.processor.Process(ctx, j)
	if j.Terminal() {
		return err
	}

	msg := "job ended without a result"
	if err != nil {
		msg = err.Error()
	}
	j.Fail(msg)
	// The job context may already be cancelled; the row must still be closed.
	if uerr := s.repo.Update(context.WithoutCancel(ctx), j); uerr != nil {
		return fmt.Errorf("fail job: %w", uerr)
	}
	return err
}

func (s *Service) waiter(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[id]
	if !ok {
		ch = make(chan struct{})
		s.waiters[id] = ch
	}
	return ch
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[id]; ok {
		close(ch)
		delete(s.waiters, id)
	}
}

// identity keys a job by its progress parameters, ignoring blank values so
// that an omitted optional parameter and an empty one match.
func identity(k progress.Kind, p progress.Params) string {
	clean := make(progress.Params, len(p))
	for key, v := range p {
		if v = strings.TrimSpace(v); v != "" {
			clean[key] = v
		}
	}
	return k.Identity(clean)
}
