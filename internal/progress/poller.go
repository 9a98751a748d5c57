// Package progress tracks long-running server-side jobs by polling their
// progress endpoint and rendering each status report.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

const finishedLayout = "02/Jan/2006 15:04:05"

// Transport talks to the job endpoints.
type Transport interface {
	// Start asks the server to run the job. A nil report with a nil error means
	// the server answered with something other than a status report.
	Start(ctx context.Context, url string, params url.Values) (*Report, error)
	Progress(ctx context.Context, url string, params url.Values) (Report, error)
}

// Timing holds the poll cadence.
type Timing struct {
	Initial time.Duration // first poll after start
	Idle    time.Duration // after an idle report
	Active  time.Duration // after an in-progress report
}

func DefaultTiming() Timing {
	return Timing{Initial: 3 * time.Second, Idle: 5 * time.Second, Active: time.Second}
}

// RetryPolicy bounds the delay between progress queries that failed in transport.
// MaxFailures of zero retries until the context ends.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxFailures int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Second, Max: 30 * time.Second}
}

// Outcome is how a tracked job ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeFinished
	OutcomeFailed
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "pending"
	}
}

// Result is the final state of a poller.
type Result struct {
	Outcome Outcome
	Report  Report
	Err     error
	EndedAt time.Time
}

type Option func(*Poller)

func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithTiming(t Timing) Option {
	return func(p *Poller) { p.timing = t }
}

func WithRetryPolicy(r RetryPolicy) Option {
	return func(p *Poller) { p.retry = r }
}

// Poller drives one job from its start request to a terminal status. It owns
// the only poll timer for the job; every reschedule invalidates the previous one.
type Poller struct {
	kind      Kind
	transport Transport
	display   Display
	clock     clockwork.Clock
	timing    Timing
	retry     RetryPolicy

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	params   Params
	started  bool
	stopped  bool
	inFlight bool
	timer    clockwork.Timer
	gen      uint64
	next     time.Duration
	failures int
	backoff  *backoff.ExponentialBackOff
	result   Result
	done     chan struct{}
}

func NewPoller(kind Kind, transport Transport, display Display, opts ...Option) *Poller {
	p := &Poller{
		kind:      kind,
		transport: transport,
		display:   display,
		clock:     clockwork.NewRealClock(),
		timing:    DefaultTiming(),
		retry:     DefaultRetryPolicy(),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Kind returns the job type this poller tracks.
func (p *Poller) Kind() Kind { return p.kind }

// Start validates params, renders a waiting status, arms the first poll and
// fires the start request without waiting for it. Cancelling ctx tears the
// poller down as Close does.
func (p *Poller) Start(ctx context.Context, params Params) error {
	if err := p.kind.Validate(params); err != nil {
		p.mu.Lock()
		p.display.ShowStatus(fmt.Sprintf("Cannot start %s: %v", p.kind.Name, err))
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errPollerUsed
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.params = maps.Clone(params)
	p.backoff = p.newBackoff()
	context.AfterFunc(p.ctx, p.Close)

	p.display.ShowStatus(fmt.Sprintf("Waiting for %s to start...", p.kind.Name))
	p.scheduleLocked(p.timing.Initial)
	startCtx := p.ctx
	p.mu.Unlock()

	slog.Info("job started", "job", p.kind.Name, "params", p.kind.ProgressParams(params))
	go p.start(startCtx)
	return nil
}

func (p *Poller) start(ctx context.Context) {
	report, err := p.transport.Start(ctx, p.kind.StartURL, p.params.Values())
	switch {
	case errors.Is(err, ErrRejected):
		p.mu.Lock()
		defer p.mu.Unlock()
		p.finishLocked(OutcomeFailed, "Error: "+err.Error(), fmt.Errorf("%w: %w", ErrJobFailed, err))
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		slog.Warn("start request failed, relying on progress polling", "job", p.kind.Name, "error", err)
	case report != nil && report.Status == StatusError:
		p.HandleReport(*report)
	default:
		p.conclude(report)
	}
}

// PollOnce issues one progress query and handles the answer. It does nothing
// when the poller is not running or a query is already in flight.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	if !p.started || p.stopped || p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	params := p.kind.ProgressParams(p.params)
	p.mu.Unlock()

	report, err := p.transport.Progress(ctx, p.kind.ProgressURL, params.Values())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if p.stopped {
		return
	}
	if err != nil {
		p.transportFailureLocked(err)
		return
	}
	if p.failures > 0 {
		p.failures = 0
		p.backoff.Reset()
	}
	p.handleLocked(report)
}

// HandleReport renders r and schedules the next poll. It returns the delay
// until that poll, or terminal=true when the job has ended.
func (p *Poller) HandleReport(r Report) (next time.Duration, terminal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0, true
	}
	return p.handleLocked(r)
}

func (p *Poller) handleLocked(r Report) (time.Duration, bool) {
	p.result.Report = r

	switch r.Status {
	case StatusError:
		p.finishLocked(OutcomeFailed, r.ErrorText(), fmt.Errorf("%w: %s", ErrJobFailed, r.ErrorText()))
		return 0, true
	case StatusDone:
		if r.HasCounters() {
			p.display.ShowCounters(r.Read, r.Skipped)
		}
		p.finishLocked(OutcomeFinished, p.finishedText(), nil)
		return 0, true
	}

	p.display.ShowStatus(r.Text())
	// A zero-count report must not blank counters already on screen.
	if r.HasCounters() {
		p.display.ShowCounters(r.Read, r.Skipped)
	}

	delay := p.timing.Active
	if r.Status == StatusIdle {
		delay = p.timing.Idle
	}
	p.scheduleLocked(delay)
	return delay, false
}

func (p *Poller) transportFailureLocked(err error) {
	if p.ctx.Err() != nil {
		return
	}
	p.failures++
	if p.retry.MaxFailures > 0 && p.failures >= p.retry.MaxFailures {
		p.finishLocked(OutcomeFailed, "Error: progress endpoint unreachable",
			fmt.Errorf("%w: progress endpoint unreachable after %d attempts: %w", ErrJobFailed, p.failures, err))
		return
	}

	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = p.retry.Max
	}
	slog.Warn("progress query failed", "job", p.kind.Name, "attempt", p.failures, "retryIn", delay.String(), "error", err)
	p.scheduleLocked(delay)
}

// Stop ends polling and renders the finished message. Calling it again is a no-op.
func (p *Poller) Stop() {
	p.conclude(nil)
}

func (p *Poller) conclude(final *Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if final != nil {
		p.result.Report = *final
		if final.HasCounters() {
			p.display.ShowCounters(final.Read, final.Skipped)
		}
	}
	p.finishLocked(OutcomeFinished, p.finishedText(), nil)
}

// Close releases the timer and aborts in-flight requests without rendering
// anything. It is what happens when the status region goes away.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked(OutcomeAbandoned, "", nil)
}

// Done is closed once the poller has ended for any reason.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until the poller ends or ctx is cancelled.
func (p *Poller) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.Result(), nil
	case <-ctx.Done():
		return p.Result(), ctx.Err()
	}
}

func (p *Poller) Result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// NextPoll returns the delay of the armed poll, if any.
func (p *Poller) NextPoll() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next, p.timer != nil
}

func (p *Poller) scheduleLocked(d time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.next = d
	// The poll re-arms the timer, so it must not run on the clock's goroutine.
	p.timer = p.clock.AfterFunc(d, func() { go p.fire(gen) })
}

func (p *Poller) fire(gen uint64) {
	p.mu.Lock()
	if !p.started || p.stopped || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.next = 0
	ctx := p.ctx
	p.mu.Unlock()

	p.PollOnce(ctx)
}

func (p *Poller) finishLocked(outcome Outcome, text string, err error) {
	if p.stopped {
		return
	}
	p.stopped = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.next = 0

	p.result.Outcome = outcome
	p.result.Err = err
	p.result.EndedAt = p.clock.Now()
	if text != "" {
		p.display.ShowStatus(text)
	}
	close(p.done)
	if p.cancel != nil {
		p.cancel()
	}

	slog.Info("job tracking ended", "job", p.kind.Name, "outcome", outcome.String(), "status", p.result.Report.Status)
}

func (p *Poller) finishedText() string {
	return "Finished processing at " + p.clock.Now().Format(finishedLayout)
}

func (p *Poller) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retry.Initial
	b.MaxInterval = p.retry.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
