// Package sampler runs periodic background work alongside a measurement.
//
// Task is a repeating-task engine; Logger builds on it to sample read-only
// instrument capabilities into its own result table. A Logger never holds a
// Source, so it cannot race a measurement run on instrument writes.
package sampler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/temeasure/internal/fault"
)

// TaskFunc is invoked once per period. elapsed is the time since Start.
type TaskFunc func(ctx context.Context, elapsed time.Duration) error

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithTaskLogger sets the logger (default slog.Default()).
func WithTaskLogger(l *slog.Logger) TaskOption {
	return func(t *Task) {
		t.logger = l
	}
}

// WithNow replaces the clock used to compute elapsed time.
func WithNow(now func() time.Time) TaskOption {
	return func(t *Task) {
		t.now = now
	}
}

// Task calls a function at a fixed period on its own goroutine.
//
// The first call happens immediately on Start. A call that overruns the
// period delays the next one rather than overlapping it. Errors returned by
// the function are logged and counted; the task keeps running.
type Task struct {
	period time.Duration
	fn     TaskFunc
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	calls    int
	failures int
	lastErr  error
}

// NewTask creates a stopped task. period must be positive.
func NewTask(period time.Duration, fn TaskFunc, opts ...TaskOption) (*Task, error) {
	var p fault.Problems
	if period <= 0 {
		p.Addf("period must be > 0, got %s", period)
	}
	if fn == nil {
		p.Add("task function is required")
	}
	if err := p.Err(fault.InvalidParameter, "invalid periodic task"); err != nil {
		return nil, err
	}

	t := &Task{
		period: period,
		fn:     fn,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start begins calling the function. Starting a running task does nothing.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	t.started = t.now()

	go t.loop(runCtx, t.done)
}

// Stop ends the task and waits for an in-flight call to return. Stopping a
// task that is not running does nothing. Must not be called from the task
// function itself.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	<-done
}

// Running reports whether the task is started and its context is live.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the time since the last Start.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return t.now().Sub(t.started)
}

// Calls returns how many times the function ran and how many of those failed.
func (t *Task) Calls() (calls, failures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls, t.failures
}

// LastErr returns the most recent failure, or nil.
func (t *Task) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// A cancelled parent context ends the run without Stop.
	defer func() {
		t.mu.Lock()
		if t.done == done {
			t.running = false
		}
		t.mu.Unlock()
	}()

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		t.invoke(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Task) invoke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	elapsed := t.now().Sub(t.started)
	t.mu.Unlock()

	err := t.fn(ctx, elapsed)

	t.mu.Lock()
	t.calls++
	if err != nil {
		t.failures++
		t.lastErr = err
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("periodic task failed", "elapsed", elapsed, "error", err)
	}
}
