package testutil

import (
	"context"
	"sync"
	"time"
)

// InstantWaiter satisfies the measurement hold interface without sleeping.
// It records every requested hold so tests can assert on timing parameters.
//
// If a hook is installed with OnWait it runs before each hold returns, which
// lets a test stop a run at an exact point.
type InstantWaiter struct {
	mu     sync.Mutex
	holds  []time.Duration
	onWait func(n int, d time.Duration)
}

// NewInstantWaiter creates a waiter with no hook.
func NewInstantWaiter() *InstantWaiter {
	return &InstantWaiter{}
}

// OnWait installs fn, called with the 1-based hold number and duration.
func (w *InstantWaiter) OnWait(fn func(n int, d time.Duration)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWait = fn
}

// Wait records d and returns immediately, or ctx.Err() if ctx is done.
func (w *InstantWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.holds = append(w.holds, d)
	n := len(w.holds)
	fn := w.onWait
	w.mu.Unlock()

	if fn != nil {
		fn(n, d)
	}
	return ctx.Err()
}

// Holds returns every recorded hold in order.
func (w *InstantWaiter) Holds() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.holds))
	copy(out, w.holds)
	return out
}

// Total returns the sum of all recorded holds, the time a real run would
// have spent settling.
func (w *InstantWaiter) Total() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	var sum time.Duration
	for _, d := range w.holds {
		sum += d
	}
	return sum
}
