package measure

import (
	"context"
	"sync"

	"github.com/roach88/temeasure/internal/fault"
)

// Arbiter hands out the single process-wide run token. A caller must hold
// the token for the whole of an Engine run; the built-in measurements share
// heater and stage instruments and must never drive them at the same time.
//
// The Engine itself does not consult the Arbiter.
type Arbiter struct {
	slot chan struct{}

	mu     sync.Mutex
	holder string
}

// Token is proof of holding the Arbiter.
type Token struct {
	a     *Arbiter
	owner string
	once  sync.Once
}

// NewArbiter creates an arbiter with its token available.
func NewArbiter() *Arbiter {
	a := &Arbiter{slot: make(chan struct{}, 1)}
	a.slot <- struct{}{}
	return a
}

// TryAcquire takes the token without waiting. If another owner holds it the
// result is an InvalidState error naming that owner.
func (a *Arbiter) TryAcquire(owner string) (*Token, error) {
	select {
	case <-a.slot:
		return a.grant(owner), nil
	default:
		holder, _ := a.Holder()
		return nil, fault.New(fault.InvalidState, "another measurement is already running (%s)", holder)
	}
}

// Acquire waits for the token or for ctx to end.
func (a *Arbiter) Acquire(ctx context.Context, owner string) (*Token, error) {
	select {
	case <-a.slot:
		return a.grant(owner), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Holder returns the current owner, if any.
func (a *Arbiter) Holder() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder, a.holder != ""
}

func (a *Arbiter) grant(owner string) *Token {
	a.mu.Lock()
	a.holder = owner
	a.mu.Unlock()
	return &Token{a: a, owner: owner}
}

// Owner returns the name the token was acquired under.
func (t *Token) Owner() string {
	return t.owner
}

// Release returns the token. Later calls do nothing.
func (t *Token) Release() {
	t.once.Do(func() {
		t.a.mu.Lock()
		t.a.holder = ""
		t.a.mu.Unlock()
		t.a.slot <- struct{}{}
	})
}
