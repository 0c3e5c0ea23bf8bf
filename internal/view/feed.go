package view

import (
	"context"
	"sync"

	"github.com/roach88/temeasure/internal/results"
)

// UpdateKind distinguishes feed updates.
type UpdateKind int

const (
	// PointAdded carries one new point for the series identified by Key.
	PointAdded UpdateKind = iota + 1
	// RowAdded carries one new whole row (table views).
	RowAdded
	// SeriesCleared tells the consumer to drop everything it has drawn.
	SeriesCleared
)

// Update is one change delivered through a Feed.
type Update struct {
	Kind  UpdateKind
	Key   float64
	Point Point
	Row   results.Row
}

// DefaultFeedCapacity bounds a Feed created with capacity <= 0.
const DefaultFeedCapacity = 256

// Feed hands updates from the measuring goroutine to a consumer running in
// another context (e.g. a UI loop).
//
// The queue is bounded. Push blocks while it is full so updates are never
// dropped and always arrive in append order; a stalled consumer therefore
// stalls the producer.
//
// Waiting is channel based so Run can honour context cancellation.
type Feed struct {
	mu       sync.Mutex
	items    []Update
	capacity int
	closed   bool
	signal   chan struct{} // item available (buffered, size 1)
	space    chan struct{} // slot available (buffered, size 1)
}

// NewFeed creates a feed holding at most capacity pending updates.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		items:    make([]Update, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Push appends u, blocking while the feed is full.
// Returns false if the feed is closed.
func (f *Feed) Push(u Update) bool {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return false
		}
		if len(f.items) < f.capacity {
			f.items = append(f.items, u)
			if len(f.items) < f.capacity {
				// pass the wakeup on to any other blocked producer
				notify(f.space)
			}
			notify(f.signal)
			f.mu.Unlock()
			return true
		}
		f.mu.Unlock()
		<-f.space
	}
}

// TryPop removes the oldest update without blocking.
func (f *Feed) TryPop() (Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return Update{}, false
	}
	u := f.items[0]
	f.items[0] = Update{}
	if len(f.items) == 1 {
		f.items = f.items[:0]
	} else {
		f.items = f.items[1:]
	}
	if !f.closed {
		notify(f.space)
	}
	return u, true
}

// Len returns the number of pending updates.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Run delivers updates to handle until the feed is closed and drained or ctx
// is cancelled.
func (f *Feed) Run(ctx context.Context, handle func(Update)) error {
	for {
		if u, ok := f.TryPop(); ok {
			handle(u)
			continue
		}

		f.mu.Lock()
		done := f.closed && len(f.items) == 0
		f.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.signal:
		}
	}
}

// Close stops accepting updates and wakes blocked producers and consumers.
// Pending updates are still delivered by Run.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.signal)
	close(f.space)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
