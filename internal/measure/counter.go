package measure

import "sync/atomic"

// Counter numbers the rows of one run.
//
// Every appended row takes the next value, so the "No." column is strictly
// increasing in append order. Safe for concurrent use, although only the
// run worker calls Next.
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter whose first value is 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter whose first value is start.
func NewCounterAt(start int64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next row number.
func (c *Counter) Next() int64 {
	return c.seq.Add(1) - 1
}

// Issued returns how many numbers have been handed out (the next value).
func (c *Counter) Issued() int64 {
	return c.seq.Load()
}
