// Package view attaches live consumers (plots, tables) to a result table.
//
// A Subscription turns every appended row into an (x, y) point, optionally
// dropping rows that fail a filter and routing the rest into sub-series keyed
// by a split column. Subscriptions see only rows appended after they attach;
// a Clear on the table discards their accumulated series.
package view

import (
	"sync"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/results"
)

// Point is one plotted sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Series is an ordered run of points. Key is the split value that selected
// the series, or zero when the subscription has no split column.
type Series struct {
	Key    float64 `json:"key"`
	Points []Point `json:"points"`
}

// Filter reports whether a row should be shown.
type Filter func(row results.Row) bool

// Option configures a Subscription.
type Option func(*Subscription)

// WithFilter drops rows for which f returns false.
func WithFilter(f Filter) Option {
	return func(s *Subscription) {
		s.filter = f
	}
}

// SplitBy routes points into one series per distinct value of column col.
func SplitBy(col int) Option {
	return func(s *Subscription) {
		s.split = col
	}
}

// WithFeed forwards every update to f in addition to recording it.
func WithFeed(f *Feed) Option {
	return func(s *Subscription) {
		s.feed = f
	}
}

// ColumnEquals is a Filter that keeps rows whose column col equals v.
// Rows without column col never match.
func ColumnEquals(col int, v float64) Filter {
	return func(row results.Row) bool {
		if col < 0 || col >= len(row) {
			return false
		}
		return row.Get(col) == v
	}
}

// Subscription is a live (x, y) projection of a result table.
type Subscription struct {
	x, y   int
	split  int
	filter Filter
	feed   *Feed

	mu       sync.RWMutex
	series   []*Series
	byKey    map[float64]*Series
	accepted int
	closed   bool

	cancel func()
}

// Subscribe attaches a new subscription to src projecting columns x and y.
// Column indexes (including any split column) must exist in src.
func Subscribe(src *results.Table, x, y int, opts ...Option) (*Subscription, error) {
	s := &Subscription{
		x:     x,
		y:     y,
		split: -1,
		byKey: make(map[float64]*Series),
	}
	for _, opt := range opts {
		opt(s)
	}

	if src == nil {
		return nil, fault.New(fault.InvalidParameter, "subscribe: no result table")
	}
	n := len(src.Columns())
	var p fault.Problems
	if x < 0 || x >= n {
		p.Addf("x column %d out of range [0,%d)", x, n)
	}
	if y < 0 || y >= n {
		p.Addf("y column %d out of range [0,%d)", y, n)
	}
	if s.split >= n {
		p.Addf("split column %d out of range [0,%d)", s.split, n)
	}
	if err := p.Err(fault.InvalidParameter, "invalid subscription"); err != nil {
		return nil, err
	}

	s.cancel = src.Watch(s)
	return s, nil
}

// RowAppended implements results.Listener.
func (s *Subscription) RowAppended(_ int, row results.Row) {
	if s.filter != nil && !s.filter(row) {
		return
	}

	var key float64
	if s.split >= 0 {
		key = row.Get(s.split)
	}
	pt := Point{X: row.Get(s.x), Y: row.Get(s.y)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ser, ok := s.byKey[key]
	if !ok {
		ser = &Series{Key: key}
		s.byKey[key] = ser
		s.series = append(s.series, ser)
	}
	ser.Points = append(ser.Points, pt)
	s.accepted++
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.Push(Update{Kind: PointAdded, Key: key, Point: pt})
	}
}

// Cleared implements results.Listener.
func (s *Subscription) Cleared() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.series = nil
	s.byKey = make(map[float64]*Series)
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.Push(Update{Kind: SeriesCleared})
	}
}

// Series returns a snapshot of every series in creation order.
func (s *Subscription) Series() []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Series, len(s.series))
	for i, ser := range s.series {
		pts := make([]Point, len(ser.Points))
		copy(pts, ser.Points)
		out[i] = Series{Key: ser.Key, Points: pts}
	}
	return out
}

// Notifications returns how many rows passed the filter since subscribing.
func (s *Subscription) Notifications() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted
}

// Unsubscribe detaches from the table. The table itself is untouched and
// the series collected so far remain readable.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
