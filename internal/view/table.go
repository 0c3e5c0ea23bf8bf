package view

import (
	"sync"

	"github.com/roach88/temeasure/internal/results"
)

// Table is a live whole-row view of a result table, the backing model for
// a results grid.
type Table struct {
	filter Filter
	feed   *Feed

	mu   sync.RWMutex
	cols []results.Column
	rows []results.Row

	cancel func()
}

// TableOption configures a Table view.
type TableOption func(*Table)

// RowFilter limits the view to rows for which f returns true.
func RowFilter(f Filter) TableOption {
	return func(t *Table) {
		t.filter = f
	}
}

// RowFeed forwards every accepted row to f.
func RowFeed(f *Feed) TableOption {
	return func(t *Table) {
		t.feed = f
	}
}

// WatchTable attaches a whole-row view to src.
func WatchTable(src *results.Table, opts ...TableOption) *Table {
	t := &Table{cols: src.Columns()}
	for _, opt := range opts {
		opt(t)
	}
	t.cancel = src.Watch(t)
	return t
}

// RowAppended implements results.Listener.
func (t *Table) RowAppended(_ int, row results.Row) {
	if t.filter != nil && !t.filter(row) {
		return
	}
	t.mu.Lock()
	t.rows = append(t.rows, row)
	t.mu.Unlock()

	if t.feed != nil {
		t.feed.Push(Update{Kind: RowAdded, Row: append(results.Row(nil), row...)})
	}
}

// Cleared implements results.Listener.
func (t *Table) Cleared() {
	t.mu.Lock()
	t.rows = nil
	t.mu.Unlock()

	if t.feed != nil {
		t.feed.Push(Update{Kind: SeriesCleared})
	}
}

// Columns returns the viewed table's columns.
func (t *Table) Columns() []results.Column {
	return t.cols
}

// Rows returns a snapshot of the visible rows.
func (t *Table) Rows() []results.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]results.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = append(results.Row(nil), r...)
	}
	return out
}

// Len returns the number of visible rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Close detaches the view.
func (t *Table) Close() {
	t.cancel()
}
