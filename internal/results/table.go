// Package results implements the append-only, column-typed result table that
// every measurement writes to.
//
// A Table owns a fixed column list and forwards rows to a Backend: memory,
// a delimited streaming file, a SQLite store, or several at once via Multi.
// Rows are never mutated or deleted; insertion order is storage order.
//
// Concurrency model:
//   - Append/Clear/Finalize are serialized; a single run worker is the usual writer
//   - Len/Rows/Columns are safe from any goroutine while a writer is active
//   - Listeners are notified synchronously on the writing goroutine, in append
//     order, after the row has reached the backend
package results

import (
	"sync"

	"github.com/roach88/temeasure/internal/fault"
)

// Backend stores rows on behalf of a Table.
//
// Write must not buffer in a way that loses acknowledged rows if the process
// dies. Close is called at most once.
type Backend interface {
	Write(row Row) error
	Reset() error
	Close() error
}

// Listener observes a Table.
// Callbacks run on the appending goroutine and must not call Append, Clear or
// Finalize on the same table.
type Listener interface {
	// RowAppended is called once per appended row. index is the row's
	// position in the table (0-based, reset by Clear).
	RowAppended(index int, row Row)

	// Cleared is called after the table has been reset to zero rows.
	Cleared()
}

// Table is an append-only result table.
type Table struct {
	columns []Column
	backend Backend

	// writeMu serializes Append/Clear/Finalize so backend writes and listener
	// notifications happen in one total order.
	writeMu sync.Mutex

	mu        sync.RWMutex
	count     int
	finalized bool
	listeners map[int]Listener
	order     []int
	nextID    int
}

// New creates a table over the given backend.
// The column slice is copied; the column set never changes afterwards.
func New(columns []Column, backend Backend) (*Table, error) {
	var p fault.Problems
	if len(columns) == 0 {
		p.Add("at least one column is required")
	}
	if backend == nil {
		p.Add("backend is required")
	}
	if err := p.Err(fault.InvalidParameter, "invalid result table"); err != nil {
		return nil, err
	}

	cols := make([]Column, len(columns))
	copy(cols, columns)

	return &Table{
		columns:   cols,
		backend:   backend,
		listeners: make(map[int]Listener),
	}, nil
}

// Columns returns a copy of the column list.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows appended since creation or the last Clear.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Finalized reports whether Finalize has been called.
func (t *Table) Finalized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalized
}

// Rows returns a snapshot of the stored rows if the backend keeps them in
// memory, or nil otherwise.
func (t *Table) Rows() []Row {
	if r, ok := t.backend.(interface{ Rows() []Row }); ok {
		return r.Rows()
	}
	return nil
}

// Append writes one row. The number of values must equal the column count.
//
// The row reaches the backend before any listener sees it. A backend failure
// is returned as StorageError and the row is not counted.
func (t *Table) Append(values ...float64) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if len(values) != len(t.columns) {
		return fault.New(fault.InvalidParameter,
			"row has %d values, table has %d columns", len(values), len(t.columns))
	}

	t.mu.RLock()
	finalized := t.finalized
	t.mu.RUnlock()
	if finalized {
		return fault.New(fault.InvalidState, "append to finalized table")
	}

	row := Row(values).clone()
	if err := t.backend.Write(row); err != nil {
		return fault.Wrap(fault.StorageError, err, "write row %d", t.Len())
	}

	t.mu.Lock()
	index := t.count
	t.count++
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	// Each listener gets its own copy so none can alter the stored row.
	for _, l := range listeners {
		l.RowAppended(index, row.clone())
	}
	return nil
}

// Clear resets the table to zero rows and tells listeners to discard their
// accumulated state.
func (t *Table) Clear() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	finalized := t.finalized
	t.mu.RUnlock()
	if finalized {
		return fault.New(fault.InvalidState, "clear finalized table")
	}

	if err := t.backend.Reset(); err != nil {
		return fault.Wrap(fault.StorageError, err, "reset table")
	}

	t.mu.Lock()
	t.count = 0
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	for _, l := range listeners {
		l.Cleared()
	}
	return nil
}

// Finalize flushes and closes the backend. It is idempotent: only the first
// call reaches the backend, later calls return nil.
func (t *Table) Finalize() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return nil
	}
	t.finalized = true
	t.mu.Unlock()

	if err := t.backend.Close(); err != nil {
		return fault.Wrap(fault.StorageError, err, "finalize table")
	}
	return nil
}

// Watch registers a listener for rows appended after this call. History is
// not replayed. The returned function removes the listener and is safe to
// call more than once.
func (t *Table) Watch(l Listener) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.listeners, id)
			for i, v := range t.order {
				if v == id {
					t.order = append(t.order[:i:i], t.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshotListeners returns listeners in registration order.
// Caller must hold t.mu.
func (t *Table) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.listeners[id])
	}
	return out
}
