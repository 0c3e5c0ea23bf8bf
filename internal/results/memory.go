package results

import "sync"

// Memory is a Backend that keeps rows in an ordered slice.
type Memory struct {
	mu   sync.RWMutex
	rows []Row
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *Memory {
	return &Memory{}
}

// NewMemory creates a table held entirely in memory.
func NewMemory(columns []Column) (*Table, error) {
	return New(columns, NewMemoryBackend())
}

// Write appends a row.
func (m *Memory) Write(row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

// Reset drops every row.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}

// Close is a no-op; rows stay readable after the table is finalized.
func (m *Memory) Close() error {
	return nil
}

// Rows returns a copy of the stored rows. Callers may modify the copy.
func (m *Memory) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.clone()
	}
	return out
}
