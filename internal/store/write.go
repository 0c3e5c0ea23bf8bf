package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
)

// BeginRun inserts a run record in the running state.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - beginning the same run
// twice keeps the first record.
func (s *Store) BeginRun(ctx context.Context, run RunRecord) error {
	var p fault.Problems
	if run.ID == "" {
		p.Add("run id is required")
	}
	if run.Kind == "" {
		p.Add("run kind is required")
	}
	if len(run.Columns) == 0 {
		p.Add("at least one column is required")
	}
	if err := p.Err(fault.InvalidParameter, "invalid run record"); err != nil {
		return err
	}

	colsJSON, err := marshalColumns(run.Columns)
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "begin run %s", run.ID)
	}

	started := run.Started
	if started.IsZero() {
		started = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, kind, columns, total_steps, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Kind,
		colsJSON,
		run.TotalSteps,
		measure.Running.String(),
		started.UnixMilli(),
	)
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "begin run %s", run.ID)
	}
	return nil
}

// FinishRun records the terminal state of a run.
// errMsg is stored verbatim; pass "" for runs that did not fail.
func (s *Store) FinishRun(ctx context.Context, id string, state measure.State, errMsg string) error {
	if !state.Terminal() {
		return fault.New(fault.InvalidParameter, "finish run %s: %s is not a terminal state", id, state)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, state.String(), errMsg, s.now().UnixMilli(), id)
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "finish run %s", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "finish run %s", id)
	}
	if n == 0 {
		return fault.Wrap(fault.InvalidParameter, ErrRunNotFound, "finish run %s", id)
	}
	return nil
}

// Backend returns a results.Backend that appends rows to the given run.
// The run must have been begun (directly, or by the Store observing the
// engine) before the first row is written.
func (s *Store) Backend(runID string) *RowBackend {
	return &RowBackend{store: s, runID: runID}
}

// RowBackend streams a run's rows into the store, one statement per row, so
// every acknowledged row is durable.
type RowBackend struct {
	store *Store
	runID string

	mu     sync.Mutex
	seq    int
	closed bool
}

// RunID returns the run the backend writes to.
func (b *RowBackend) RunID() string {
	return b.runID
}

// Write inserts one row.
func (b *RowBackend) Write(row results.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("write to closed run %s", b.runID)
	}

	_, err := b.store.db.ExecContext(context.Background(), `
		INSERT INTO rows (run_id, seq, vals)
		VALUES (?, ?, ?)
	`, b.runID, b.seq, encodeRow(row))
	if err != nil {
		return fmt.Errorf("insert row %d of run %s: %w", b.seq, b.runID, err)
	}
	b.seq++
	return nil
}

// Reset deletes every row of the run.
func (b *RowBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("reset closed run %s", b.runID)
	}
	if _, err := b.store.db.ExecContext(context.Background(),
		`DELETE FROM rows WHERE run_id = ?`, b.runID); err != nil {
		return fmt.Errorf("reset run %s: %w", b.runID, err)
	}
	b.seq = 0
	return nil
}

// Close stops further writes. The database itself stays open; it belongs to
// the Store.
func (b *RowBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// RunStarted records the run. Failures are logged; an observer cannot fail a run.
func (s *Store) RunStarted(info measure.RunInfo) {
	err := s.BeginRun(context.Background(), RunRecord{
		ID:         info.ID,
		Kind:       info.Kind,
		Columns:    info.Columns,
		TotalSteps: info.TotalSteps,
		Started:    info.Started,
	})
	if err != nil {
		s.logger.Warn("store: begin run failed", "run", info.ID, "error", err)
	}
}

// RowAppended is a no-op; rows reach the store through its Backend.
func (s *Store) RowAppended(measure.RunInfo, int) {}

// RunFinished records the outcome.
func (s *Store) RunFinished(info measure.RunInfo, outcome measure.Outcome) {
	var msg string
	if outcome.Err != nil {
		msg = outcome.Err.Error()
	}
	if err := s.FinishRun(context.Background(), info.ID, outcome.State, msg); err != nil {
		s.logger.Warn("store: finish run failed", "run", info.ID, "error", err)
	}
}

var _ measure.Observer = (*Store)(nil)
var _ results.Backend = (*RowBackend)(nil)
