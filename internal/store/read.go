package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
)

// ErrRunNotFound is wrapped by lookups of unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one stored run.
type RunRecord struct {
	ID         string
	Kind       string
	Columns    []results.Column
	TotalSteps int
	State      measure.State
	Error      string
	Rows       int
	Started    time.Time
	Finished   time.Time // zero while running
}

const selectRun = `
	SELECT id, kind, columns, total_steps, state, error, started_at, finished_at,
		(SELECT COUNT(*) FROM rows WHERE rows.run_id = runs.id)
	FROM runs
`

// ListRuns returns every run, newest first.
// Ties on start time are broken by id so the order is deterministic.
//
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRun+`
		ORDER BY started_at DESC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fault.Wrap(fault.StorageError, err, "query runs")
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.StorageError, err, "iterate runs")
	}
	return runs, nil
}

// ReadRun returns a run record and its rows in append order.
// An unknown id is an InvalidParameter error wrapping ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, []results.Row, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+`WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, nil, fault.Wrap(fault.InvalidParameter, ErrRunNotFound, "read run %s", id)
	}
	if err != nil {
		return RunRecord{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vals FROM rows
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return RunRecord{}, nil, fault.Wrap(fault.StorageError, err, "query rows of %s", id)
	}
	defer rows.Close()

	out := make([]results.Row, 0, run.Rows)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return RunRecord{}, nil, fault.Wrap(fault.StorageError, err, "scan row of %s", id)
		}
		row, err := decodeRow(blob)
		if err != nil {
			return RunRecord{}, nil, fault.Wrap(fault.StorageError, err, "run %s row %d", id, len(out))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, nil, fault.Wrap(fault.StorageError, err, "iterate rows of %s", id)
	}
	return run, out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		run       RunRecord
		colsJSON  string
		state     string
		startedMs int64
		finished  sql.NullInt64
	)
	err := sc.Scan(&run.ID, &run.Kind, &colsJSON, &run.TotalSteps, &state,
		&run.Error, &startedMs, &finished, &run.Rows)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fault.Wrap(fault.StorageError, err, "scan run")
	}

	cols, err := unmarshalColumns(colsJSON)
	if err != nil {
		return RunRecord{}, fault.Wrap(fault.StorageError, err, "run %s", run.ID)
	}
	run.Columns = cols

	run.State, err = measure.ParseState(state)
	if err != nil {
		return RunRecord{}, fault.Wrap(fault.StorageError, err, "run %s", run.ID)
	}

	run.Started = time.UnixMilli(startedMs)
	if finished.Valid {
		run.Finished = time.UnixMilli(finished.Int64)
	}
	return run, nil
}

// Duration returns how long the run took, or 0 while it is still running.
func (r RunRecord) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// String renders a one-line summary.
func (r RunRecord) String() string {
	return fmt.Sprintf("%s %s %s rows=%d", r.ID, r.Kind, r.State, r.Rows)
}
