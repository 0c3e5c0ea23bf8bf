package harness

import (
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/view"
)

// TraceEvent is one instrument call made during the run.
type TraceEvent struct {
	Seq   int     `json:"seq"`
	Call  string  `json:"call"`
	Value float64 `json:"value,omitempty"`
}

// Summary is the deterministic outcome of a scenario, compared against
// golden files.
type Summary struct {
	Scenario     string   `json:"scenario"`
	Kind         string   `json:"kind"`
	RunID        string   `json:"run_id"`
	State        string   `json:"state"`
	ErrorCode    string   `json:"error_code,omitempty"`
	Rows         int      `json:"rows"`
	TotalSteps   int      `json:"total_steps"`
	Holds        int      `json:"holds"`
	HoldTotal    string   `json:"hold_total"`
	EnabledAfter []string `json:"enabled_after"`

	// Calls counts every non-read instrument call by "instrument.Op".
	Calls map[string]int `json:"calls"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every instrument call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Summary is the golden-comparable outcome.
	Summary Summary `json:"summary"`

	// Columns and Rows are what the run recorded.
	Columns []results.Column `json:"-"`
	Rows    []results.Row    `json:"-"`

	// Series holds the live view series per split column.
	Series map[string][]view.Series `json:"-"`

	// Err is the run error, nil for completed and stopped runs.
	Err error `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Series: make(map[string][]view.Series),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addCalls appends the rig's call log to the trace.
func (r *Result) addCalls(calls []sim.Call) {
	for _, c := range calls {
		r.Trace = append(r.Trace, TraceEvent{
			Seq:   len(r.Trace) + 1,
			Call:  c.Instrument + "." + c.Op,
			Value: c.Value,
		})
	}
}
