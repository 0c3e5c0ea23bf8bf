// Package measure runs measurement sweeps against lab instruments.
//
// An Engine owns one run of one procedure (GatedTEM or RTCalibration). It
// resolves instrument roles, validates the sweep configuration, and then runs
// the sweep on its own worker goroutine while the caller stays free to poll
// State and Progress or call Stop.
//
// Whatever way a run ends (completion, Stop, or an instrument or storage
// failure), the worker disables every output the procedure owns and then
// finalizes the result sink. Failures during that shutdown are logged and
// never replace the reason the run ended.
//
// Thread-safety model:
//   - Start, Stop, State, Progress, Wait, Err: safe from any goroutine
//   - the procedure body runs only on the run worker
//   - an Engine runs at most once; create a new one for the next run
package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/results"
)

// output is a source the engine must switch off on shutdown.
type output struct {
	role instrument.Role
	src  instrument.Source
}

// procedure is the sweep-specific part of a measurement.
type procedure interface {
	kind() string
	columns() []results.Column

	// validate reports configuration problems without touching hardware.
	validate(p *fault.Problems)

	// resolve looks up every instrument role the procedure needs.
	resolve(res *instrument.Resolver)

	totalSteps() int

	// outputs lists the sources to disable on shutdown, in order.
	outputs() []output

	run(s *Session) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWaiter replaces the hold implementation, e.g. to run tests without
// real delays.
func WithWaiter(w Waiter) Option {
	return func(e *Engine) {
		e.waiter = w
	}
}

// WithRunIDs sets the run ID generator (default UUIDv7Generator).
func WithRunIDs(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithObserver adds lifecycle observers.
func WithObserver(obs ...Observer) Option {
	return func(e *Engine) {
		for _, o := range obs {
			if o != nil {
				e.obs = append(e.obs, o)
			}
		}
	}
}

// Engine drives one measurement run.
type Engine struct {
	proc   procedure
	reg    *instrument.Registry
	logger *slog.Logger
	waiter Waiter
	ids    RunIDGenerator
	obs    observers
	runID  string

	mu       sync.Mutex
	state    State
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
	total    int
	started  time.Time
	finished time.Time

	completed atomic.Int64
}

func newEngine(proc procedure, reg *instrument.Registry, opts []Option) *Engine {
	e := &Engine{
		proc:   proc,
		reg:    reg,
		logger: slog.Default(),
		waiter: TimerWaiter{},
		ids:    UUIDv7Generator{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runID = e.ids.Generate()
	return e
}

// RunID identifies this engine's run. It is fixed at construction so a
// durable sink can be keyed by it before Start.
func (e *Engine) RunID() string {
	return e.runID
}

// Kind names the measurement ("gated-tem", "rt-calibration").
func (e *Engine) Kind() string {
	return e.proc.kind()
}

// Columns returns the column manifest of this measurement.
func (e *Engine) Columns() []results.Column {
	return e.proc.columns()
}

// TotalSteps returns the number of rows a complete run writes with the
// current configuration.
func (e *Engine) TotalSteps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc.totalSteps()
}

// configure applies fn while the engine is idle.
func (e *Engine) configure(validate func(p *fault.Problems), apply func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		return fault.New(fault.InvalidState, "cannot configure a %s measurement", e.state)
	}
	var p fault.Problems
	validate(&p)
	if err := p.Err(fault.InvalidParameter, "invalid sweep configuration"); err != nil {
		return err
	}
	apply()
	return nil
}

// Start validates the configuration and instruments, then begins the sweep
// on a new goroutine and returns immediately.
//
// Every unmet precondition (bad parameters, missing roles, no sink) is
// reported together in one error before any hardware is touched. Starting
// an engine that is not Idle fails with InvalidState.
//
// The run stops when Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, sink *results.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		return fault.New(fault.InvalidState, "measurement already %s", e.state)
	}
	if err := e.preflight(sink); err != nil {
		e.logger.Warn("measurement refused to start", "kind", e.proc.kind(), "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = Running
	e.total = e.proc.totalSteps()
	e.started = time.Now()

	info := RunInfo{
		ID:         e.runID,
		Kind:       e.proc.kind(),
		Columns:    e.proc.columns(),
		TotalSteps: e.total,
		Started:    e.started,
	}
	s := &Session{
		ctx:     runCtx,
		info:    info,
		sink:    sink,
		waiter:  e.waiter,
		logger:  e.logger,
		counter: NewCounter(),
		obs:     e.obs,
		onRow:   func() { e.completed.Add(1) },
	}

	e.logger.Info("measurement starting", "run", info.ID, "kind", info.Kind, "steps", info.TotalSteps)
	go e.run(s, sink)
	return nil
}

// Check reports every reason a run streaming to the file at path could not
// start, in the same aggregated form as Start. It touches neither the
// instruments nor the file, so callers can refuse before creating output.
func (e *Engine) Check(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		return fault.New(fault.InvalidState, "measurement already %s", e.state)
	}
	return e.refusal(func(res *instrument.Resolver, params *fault.Problems) {
		res.Require(path != "", "no output file specified")
		if path == "" {
			return
		}
		dir := filepath.Dir(path)
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			params.Addf("output directory %s: %v", dir, err)
		case !info.IsDir():
			params.Addf("output directory %s is not a directory", dir)
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			params.Addf("output file %s is a directory", path)
		}
	})
}

// preflight collects every reason the run cannot start. Caller must hold e.mu.
func (e *Engine) preflight(sink *results.Table) error {
	return e.refusal(func(res *instrument.Resolver, params *fault.Problems) {
		res.Require(sink != nil, "no result sink")
		if sink == nil {
			return
		}
		want := e.proc.columns()
		got := sink.Columns()
		if !sameColumns(want, got) {
			params.Addf("result sink has %d columns, %s needs %d", len(got), e.proc.kind(), len(want))
		}
		if sink.Finalized() {
			params.Add("result sink is already finalized")
		}
	})
}

// refusal validates the procedure and its roles plus whatever output checks
// add, and merges them into one error. Caller must hold e.mu.
func (e *Engine) refusal(output func(res *instrument.Resolver, params *fault.Problems)) error {
	var params fault.Problems
	e.proc.validate(&params)

	res := instrument.NewResolver(e.reg)
	e.proc.resolve(res)
	output(res, &params)

	missing := res.Problems()
	switch {
	case len(missing) == 0:
		return params.Err(fault.InvalidParameter, "invalid sweep configuration")
	case params.Len() == 0:
		return res.Err()
	}

	all := append(missing, params.List()...)
	return &fault.Error{
		Code:     fault.NotConfigured,
		Message:  "measurement cannot start",
		Problems: all,
		Err:      fault.New(fault.InvalidParameter, "invalid sweep configuration"),
	}
}

func (e *Engine) run(s *Session, sink *results.Table) {
	defer close(e.done)

	e.obs.RunStarted(s.info)
	err := e.execute(s)
	e.shutdown(s.info.ID)

	if ferr := sink.Finalize(); ferr != nil {
		if err == nil || errors.Is(err, ErrStopped) {
			err = ferr
		} else {
			e.logger.Warn("finalize failed after run error", "run", s.info.ID, "error", ferr)
		}
	}

	state := CompletedNormally
	switch {
	case errors.Is(err, ErrStopped):
		state = StoppedByUser
		err = nil
	case err != nil:
		state = Failed
	}

	e.mu.Lock()
	e.state = state
	e.err = err
	e.finished = time.Now()
	e.cancel()
	outcome := Outcome{
		State:    state,
		Err:      err,
		Rows:     int(e.completed.Load()),
		Duration: e.finished.Sub(e.started),
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("measurement failed", "run", s.info.ID, "kind", s.info.Kind, "rows", outcome.Rows, "error", err)
	} else {
		e.logger.Info("measurement finished", "run", s.info.ID, "kind", s.info.Kind, "state", state, "rows", outcome.Rows)
	}
	e.obs.RunFinished(s.info, outcome)
}

// execute runs the procedure, turning a panic into a DeviceError so the
// shutdown still happens.
func (e *Engine) execute(s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.DeviceError, "measurement panicked: %v", r)
		}
	}()
	return e.proc.run(s)
}

// shutdown disables every output. Each failure is logged and the remaining
// outputs are still attempted.
func (e *Engine) shutdown(runID string) {
	for _, o := range e.proc.outputs() {
		if o.src == nil {
			continue
		}
		if err := o.src.DisableOutput(); err != nil {
			e.logger.Warn("shutdown: disable output failed", "run", runID, "role", o.role, "error", err)
		}
	}
}

// Stop requests cancellation. A hold in progress ends immediately; an
// instrument call in flight completes first. Stop is a no-op unless the
// engine is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Running {
		return
	}
	e.logger.Info("measurement stop requested", "run", e.runID)
	e.cancel()
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure that ended a Failed run, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed when a started run has fully finished, including shutdown.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the run finishes or ctx ends. It returns the final state
// and the run error; waiting on an engine that was never started fails with
// InvalidState.
func (e *Engine) Wait(ctx context.Context) (State, error) {
	if e.State() == Idle {
		return Idle, fault.New(fault.InvalidState, "measurement was never started")
	}
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.state, e.err
	case <-ctx.Done():
		return e.State(), ctx.Err()
	}
}

// Completed returns the number of rows written so far.
func (e *Engine) Completed() int {
	return int(e.completed.Load())
}

// Progress returns completion in percent. It reaches 100 only once the run
// has completed normally.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	state, total := e.state, e.total
	e.mu.Unlock()

	if state == CompletedNormally {
		return 100
	}
	if total <= 0 {
		return 0
	}
	done := e.completed.Load()
	if done >= int64(total) {
		done = int64(total) - 1
	}
	return 100 * float64(done) / float64(total)
}

// Elapsed returns the run duration so far, or the total once finished.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.started.IsZero():
		return 0
	case e.finished.IsZero():
		return time.Since(e.started)
	}
	return e.finished.Sub(e.started)
}

// String implements fmt.Stringer.
func (e *Engine) String() string {
	return fmt.Sprintf("%s[%s]", e.proc.kind(), e.runID)
}

func sameColumns(a, b []results.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
