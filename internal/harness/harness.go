package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/temeasure/internal/config"
	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/store"
	"github.com/roach88/temeasure/internal/testutil"
	"github.com/roach88/temeasure/internal/view"
)

// DefaultRunID is used when a scenario does not set run_id.
const DefaultRunID = "test-run-default"

// Harness holds the fixtures of one scenario run.
type Harness struct {
	store  *store.Store
	rig    *sim.Rig
	waiter *testutil.InstantWaiter
	runIDs *testutil.FixedRunID
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Parse the scenario configuration
// 2. Bind the simulated rig, minus unbound roles, and arm faults
// 3. Start the measurement and wait for it to finish
// 4. Cross-check the stored run against the recorded table
// 5. Evaluate assertions
//
// A measurement that refuses to start is an outcome, not an error: the
// result reports the idle state and the refusal's error code.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	// Create fresh in-memory SQLite database
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}

	h := &Harness{
		store:  st,
		rig:    sim.NewRig(),
		waiter: testutil.NewInstantWaiter(),
		runIDs: testutil.NewFixedRunID(runID),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()
	if err := h.execute(ctx, scenario, cfg, result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// scenarioConfig validates the scenario's config block with the same schema
// as a configuration file. An absent block yields the defaults.
func scenarioConfig(s *Scenario) (*config.File, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: encode config: %w", s.Name, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return cfg, nil
}

// measurement is what Run needs from either procedure.
type measurement struct {
	*measure.Engine
	configure func() error
}

func (h *Harness) build(s *Scenario, cfg *config.File, reg *instrument.Registry, opts []measure.Option) (measurement, error) {
	switch s.Kind {
	case measure.KindGatedTEM:
		gc, err := cfg.GatedConfig()
		if err != nil {
			return measurement{}, err
		}
		g := measure.NewGatedTEM(reg, opts...)
		return measurement{Engine: g.Engine, configure: func() error { return g.Configure(gc) }}, nil
	case measure.KindRTCalibration:
		rc, err := cfg.RTConfig()
		if err != nil {
			return measurement{}, err
		}
		c := measure.NewRTCalibration(reg, opts...)
		return measurement{Engine: c.Engine, configure: func() error { return c.Configure(rc) }}, nil
	}
	return measurement{}, fmt.Errorf("unknown kind %q", s.Kind)
}

func (h *Harness) execute(ctx context.Context, s *Scenario, cfg *config.File, result *Result) error {
	reg := instrument.NewRegistry()
	h.rig.Bind(reg)
	for _, role := range s.Unbound {
		reg.Bind(instrument.Role(role), nil)
	}
	for _, f := range s.Faults {
		h.rig.FailAfter(f.Instrument, f.Op, f.After, nil)
	}

	stop := &stopper{after: s.StopAfterRows}
	m, err := h.build(s, cfg, reg, []measure.Option{
		measure.WithLogger(h.logger),
		measure.WithWaiter(h.waiter),
		measure.WithRunIDs(h.runIDs),
		measure.WithObserver(h.store, stop),
	})
	if err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	stop.engine = m.Engine

	state := measure.Idle
	if err := m.configure(); err != nil {
		result.Err = err
	} else {
		columns := m.Columns()
		sink, err := results.New(columns, results.Multi(results.NewMemoryBackend(), h.store.Backend(m.RunID())))
		if err != nil {
			return fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		result.Columns = columns

		subs, err := subscribe(s, sink)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", s.Name, err)
		}

		if err := m.Start(ctx, sink); err != nil {
			result.Err = err
			_ = sink.Finalize()
		} else {
			state, result.Err = m.Wait(ctx)
			result.Rows = sink.Rows()
			h.crossCheck(ctx, m.RunID(), state, result)
		}

		for split, sub := range subs {
			result.Series[split] = sub.Series()
			sub.Unsubscribe()
		}
	}

	result.addCalls(h.rig.Calls())
	result.Summary = h.summarize(s, m.Engine, state, result)
	return nil
}

// subscribe attaches one live view per split column named by a
// series_count assertion, plotting each split against the row number.
func subscribe(s *Scenario, sink *results.Table) (map[string]*view.Subscription, error) {
	subs := make(map[string]*view.Subscription)
	for _, a := range s.Assertions {
		if a.Type != AssertSeriesCount {
			continue
		}
		if _, ok := subs[a.Split]; ok {
			continue
		}
		col := results.Index(sink.Columns(), a.Split)
		if col < 0 {
			return nil, fmt.Errorf("series_count: no column %q", a.Split)
		}
		sub, err := view.Subscribe(sink, 0, col, view.SplitBy(col))
		if err != nil {
			return nil, err
		}
		subs[a.Split] = sub
	}
	return subs, nil
}

// crossCheck verifies that the store recorded the same run as the table.
func (h *Harness) crossCheck(ctx context.Context, runID string, state measure.State, result *Result) {
	rec, rows, err := h.store.ReadRun(ctx, runID)
	if err != nil {
		result.AddError(fmt.Sprintf("store: %v", err))
		return
	}
	if rec.State != state {
		result.AddError(fmt.Sprintf("store: run state %s, engine state %s", rec.State, state))
	}
	if len(rows) != len(result.Rows) {
		result.AddError(fmt.Sprintf("store: %d rows, table %d rows", len(rows), len(result.Rows)))
		return
	}
	for i := range rows {
		if !sameRow(rows[i], result.Rows[i]) {
			result.AddError(fmt.Sprintf("store: row %d is %v, table has %v", i, rows[i], result.Rows[i]))
			return
		}
	}
}

func (h *Harness) summarize(s *Scenario, e *measure.Engine, state measure.State, result *Result) Summary {
	sum := Summary{
		Scenario:     s.Name,
		Kind:         s.Kind,
		RunID:        e.RunID(),
		State:        state.String(),
		ErrorCode:    string(fault.CodeOf(result.Err)),
		Rows:         len(result.Rows),
		TotalSteps:   e.TotalSteps(),
		Holds:        len(h.waiter.Holds()),
		HoldTotal:    h.waiter.Total().String(),
		EnabledAfter: []string{},
		Calls:        make(map[string]int),
	}
	for _, role := range h.rig.Enabled() {
		sum.EnabledAfter = append(sum.EnabledAfter, string(role))
	}
	for _, c := range h.rig.Calls() {
		if strings.HasPrefix(c.Op, "Read") {
			continue
		}
		sum.Calls[c.Instrument+"."+c.Op]++
	}
	return sum
}

// stopper stops the engine once a number of rows exist.
type stopper struct {
	mu     sync.Mutex
	after  int
	engine *measure.Engine
}

func (s *stopper) RunStarted(measure.RunInfo) {}

func (s *stopper) RowAppended(_ measure.RunInfo, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.after > 0 && index+1 >= s.after && s.engine != nil {
		s.engine.Stop()
	}
}

func (s *stopper) RunFinished(measure.RunInfo, measure.Outcome) {}

// sameRow compares rows treating NaN as equal to NaN.
func sameRow(a, b results.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(a[i] != a[i] && b[i] != b[i]) {
			return false
		}
	}
	return true
}
