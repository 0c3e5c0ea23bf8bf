package measure_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rigSetup is a fully bound simulated rig with an instant waiter.
type rigSetup struct {
	rig    *sim.Rig
	reg    *instrument.Registry
	waiter *testutil.InstantWaiter
}

func newRigSetup() *rigSetup {
	s := &rigSetup{
		rig:    sim.NewRig(),
		reg:    instrument.NewRegistry(),
		waiter: testutil.NewInstantWaiter(),
	}
	s.rig.Bind(s.reg)
	return s
}

func (s *rigSetup) options(extra ...measure.Option) []measure.Option {
	return append([]measure.Option{
		measure.WithLogger(quietLogger()),
		measure.WithWaiter(s.waiter),
	}, extra...)
}

// smallGated is a quick two-gate sweep: 3 gate values x 4 heater values.
func smallGated() measure.GatedConfig {
	cfg := measure.DefaultGatedConfig()
	cfg.Gate.Steps = 3
	cfg.Heater.Steps = 4
	return cfg
}

func memorySink(t *testing.T, cols []results.Column) *results.Table {
	t.Helper()
	tbl, err := results.NewMemory(cols)
	require.NoError(t, err)
	return tbl
}

// engine is the control surface shared by both measurements.
type engine interface {
	Wait(ctx context.Context) (measure.State, error)
}

func waitFinished(t *testing.T, e engine) (measure.State, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state, err := e.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run did not finish")
	return state, err
}

// stopAfter stops a run from the sink listener once n rows exist.
type stopAfter struct {
	n    int
	stop func()
}

func (s *stopAfter) RowAppended(index int, _ results.Row) {
	if index+1 == s.n {
		s.stop()
	}
}

func (s *stopAfter) Cleared() {}

// recordingObserver counts lifecycle callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	started  []measure.RunInfo
	rows     []int
	outcomes []measure.Outcome
}

func (o *recordingObserver) RunStarted(info measure.RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *recordingObserver) RowAppended(_ measure.RunInfo, index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows = append(o.rows, index)
}

func (o *recordingObserver) RunFinished(_ measure.RunInfo, outcome measure.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

// failingBackend accepts n rows and then fails every write.
type failingBackend struct {
	results.Memory
	n int
}

func (f *failingBackend) Write(row results.Row) error {
	if f.n == 0 {
		return io.ErrShortWrite
	}
	f.n--
	return f.Memory.Write(row)
}
