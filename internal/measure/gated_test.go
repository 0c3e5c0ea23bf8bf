package measure_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/sweep"
	"github.com/roach88/temeasure/internal/view"
)

func TestGatedTEM_TwoGateRun(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink := memorySink(t, measure.GatedColumns())

	require.NoError(t, g.Start(context.Background(), sink))
	state, err := waitFinished(t, g)
	require.NoError(t, err)
	assert.Equal(t, measure.CompletedNormally, state)

	rows := sink.Rows()
	require.Len(t, rows, 108)
	for i, r := range rows {
		assert.Equal(t, float64(i), r.Get(measure.GatedColNumber))
		want := float64(measure.HotGateConfig)
		if i >= 54 {
			want = measure.ColdGateConfig
		}
		assert.Equal(t, want, r.Get(measure.GatedColGateConfig), "row %d", i)
	}

	assert.Equal(t, 100.0, g.Progress())
	assert.Empty(t, s.rig.Enabled(), "every output is off after the run")
	assert.True(t, sink.Finalized())
}

func TestGatedTEM_HotGateOnly(t *testing.T) {
	s := newRigSetup()
	s.reg.Bind(instrument.ColdGate, nil)

	g := measure.NewGatedTEM(s.reg, s.options()...)
	cfg := measure.DefaultGatedConfig()
	cfg.Gates = measure.HotGateOnly
	require.NoError(t, g.Configure(cfg))

	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))
	state, err := waitFinished(t, g)
	require.NoError(t, err)
	assert.Equal(t, measure.CompletedNormally, state)

	rows := sink.Rows()
	require.Len(t, rows, 54)
	for i, r := range rows {
		assert.Equal(t, float64(i), r.Get(measure.GatedColNumber))
		assert.Equal(t, 0.0, r.Get(measure.GatedColGateConfig))
	}
}

func TestGatedTEM_GateAxisReversedBetweenPasses(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	cfg := smallGated()
	require.NoError(t, g.Configure(cfg))

	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	gates, err := cfg.Gate.Values()
	require.NoError(t, err)
	var hot, cold []float64
	for i, r := range sink.Rows() {
		if i%cfg.Heater.Steps != 0 {
			continue
		}
		if r.Get(measure.GatedColGateConfig) == measure.HotGateConfig {
			hot = append(hot, r.Get(measure.GatedColGateSet))
		} else {
			cold = append(cold, r.Get(measure.GatedColGateSet))
		}
	}
	assert.Equal(t, gates, hot)
	assert.Equal(t, sweep.Reverse(gates), cold)
}

func TestGatedTEM_RowValuesFollowInstruments(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	cfg := smallGated()
	cfg.Gates = measure.HotGateOnly
	require.NoError(t, g.Configure(cfg))

	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	heaters, err := cfg.Heater.Values()
	require.NoError(t, err)
	for i, r := range sink.Rows() {
		h := heaters[i%len(heaters)]
		assert.Equal(t, h, r.Get(measure.GatedColHeaterVoltage))
		assert.InDelta(t, h*h/50, r.Get(measure.GatedColHeaterPower), 1e-12)
		assert.Equal(t, r.Get(measure.GatedColGateSet), r.Get(measure.GatedColGateVoltage))
		assert.Equal(t, 0.0, r.Get(measure.GatedColThermoCurrent))
	}
}

func TestGatedTEM_InvertColdGate(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	cfg := smallGated()
	cfg.InvertColdGate = true
	require.NoError(t, g.Configure(cfg))

	var coldSets []float64
	s.rig.Observe(func(c sim.Call) {
		if c.Instrument == string(instrument.ColdGate) && c.Op == "SetOutputLevel" {
			coldSets = append(coldSets, c.Value)
		}
	})

	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	require.NotEmpty(t, coldSets)
	for _, v := range coldSets {
		assert.GreaterOrEqual(t, v, 0.0, "cold gate driven with negated setpoints")
	}
	for _, r := range sink.Rows() {
		if r.Get(measure.GatedColGateConfig) == measure.ColdGateConfig {
			assert.Equal(t, r.Get(measure.GatedColGateSet), r.Get(measure.GatedColGateVoltage),
				"cold-gate readings are reported in the hot-gate sign convention")
		}
	}
}

func TestGatedTEM_SetupBeforeSweep(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	require.NoError(t, g.Configure(smallGated()))

	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	calls := s.rig.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	for _, c := range calls[:4] {
		assert.Equal(t, "DisableOutput", c.Op, "outputs are switched off before anything else")
	}

	tv := s.rig.Channel(instrument.ThermoVoltage)
	assert.Equal(t, 200*time.Millisecond, tv.IntegrationTime())
	assert.True(t, s.rig.Channel(instrument.HotGate).HighImpedance())
	assert.True(t, s.rig.Channel(instrument.ColdGate).HighImpedance())
}

func TestGatedTEM_HoldSequence(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	cfg := measure.DefaultGatedConfig()
	cfg.Gate.Steps = 2
	cfg.Heater.Steps = 3
	cfg.Gates = measure.HotGateOnly
	cfg.GateHold = 20 * time.Second
	cfg.HeaterHold = 10 * time.Second
	require.NoError(t, g.Configure(cfg))

	require.NoError(t, g.Start(context.Background(), memorySink(t, measure.GatedColumns())))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	G, H := 20*time.Second, 10*time.Second
	assert.Equal(t, []time.Duration{G, H, H, H, H, G, H, H, H, H}, s.waiter.Holds())
}

func TestGatedTEM_StopAfterNRows(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink := memorySink(t, measure.GatedColumns())
	sink.Watch(&stopAfter{n: 20, stop: g.Stop})

	require.NoError(t, g.Start(context.Background(), sink))
	state, err := waitFinished(t, g)
	require.NoError(t, err)

	assert.Equal(t, measure.StoppedByUser, state)
	assert.Equal(t, 20, sink.Len())
	assert.Empty(t, s.rig.Enabled())
	assert.Less(t, g.Progress(), 100.0)
	assert.InDelta(t, 100*20.0/108.0, g.Progress(), 1e-9)
	assert.NoError(t, g.Err())
	assert.True(t, sink.Finalized())

	g.Stop()
	assert.Equal(t, measure.StoppedByUser, g.State(), "stop after finish is a no-op")
}

func TestGatedTEM_DeviceErrorOnStepK(t *testing.T) {
	const k = 7
	s := newRigSetup()
	s.rig.FailAfter(string(instrument.Stage), "ReadTemperature", k-1, nil)

	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))

	state, err := waitFinished(t, g)
	assert.Equal(t, measure.Failed, state)
	require.Error(t, err)
	assert.True(t, fault.IsDeviceError(err))
	assert.ErrorIs(t, err, sim.ErrInjected)
	assert.Contains(t, err.Error(), "stage: read temperature")
	assert.Equal(t, k-1, sink.Len())
	assert.Empty(t, s.rig.Enabled())
	assert.Equal(t, err, g.Err())
}

func TestGatedTEM_ShutdownContinuesPastFailures(t *testing.T) {
	s := newRigSetup()
	s.rig.FailAfter(string(instrument.Stage), "ReadTemperature", 0, nil)
	// The initial switch-off is the heater's only disable before the failure,
	// so the next one is the shutdown's.
	s.rig.FailAfter(string(instrument.Heater), "DisableOutput", 1, nil)

	g := measure.NewGatedTEM(s.reg, s.options()...)
	require.NoError(t, g.Start(context.Background(), memorySink(t, measure.GatedColumns())))

	state, err := waitFinished(t, g)
	assert.Equal(t, measure.Failed, state)
	assert.Contains(t, err.Error(), "read temperature", "shutdown failure does not mask the cause")

	assert.Equal(t, []instrument.Role{instrument.Heater}, s.rig.Enabled(),
		"only the output whose disable failed is still on")
	assert.Equal(t, 2, s.rig.Count(string(instrument.ColdGate), "DisableOutput"))
	assert.Equal(t, 2, s.rig.Count(string(instrument.ThermoVoltage), "DisableOutput"))
}

func TestGatedTEM_StorageErrorFailsRun(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink, err := results.New(measure.GatedColumns(), &failingBackend{n: 3})
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background(), sink))
	state, err := waitFinished(t, g)
	assert.Equal(t, measure.Failed, state)
	assert.True(t, fault.IsStorageError(err))
	assert.Equal(t, 3, sink.Len())
	assert.Empty(t, s.rig.Enabled())
}

func TestGatedTEM_PanicStillShutsDown(t *testing.T) {
	s := newRigSetup()
	s.rig.Observe(func(c sim.Call) {
		if c.Op == "ReadTemperature" {
			panic("driver bug")
		}
	})

	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink := memorySink(t, measure.GatedColumns())
	require.NoError(t, g.Start(context.Background(), sink))

	state, err := waitFinished(t, g)
	assert.Equal(t, measure.Failed, state)
	assert.True(t, fault.IsDeviceError(err))
	assert.Contains(t, err.Error(), "driver bug")
	assert.Empty(t, s.rig.Enabled())
	assert.True(t, sink.Finalized())
}

func TestGatedTEM_ConfigureWhileRunning(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)

	var configureErr error
	s.waiter.OnWait(func(n int, _ time.Duration) {
		if n == 1 {
			configureErr = g.Configure(smallGated())
		}
	})

	require.NoError(t, g.Start(context.Background(), memorySink(t, measure.GatedColumns())))
	_, err := waitFinished(t, g)
	require.NoError(t, err)

	assert.True(t, fault.IsInvalidState(configureErr))
	assert.Equal(t, measure.DefaultGatedConfig(), g.Config())
	assert.True(t, fault.IsInvalidState(g.Configure(smallGated())), "finished engines stay unconfigurable")
}

func TestGatedTEM_ConfigureRejectsBadParameters(t *testing.T) {
	g := measure.NewGatedTEM(nil, measure.WithLogger(quietLogger()))
	cfg := measure.DefaultGatedConfig()
	cfg.Gate.Steps = 0
	cfg.Heater.Steps = -1
	cfg.HeaterHold = -time.Second

	err := g.Configure(cfg)
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))
	assert.Contains(t, err.Error(), "gate steps must be >= 1, got 0")
	assert.Contains(t, err.Error(), "heater steps must be >= 1, got -1")
	assert.Contains(t, err.Error(), "heater hold must be >= 0")
	assert.Equal(t, measure.DefaultGatedConfig(), g.Config(), "rejected configuration is not applied")
}

func TestGatedTEM_FilteredViewSeesColdGateOnly(t *testing.T) {
	s := newRigSetup()
	g := measure.NewGatedTEM(s.reg, s.options()...)
	sink := memorySink(t, measure.GatedColumns())

	sub, err := view.Subscribe(sink, measure.GatedColHeaterPower, measure.GatedColThermoVoltage,
		view.WithFilter(view.ColumnEquals(measure.GatedColGateConfig, measure.ColdGateConfig)))
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background(), sink))
	_, err = waitFinished(t, g)
	require.NoError(t, err)

	assert.Equal(t, 108, sink.Len())
	assert.Equal(t, 54, sub.Notifications())
}

func TestGatedTEM_TotalSteps(t *testing.T) {
	cfg := measure.DefaultGatedConfig()
	assert.Equal(t, 108, cfg.TotalSteps())
	cfg.Gates = measure.HotGateOnly
	assert.Equal(t, 54, cfg.TotalSteps())

	g := measure.NewGatedTEM(nil, measure.WithLogger(quietLogger()))
	assert.Equal(t, 108, g.TotalSteps())
	assert.Equal(t, measure.KindGatedTEM, g.Kind())
	assert.Len(t, g.Columns(), 11)
}

func TestParseGateMode(t *testing.T) {
	for _, m := range []measure.GateMode{measure.HotAndColdGate, measure.HotGateOnly} {
		got, err := measure.ParseGateMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := measure.ParseGateMode("cold")
	assert.True(t, fault.IsInvalidParameter(err))
}
