package measure_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/sweep"
)

func smallRT() measure.RTConfig {
	cfg := measure.DefaultRTConfig()
	cfg.Sweeps = 2
	cfg.Heater = sweep.Axis{Start: 0, Stop: 4, Steps: 3}
	cfg.Current = sweep.Axis{Start: 10, Stop: 40, Steps: 4}
	cfg.RestHold = 5 * time.Second
	return cfg
}

func TestRTCalibration_Run(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	require.NoError(t, c.Configure(cfg))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	state, err := waitFinished(t, c)
	require.NoError(t, err)
	assert.Equal(t, measure.CompletedNormally, state)

	rows := sink.Rows()
	require.Len(t, rows, 24)
	for i, r := range rows {
		assert.Equal(t, float64(i), r.Get(measure.RTColNumber))
		assert.Equal(t, float64(i/12), r.Get(measure.RTColSweep))

		current := r.Get(measure.RTColRTCurrent)
		temp := r.Get(measure.RTColSampleTemperature)
		wantR := sim.RTNominal * (1 + sim.RTAlpha*(temp-sim.BaseTemperature))
		assert.InDelta(t, wantR, r.Get(measure.RTColRTResistance), 1e-6)
		assert.InDelta(t, r.Get(measure.RTColRTVoltage)/current, r.Get(measure.RTColRTResistance), 1e-9)
	}
	assert.Empty(t, s.rig.Enabled())
	assert.Equal(t, 100.0, c.Progress())
}

func TestRTCalibration_MicroampAxis(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	cfg.Sweeps = 1
	require.NoError(t, c.Configure(cfg))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	_, err := waitFinished(t, c)
	require.NoError(t, err)

	currents, err := cfg.Current.Values()
	require.NoError(t, err)
	for i, r := range sink.Rows() {
		assert.InDelta(t, currents[i%4]*1e-6, r.Get(measure.RTColRTCurrent), 1e-15,
			"recorded current is always in amps")
	}
}

func TestRTCalibration_CurrentOverVoltage(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	cfg.Sweeps = 1
	cfg.Convention = measure.CurrentOverVoltage
	cfg.CurrentUnit = measure.Amps
	cfg.Current = sweep.Axis{Start: 1e-5, Stop: 4e-5, Steps: 4}
	require.NoError(t, c.Configure(cfg))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	_, err := waitFinished(t, c)
	require.NoError(t, err)

	for _, r := range sink.Rows() {
		v, i := r.Get(measure.RTColRTVoltage), r.Get(measure.RTColRTCurrent)
		assert.InDelta(t, i/v, r.Get(measure.RTColRTResistance), 1e-12)
	}
}

func TestRTCalibration_HeaterReversedBetweenSweeps(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	require.NoError(t, c.Configure(cfg))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	_, err := waitFinished(t, c)
	require.NoError(t, err)

	var first, second []float64
	for i, r := range sink.Rows() {
		if i%4 != 0 {
			continue
		}
		if r.Get(measure.RTColSweep) == 0 {
			first = append(first, r.Get(measure.RTColHeaterVoltage))
		} else {
			second = append(second, r.Get(measure.RTColHeaterVoltage))
		}
	}
	assert.Equal(t, []float64{0, 2, 4}, first)
	assert.Equal(t, []float64{4, 2, 0}, second)
}

func TestRTCalibration_HoldSequence(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	cfg.Sweeps = 1
	cfg.Heater.Steps = 2
	cfg.Current.Steps = 2
	cfg.HeaterHold = 10 * time.Second
	cfg.CurrentHold = time.Second
	cfg.RestHold = 3 * time.Second
	require.NoError(t, c.Configure(cfg))

	require.NoError(t, c.Start(context.Background(), memorySink(t, measure.RTColumns())))
	_, err := waitFinished(t, c)
	require.NoError(t, err)

	H, I, R := 10*time.Second, time.Second, 3*time.Second
	assert.Equal(t, []time.Duration{H, H, I, I, R, H, I, I, R, H}, s.waiter.Holds())
}

func TestRTCalibration_ZeroCurrentGivesNaN(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	cfg := smallRT()
	cfg.Sweeps = 1
	cfg.Current = sweep.Axis{Start: 0, Stop: 10, Steps: 2}
	require.NoError(t, c.Configure(cfg))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	_, err := waitFinished(t, c)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(sink.Rows()[0].Get(measure.RTColRTResistance)))
}

func TestRTCalibration_StopAfterNRows(t *testing.T) {
	s := newRigSetup()
	c := measure.NewRTCalibration(s.reg, s.options()...)
	require.NoError(t, c.Configure(smallRT()))

	sink := memorySink(t, measure.RTColumns())
	sink.Watch(&stopAfter{n: 9, stop: c.Stop})
	require.NoError(t, c.Start(context.Background(), sink))

	state, err := waitFinished(t, c)
	require.NoError(t, err)
	assert.Equal(t, measure.StoppedByUser, state)
	assert.Equal(t, 9, sink.Len())
	assert.Empty(t, s.rig.Enabled())
}

func TestRTCalibration_DeviceErrorDuringShutdownIgnored(t *testing.T) {
	s := newRigSetup()
	s.rig.FailAfter(string(instrument.RT), "ReadInputLevel", 2, nil)
	c := measure.NewRTCalibration(s.reg, s.options()...)
	require.NoError(t, c.Configure(smallRT()))

	sink := memorySink(t, measure.RTColumns())
	require.NoError(t, c.Start(context.Background(), sink))
	state, err := waitFinished(t, c)
	assert.Equal(t, measure.Failed, state)
	assert.True(t, fault.IsDeviceError(err))
	assert.Contains(t, err.Error(), "rt: read input level")
	assert.Equal(t, 2, sink.Len())
	assert.Empty(t, s.rig.Enabled())
}

func TestRTConfig_Validate(t *testing.T) {
	assert.NoError(t, measure.DefaultRTConfig().Validate())
	assert.Equal(t, 66, measure.DefaultRTConfig().TotalSteps())

	cfg := measure.DefaultRTConfig()
	cfg.Sweeps = 0
	cfg.Current.Steps = 0
	cfg.RestHold = -time.Second
	cfg.Heater.Stop = math.Inf(1)
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))

	var p fault.Problems
	p.Merge(err)
	assert.Equal(t, []string{
		"current steps must be >= 1, got 0",
		"heater stop must be finite, got +Inf",
		"sweeps must be >= 1, got 0",
		"rest hold must be >= 0, got -1s",
	}, p.List())
}

func TestRTConventions_Parse(t *testing.T) {
	conv, err := measure.ParseResistanceConvention("i/v")
	require.NoError(t, err)
	assert.Equal(t, measure.CurrentOverVoltage, conv)
	assert.Equal(t, 0.5, conv.Apply(2, 1))
	assert.Equal(t, 2.0, measure.VoltageOverCurrent.Apply(2, 1))

	unit, err := measure.ParseCurrentUnit("µA")
	require.NoError(t, err)
	assert.Equal(t, measure.Microamps, unit)
	assert.Equal(t, "uA", unit.String())

	_, err = measure.ParseCurrentUnit("mA")
	assert.True(t, fault.IsInvalidParameter(err))
	_, err = measure.ParseResistanceConvention("ohms")
	assert.True(t, fault.IsInvalidParameter(err))
}
