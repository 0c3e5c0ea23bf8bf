package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/instrument"
)

func TestHeater_OhmsLawAndStageWarming(t *testing.T) {
	rig := NewRig()
	heater := rig.Channel(instrument.Heater)

	require.NoError(t, heater.SetOutputLevel(5))
	i, err := heater.ReadInputLevel()
	require.NoError(t, err)
	assert.Equal(t, 0.0, i, "no current while disabled")

	require.NoError(t, heater.EnableOutput())
	v, err := heater.ReadOutputLevel()
	require.NoError(t, err)
	i, err = heater.ReadInputLevel()
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
	assert.InDelta(t, 0.1, i, 1e-12)

	temp, err := rig.Stage().ReadTemperature()
	require.NoError(t, err)
	assert.InDelta(t, BaseTemperature+KelvinPerWatt*0.5, temp, 1e-9)
}

func TestThermoVoltage_FollowsGateAndPower(t *testing.T) {
	rig := NewRig()
	heater := rig.Channel(instrument.Heater)
	tv := rig.Channel(instrument.ThermoVoltage)
	gate := rig.Channel(instrument.HotGate)

	require.NoError(t, tv.EnableOutput())
	require.NoError(t, heater.SetOutputLevel(5))
	require.NoError(t, heater.EnableOutput())

	base, err := tv.ReadInputLevel()
	require.NoError(t, err)
	assert.Greater(t, base, 0.0)

	require.NoError(t, gate.SetOutputLevel(-40))
	require.NoError(t, gate.EnableOutput())
	gated, err := tv.ReadInputLevel()
	require.NoError(t, err)
	assert.Less(t, gated, base)
}

func TestRT_ResistanceRisesWithTemperature(t *testing.T) {
	rig := NewRig()
	rt := rig.Channel(instrument.RT)
	heater := rig.Channel(instrument.Heater)

	require.NoError(t, rt.SetOutputLevel(1e-4))
	require.NoError(t, rt.EnableOutput())
	cold, err := rt.ReadInputLevel()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, cold, 1e-12)

	require.NoError(t, heater.SetOutputLevel(5))
	require.NoError(t, heater.EnableOutput())
	warm, err := rt.ReadInputLevel()
	require.NoError(t, err)
	assert.Greater(t, warm, cold)
}

func TestFailAfter(t *testing.T) {
	rig := NewRig()
	heater := rig.Channel(instrument.Heater)
	boom := errors.New("gpib timeout")
	rig.FailAfter("heater", "SetOutputLevel", 2, boom)

	require.NoError(t, heater.SetOutputLevel(1))
	require.NoError(t, heater.SetOutputLevel(2))
	err := heater.SetOutputLevel(3)
	require.ErrorIs(t, err, boom)
	require.NoError(t, heater.SetOutputLevel(4), "injection fires once")

	v, err := heater.ReadOutputLevel()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	require.NoError(t, heater.EnableOutput())
	v, err = heater.ReadOutputLevel()
	require.NoError(t, err)
	assert.Equal(t, 4.0, v, "failed set left the level unchanged until the next set")
}

func TestFailAfter_AnyInstrument(t *testing.T) {
	rig := NewRig()
	rig.FailAfter("", "ReadTemperature", 0, nil)
	_, err := rig.Stage().ReadTemperature()
	assert.ErrorIs(t, err, ErrInjected)
}

func TestCallRecording(t *testing.T) {
	rig := NewRig()
	var observed []Call
	rig.Observe(func(c Call) { observed = append(observed, c) })

	gate := rig.Channel(instrument.ColdGate)
	require.NoError(t, gate.SetOutputMode(true))
	require.NoError(t, gate.SetIntegrationTime(200*time.Millisecond))
	require.NoError(t, gate.EnableOutput())
	assert.Equal(t, []instrument.Role{instrument.ColdGate}, rig.Enabled())
	require.NoError(t, gate.DisableOutput())
	assert.Empty(t, rig.Enabled())

	assert.True(t, gate.HighImpedance())
	assert.Equal(t, 200*time.Millisecond, gate.IntegrationTime())
	assert.Equal(t, 1, rig.Count("cold-gate", "DisableOutput"))
	assert.Len(t, rig.Calls(), 4)
	assert.Equal(t, rig.Calls(), observed)
	assert.Equal(t, "cold-gate.SetIntegrationTime(0.2)", rig.Calls()[1].String())

	src, sense := rig.Channel(instrument.RT).Units()
	assert.Equal(t, "A", src)
	assert.Equal(t, "V", sense)
}
