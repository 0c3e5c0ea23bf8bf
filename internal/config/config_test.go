package config

import (
	"os"
	"path/filepath"
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
)

func TestDefault_MatchesMeasurementDefaults(t *testing.T) {
	f := Default()

	gated, err := f.GatedConfig()
	require.NoError(t, err)
	assert.Equal(t, measure.DefaultGatedConfig(), gated)

	rt, err := f.RTConfig()
	require.NoError(t, err)
	assert.Equal(t, measure.DefaultRTConfig(), rt)

	period, err := f.LoggerPeriod()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, period)

	assert.Equal(t, ".", f.OutputDir)
	assert.Equal(t, "temeasure.db", f.Database)
	assert.Empty(t, f.Instruments)
	assert.Equal(t, []string{"stage", "heater"}, f.Logger.Channels)
	assert.Equal(t, ",", f.Stream.Delimiter)
}

func TestLoad_FullFile(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./lab.db", f.Database)
	assert.Len(t, f.Instruments, 6)
	assert.Equal(t, "heater supply", f.Instruments["heater"].Label)

	gated, err := f.GatedConfig()
	require.NoError(t, err)
	assert.Equal(t, sweep.Axis{Start: -20, Stop: 20, Steps: 5}, gated.Gate)
	assert.Equal(t, 2500*time.Millisecond, gated.HeaterHold)
	assert.Equal(t, measure.HotGateOnly, gated.Gates)
	assert.True(t, gated.InvertColdGate)

	rt, err := f.RTConfig()
	require.NoError(t, err)
	assert.Equal(t, sweep.Axis{Start: 0, Stop: 5, Steps: 6}, rt.Heater, "unset axis keeps its default")
	assert.Equal(t, 2, rt.Sweeps)
	assert.Equal(t, 30*time.Second, rt.RestHold)
	assert.Equal(t, measure.CurrentOverVoltage, rt.Convention)
	assert.Equal(t, measure.Amps, rt.CurrentUnit)

	period, err := f.LoggerPeriod()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, period)
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
bogus: 1
instruments:
  heater: {driver: serial}
gated:
  gate: {steps: -1}
  gate_hold: soon
`))
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))

	msg := err.Error()
	assert.Contains(t, msg, "bogus")
	assert.Contains(t, msg, "driver")
	assert.Contains(t, msg, "steps")
	assert.Contains(t, msg, "gate_hold")
}

func TestParse_RejectsUnknownRole(t *testing.T) {
	_, err := Parse([]byte("instruments:\n  laser: {driver: sim}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "laser")
}

func TestParse_GoSideChecks(t *testing.T) {
	_, err := Parse([]byte("logger:\n  period: 0s\n"))
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))
	assert.Contains(t, err.Error(), "logger.period must be > 0")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("gated: [unclosed"))
	assert.True(t, fault.IsInvalidParameter(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, fault.IsNotConfigured(err))
}

func TestRegistry_BindsOnlyConfiguredRoles(t *testing.T) {
	f, err := Parse([]byte("instruments:\n  heater: {driver: sim}\n  stage: {driver: sim}\n"))
	require.NoError(t, err)

	rig := sim.NewRig()
	reg, err := f.Registry(rig)
	require.NoError(t, err)
	assert.Equal(t, []instrument.Role{instrument.Heater, instrument.Stage}, reg.Roles())

	h, ok := reg.Lookup(instrument.Heater)
	require.True(t, ok)
	assert.Same(t, rig.Channel(instrument.Heater), h)

	g := measure.NewGatedTEM(reg)
	sink, err := results.NewMemory(measure.GatedColumns())
	require.NoError(t, err)
	err = g.Start(t.Context(), sink)
	require.Error(t, err)
	assert.True(t, fault.IsNotConfigured(err))
	assert.Contains(t, err.Error(), "thermo-voltage")
}

func TestLoggerChannels(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	reg, err := f.Registry(sim.NewRig())
	require.NoError(t, err)

	channels, err := f.LoggerChannels(reg)
	require.NoError(t, err)

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = results.NewColumn(ch.Name, ch.Unit).Label()
	}
	assert.Equal(t, []string{
		"stage Temperature [K]",
		"heater Output [V]",
		"heater Input [A]",
		"rt Output [A]",
		"rt Input [V]",
	}, names)
}

func TestLoggerChannels_Unconfigured(t *testing.T) {
	f := Default()
	_, err := f.LoggerChannels(instrument.NewRegistry())
	require.Error(t, err)
	assert.True(t, fault.IsNotConfigured(err))
	assert.Contains(t, err.Error(), "stage")
	assert.Contains(t, err.Error(), "heater")
}

func TestStreamOptions(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.tsv")
	tbl, err := results.CreateStream(path, []results.Column{results.NewColumn("a", "V")}, f.StreamOptions()...)
	require.NoError(t, err)
	require.NoError(t, tbl.Append(1))
	require.NoError(t, tbl.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nV\n1\n", string(data))
}

func TestEnv(t *testing.T) {
	t.Setenv("TEMEASURE_DB", "/tmp/env.db")
	t.Setenv("TEMEASURE_LOG_LEVEL", "debug")
	t.Setenv("TEMEASURE_OTEL_ENABLED", "true")
	t.Setenv("TEMEASURE_OTEL_ENDPOINT", "localhost:4317")

	env, err := LoadEnv()
	require.NoError(t, err)

	f := Default()
	env.Apply(f)
	assert.Equal(t, "/tmp/env.db", f.Database)
	assert.Equal(t, "DEBUG", env.Level().String())

	tc := env.Telemetry()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "localhost:4317", tc.Endpoint)
	assert.False(t, tc.Insecure)
}

func TestEnv_BadBool(t *testing.T) {
	t.Setenv("TEMEASURE_OTEL_ENABLED", "maybe")
	_, err := LoadEnv()
	assert.True(t, fault.IsInvalidParameter(err))
}
