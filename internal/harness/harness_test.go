package harness

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/view"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario := loadTestdata(t, name)

			var result *Result
			if _, err := os.Stat(filepath.Join("testdata", "golden", name+".golden")); err == nil {
				result, err = RunWithGolden(t, scenario)
				require.NoError(t, err)
			} else {
				result, err = Run(scenario)
				require.NoError(t, err)
			}

			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_TraceIsNumberedInOrder(t *testing.T) {
	result, err := Run(loadTestdata(t, "rt_small"))
	require.NoError(t, err)

	require.NotEmpty(t, result.Trace)
	for i, event := range result.Trace {
		assert.Equal(t, i+1, event.Seq)
	}
	assert.Equal(t, "heater.DisableOutput", result.Trace[0].Call)
	assert.Len(t, result.Rows, 4)
	assert.Equal(t, 7, results.Index(result.Columns, "RT Current"))
}

func TestRun_DefaultConfig(t *testing.T) {
	scenario := &Scenario{
		Name:        "defaults_refused",
		Description: "default configuration with the stage missing",
		Kind:        "rt-calibration",
		Unbound:     []string{"stage"},
		Assertions:  []Assertion{{Type: AssertFinalState, Expect: map[string]any{"state": "idle"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 66, result.Summary.TotalSteps, "default RT sweep is 6 heater by 11 current steps")
	assert.True(t, fault.IsNotConfigured(result.Err))
}

func TestRun_InvalidConfig(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_config
description: "a zero-step axis is rejected by the schema"
kind: gated-tem
config:
  gated:
    gate: {steps: 0}
assertions:
  - type: outputs_disabled
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))
	assert.Contains(t, err.Error(), "scenario bad_config")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := loadTestdata(t, "gated_hot_only")
	scenario.Assertions = []Assertion{
		{Type: AssertFinalState, Expect: map[string]any{"rows": 5}},
		{Type: AssertCallCount, Call: "heater.EnableOutput", Count: 9},
		{Type: AssertCallOrder, Calls: []string{"hot-gate.EnableOutput", "thermo-voltage.EnableOutput"}},
		{Type: AssertRowValue, Row: 0, Column: "Gate Set", Value: 1},
		{Type: AssertRowValue, Row: 40, Column: "Gate Set"},
		{Type: AssertRowValue, Column: "Missing"},
		{Type: AssertErrorContains, Text: "boom"},
		{Type: AssertSeriesCount, Split: "Gate Config", Count: 2},
		{Type: AssertOutputsDisabled},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 8, "every failing assertion reported, outputs_disabled passes")
	assert.Contains(t, result.Errors[0], "rows = 5")
	assert.Contains(t, result.Errors[1], "9 occurrences of heater.EnableOutput")
	assert.Contains(t, result.Errors[2], "should be before")
	assert.Contains(t, result.Errors[2], "Full trace:")
	assert.Contains(t, result.Errors[3], "Gate Set = 1")
	assert.Contains(t, result.Errors[4], "4 rows")
	assert.Contains(t, result.Errors[5], `no column "Missing"`)
	assert.Contains(t, result.Errors[6], "no error")
	assert.Contains(t, result.Errors[7], "1 series")
}

func TestAssertFinalState_UnknownField(t *testing.T) {
	err := assertFinalState(&Result{}, Assertion{Expect: map[string]any{"colour": "red"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "colour"`)
}

func TestAssertOutputsDisabled(t *testing.T) {
	r := &Result{Summary: Summary{EnabledAfter: []string{"heater"}}}
	err := assertOutputsDisabled(r)

	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "enabled: [heater]", ae.Actual)
}

func TestAssertSeriesCount_ListsKeys(t *testing.T) {
	r := &Result{Series: map[string][]view.Series{"Gate Config": {{Key: 0}, {Key: 1}}}}
	err := assertSeriesCount(r, Assertion{Split: "Gate Config", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 series with keys [0 1]")
}

func TestMarshalSummary_EmptyCollections(t *testing.T) {
	data, err := MarshalSummary(Summary{
		Scenario:     "s",
		EnabledAfter: []string{},
		Calls:        map[string]int{},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"enabled_after": []`)
	assert.Contains(t, string(data), `"calls": {}`)
	assert.NotContains(t, string(data), "error_code")
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
}
