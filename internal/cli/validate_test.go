package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testInstruments+testSweeps)

	out, err := execValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "cold-gate, heater, hot-gate, rt, stage, thermo-voltage")
	assert.Contains(t, out, "gated sweep: 4 steps")
	assert.Contains(t, out, "log period:  20ms")
	assert.NotContains(t, out, "warning")
}

func TestValidateValidConfigJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testInstruments+testSweeps)

	out, err := execValidate(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Len(t, resp.Data.Instruments, 6)
	assert.Equal(t, 4, resp.Data.GatedSteps)
}

func TestValidateDefaults(t *testing.T) {
	out, err := execValidate(t, "text")
	require.NoError(t, err)
	assert.Contains(t, out, "defaults is valid")
	assert.Contains(t, out, "instruments: none")
	// Default logger channels have no instruments to read.
	assert.Contains(t, out, "warning: logger channel stage has no configured instrument")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
gated:
  gate: {steps: 0}
  gates: cold
rt:
  sweeps: 0
`)

	out, err := execValidate(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)

	details, ok := resp.Error.Details.([]interface{})
	require.True(t, ok, "problems are reported as details")
	assert.NotEmpty(t, details)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execValidate(t, "text", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateMalformedYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "gated: [unclosed\n")

	out, err := execValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "INVALID_PARAMETER")
}
