package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/measure"
)

// Scenario defines one measurement run and what to check about it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Kind is the measurement to run: gated-tem or rt-calibration.
	Kind string `yaml:"kind"`

	// Config is a configuration document (same format as the config file).
	// Only the section for Kind is used.
	Config yaml.Node `yaml:"config,omitempty"`

	// Unbound lists roles to leave without an instrument.
	Unbound []string `yaml:"unbound,omitempty"`

	// Faults are injected into the simulated rig before the run starts.
	Faults []Fault `yaml:"faults,omitempty"`

	// StopAfterRows stops the run once this many rows exist. Zero runs to
	// completion.
	StopAfterRows int `yaml:"stop_after_rows,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run ID. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`
}

// Fault makes one instrument call fail after a number of successes.
type Fault struct {
	// Instrument is the role name; empty matches any instrument.
	Instrument string `yaml:"instrument"`

	// Op is the call name, e.g. ReadTemperature or SetOutputLevel.
	Op string `yaml:"op"`

	// After is how many matching calls succeed first.
	After int `yaml:"after"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Expect holds expected summary fields (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Call is "instrument.Op" (call_count).
	Call string `yaml:"call,omitempty"`

	// Calls is the expected first-occurrence order (call_order).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number (call_count, series_count).
	Count int `yaml:"count,omitempty"`

	// Row and Column locate a value (row_value).
	Row    int    `yaml:"row,omitempty"`
	Column string `yaml:"column,omitempty"`

	// Value and Tolerance give the expected value (row_value).
	Value     float64 `yaml:"value,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Text is the expected substring (error_contains).
	Text string `yaml:"text,omitempty"`

	// Split names the column to split by (series_count).
	Split string `yaml:"split,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState      = "final_state"
	AssertCallCount       = "call_count"
	AssertCallOrder       = "call_order"
	AssertOutputsDisabled = "outputs_disabled"
	AssertRowValue        = "row_value"
	AssertErrorContains   = "error_contains"
	AssertSeriesCount     = "series_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Kind {
	case measure.KindGatedTEM, measure.KindRTCalibration:
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.StopAfterRows < 0 {
		return fmt.Errorf("stop_after_rows must be non-negative")
	}

	for i, role := range s.Unbound {
		if !knownRole(role) {
			return fmt.Errorf("unbound[%d]: unknown role %q", i, role)
		}
	}

	for i, f := range s.Faults {
		if f.Op == "" {
			return fmt.Errorf("faults[%d]: op is required", i)
		}
		if f.Instrument != "" && !knownRole(f.Instrument) {
			return fmt.Errorf("faults[%d]: unknown instrument %q", i, f.Instrument)
		}
		if f.After < 0 {
			return fmt.Errorf("faults[%d]: after must be non-negative", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertCallCount:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for call_order", index)
		}
	case AssertOutputsDisabled:
	case AssertRowValue:
		if a.Column == "" {
			return fmt.Errorf("assertions[%d]: column is required for row_value", index)
		}
		if a.Row < 0 || a.Tolerance < 0 {
			return fmt.Errorf("assertions[%d]: row and tolerance must be non-negative for row_value", index)
		}
	case AssertErrorContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for error_contains", index)
		}
	case AssertSeriesCount:
		if a.Split == "" {
			return fmt.Errorf("assertions[%d]: split is required for series_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func knownRole(name string) bool {
	switch instrument.Role(name) {
	case instrument.ThermoVoltage, instrument.HotGate, instrument.ColdGate,
		instrument.Heater, instrument.RT, instrument.Stage:
		return true
	}
	return false
}
