// Package harness runs measurement scenarios end to end against the
// simulated rig.
//
// A scenario names a measurement kind and its configuration, optionally
// unbinds instrument roles, injects instrument faults or stops the run after
// a number of rows, and then asserts on the outcome, the instrument call
// trace and the recorded rows.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: gated_hot_only
//	description: "Single hot-gate pass over a 2x2 grid"
//	kind: gated-tem
//	config:
//	  gated: {gates: hot, gate: {steps: 2}, heater: {steps: 2}}
//	unbound: [cold-gate]
//	faults:
//	  - {instrument: stage, op: ReadTemperature, after: 3}
//	stop_after_rows: 0
//	assertions:
//	  - type: final_state
//	    expect: {state: completed, rows: 4}
//	  - type: call_count
//	    call: heater.EnableOutput
//	    count: 2
//
// The config block uses the configuration file format (see package config)
// and is validated against the same schema.
//
// # Assertion Types
//
//   - final_state: subset match on state, rows, error_code, holds
//   - call_count: an instrument call appears exactly N times
//   - call_order: calls first appear in the given order
//   - outputs_disabled: no source output is left enabled
//   - row_value: a recorded value, within tolerance
//   - error_contains: the run error mentions a substring
//   - series_count: a live view split by a column yields N series
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run ID, an instant waiter that records
// holds instead of sleeping, and a fresh in-memory SQLite store, so the
// summary is identical across runs and can be compared to a golden file.
package harness
