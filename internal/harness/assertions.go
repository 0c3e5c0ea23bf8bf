package harness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/temeasure/internal/results"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s(%g)\n", event.Seq, event.Call, event.Value)
		}
	}

	return buf.String()
}

// assertFinalState checks summary fields using subset semantics.
func assertFinalState(result *Result, assertion Assertion) error {
	actual := summaryFields(result.Summary)

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return fmt.Errorf("final_state: unknown field %q", key)
		}
		if fmt.Sprint(want) != fmt.Sprint(got) {
			return &AssertionError{
				Type:     "final_state",
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
			}
		}
	}
	return nil
}

func summaryFields(s Summary) map[string]any {
	return map[string]any{
		"state":       s.State,
		"error_code":  s.ErrorCode,
		"rows":        s.Rows,
		"total_steps": s.TotalSteps,
		"holds":       s.Holds,
		"hold_total":  s.HoldTotal,
	}
}

// assertCallCount checks if the call appears exactly the specified number of times.
func assertCallCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Call == assertion.Call {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     "call_count",
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
		}
	}
	return nil
}

// assertCallOrder checks if calls first appear in the specified order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertCallOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected call
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Call]; !seen {
			positions[event.Call] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all calls found
	for _, call := range assertion.Calls {
		if positions[call] == 0 {
			return &AssertionError{
				Type:     "call_order",
				Expected: fmt.Sprintf("all calls present: %v", assertion.Calls),
				Actual:   fmt.Sprintf("missing call: %s", call),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Calls); i++ {
		prev := assertion.Calls[i-1]
		curr := assertion.Calls[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     "call_order",
				Expected: fmt.Sprintf("calls in order: %v", assertion.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertOutputsDisabled checks that the run left no source output on.
func assertOutputsDisabled(result *Result) error {
	if len(result.Summary.EnabledAfter) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     "outputs_disabled",
		Expected: "no enabled outputs",
		Actual:   fmt.Sprintf("enabled: %v", result.Summary.EnabledAfter),
	}
}

// assertRowValue checks one recorded value. An expected NaN matches NaN.
func assertRowValue(result *Result, assertion Assertion) error {
	col := results.Index(result.Columns, assertion.Column)
	if col < 0 {
		return fmt.Errorf("row_value: no column %q", assertion.Column)
	}
	if assertion.Row >= len(result.Rows) {
		return &AssertionError{
			Type:     "row_value",
			Expected: fmt.Sprintf("row %d", assertion.Row),
			Actual:   fmt.Sprintf("%d rows", len(result.Rows)),
		}
	}

	got := result.Rows[assertion.Row].Get(col)
	want := assertion.Value
	if math.IsNaN(want) && math.IsNaN(got) {
		return nil
	}
	if math.Abs(got-want) <= assertion.Tolerance {
		return nil
	}
	return &AssertionError{
		Type:     "row_value",
		Expected: fmt.Sprintf("row %d %s = %g ± %g", assertion.Row, assertion.Column, want, assertion.Tolerance),
		Actual:   fmt.Sprintf("%g", got),
	}
}

// assertErrorContains checks that the run error mentions a substring.
func assertErrorContains(result *Result, assertion Assertion) error {
	if result.Err != nil && strings.Contains(result.Err.Error(), assertion.Text) {
		return nil
	}
	actual := "no error"
	if result.Err != nil {
		actual = result.Err.Error()
	}
	return &AssertionError{
		Type:     "error_contains",
		Expected: fmt.Sprintf("error containing %q", assertion.Text),
		Actual:   actual,
	}
}

// assertSeriesCount checks how many series a view split by a column produced.
func assertSeriesCount(result *Result, assertion Assertion) error {
	series := result.Series[assertion.Split]
	if len(series) == assertion.Count {
		return nil
	}
	keys := make([]float64, len(series))
	for i, s := range series {
		keys[i] = s.Key
	}
	return &AssertionError{
		Type:     "series_count",
		Expected: fmt.Sprintf("%d series split by %s", assertion.Count, assertion.Split),
		Actual:   fmt.Sprintf("%d series with keys %v", len(series), keys),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertCallCount:
			err = assertCallCount(result.Trace, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Trace, assertion)
		case AssertOutputsDisabled:
			err = assertOutputsDisabled(result)
		case AssertRowValue:
			err = assertRowValue(result, assertion)
		case AssertErrorContains:
			err = assertErrorContains(result, assertion)
		case AssertSeriesCount:
			err = assertSeriesCount(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
