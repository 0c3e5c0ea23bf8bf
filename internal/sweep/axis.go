// Package sweep builds the ordered setpoint sequences visited by a measurement.
//
// An Axis is one sweep dimension. Values are linearly spaced and inclusive of
// both ends; a single-step axis yields only its start value. Reverse is used
// between passes so each pass begins next to where the previous one ended,
// which keeps instrument settling short.
package sweep

import (
	"github.com/roach88/temeasure/internal/fault"
)

// Axis describes one sweep dimension.
type Axis struct {
	Start float64 `json:"start" yaml:"start"`
	Stop  float64 `json:"stop" yaml:"stop"`
	Steps int     `json:"steps" yaml:"steps"`
}

// Validate reports an InvalidParameter error if the axis cannot be generated.
func (a Axis) Validate(name string) error {
	if a.Steps < 1 {
		return fault.New(fault.InvalidParameter, "%s steps must be >= 1, got %d", name, a.Steps)
	}
	return nil
}

// Values generates the axis sequence. See Generate.
func (a Axis) Values() ([]float64, error) {
	return Generate(a.Start, a.Stop, a.Steps)
}

// Generate returns steps values linearly spaced from start to stop inclusive.
//
// steps == 1 returns [start]. steps < 1 fails with InvalidParameter.
// Each value is weighted from both ends, so rounding error does not accumulate
// and Generate(b, a, n) is exactly Reverse(Generate(a, b, n)).
func Generate(start, stop float64, steps int) ([]float64, error) {
	if steps < 1 {
		return nil, fault.New(fault.InvalidParameter, "steps must be >= 1, got %d", steps)
	}
	if steps == 1 {
		return []float64{start}, nil
	}

	out := make([]float64, steps)
	last := steps - 1
	for i := range out {
		out[i] = (start*float64(last-i) + stop*float64(i)) / float64(last)
	}
	out[0] = start
	out[last] = stop
	return out, nil
}

// Reverse returns a new slice with the elements of values in reverse order.
// The input is not modified.
func Reverse(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[len(values)-1-i] = v
	}
	return out
}

// Product returns the product of the step counts of axes, the number of
// inner-loop points a nested sweep over them visits.
func Product(axes ...Axis) int {
	n := 1
	for _, a := range axes {
		n *= a.Steps
	}
	return n
}
