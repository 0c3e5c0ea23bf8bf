package telemetry

import (
	"context"

	"github.com/roach88/temeasure/internal/measure"
)

// NoOp is a Recorder that does nothing.
type NoOp struct{}

// NewNoOp creates a new no-op recorder for graceful degradation.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (*NoOp) RunStarted(measure.RunInfo)                   {}
func (*NoOp) RowAppended(measure.RunInfo, int)             {}
func (*NoOp) RunFinished(measure.RunInfo, measure.Outcome) {}

func (*NoOp) Close(context.Context) error {
	return nil
}

var _ Recorder = (*NoOp)(nil)
