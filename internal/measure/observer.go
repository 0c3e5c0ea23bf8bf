package measure

import (
	"time"

	"github.com/roach88/temeasure/internal/results"
)

// RunInfo describes a run to observers.
type RunInfo struct {
	ID         string
	Kind       string
	Columns    []results.Column
	TotalSteps int
	Started    time.Time
}

// Outcome is how a run ended.
type Outcome struct {
	State    State
	Err      error
	Rows     int
	Duration time.Duration
}

// Observer is notified of run lifecycle events. Callbacks run on the run
// worker and must not block for long; they cannot affect the run.
type Observer interface {
	RunStarted(info RunInfo)
	RowAppended(info RunInfo, index int)
	RunFinished(info RunInfo, outcome Outcome)
}

type observers []Observer

func (o observers) RunStarted(info RunInfo) {
	for _, obs := range o {
		obs.RunStarted(info)
	}
}

func (o observers) RowAppended(info RunInfo, index int) {
	for _, obs := range o {
		obs.RowAppended(info, index)
	}
}

func (o observers) RunFinished(info RunInfo, outcome Outcome) {
	for _, obs := range o {
		obs.RunFinished(info, outcome)
	}
}
