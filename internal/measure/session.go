package measure

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/results"
)

// ErrStopped is returned from a checkpoint once the run has been cancelled.
var ErrStopped = errors.New("measurement stopped")

// Waiter performs settle/hold waits.
type Waiter interface {
	// Wait blocks for d or until ctx is done, whichever comes first, and
	// returns ctx.Err() in the latter case.
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter waits on a real timer.
type TimerWaiter struct{}

// Wait implements Waiter.
func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Session is the run worker's handle on the hardware and the sink.
//
// Every hardware write and every hold first checks for cancellation and
// returns ErrStopped once the run has been stopped. Instrument failures are
// wrapped as DeviceError naming the role.
type Session struct {
	ctx     context.Context
	info    RunInfo
	sink    *results.Table
	waiter  Waiter
	logger  *slog.Logger
	counter *Counter
	obs     observers
	onRow   func()
}

// checkpoint returns ErrStopped if the run has been cancelled.
func (s *Session) checkpoint() error {
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

// Hold waits for d, waking early if the run is stopped.
func (s *Session) Hold(d time.Duration) error {
	if err := s.checkpoint(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	s.logger.Debug("hold", "run", s.info.ID, "duration", d)
	if err := s.waiter.Wait(s.ctx, d); err != nil {
		return ErrStopped
	}
	return nil
}

// Set sets the output level of a source.
func (s *Session) Set(role instrument.Role, src instrument.Source, v float64) error {
	return s.Do(role, "set output level", func() error {
		return src.SetOutputLevel(v)
	})
}

// Enable turns a source output on.
func (s *Session) Enable(role instrument.Role, src instrument.Source) error {
	return s.Do(role, "enable output", src.EnableOutput)
}

// Disable turns a source output off.
func (s *Session) Disable(role instrument.Role, src instrument.Source) error {
	return s.Do(role, "disable output", src.DisableOutput)
}

// Do runs one hardware write after a cancellation checkpoint.
func (s *Session) Do(role instrument.Role, op string, write func() error) error {
	if err := s.checkpoint(); err != nil {
		return err
	}
	if err := write(); err != nil {
		return fault.Wrap(fault.DeviceError, err, "%s: %s", role, op)
	}
	return nil
}

// Read starts a synchronized reading. See Reading.
func (s *Session) Read() *Reading {
	return &Reading{}
}

// Append numbers and writes one row. The first value of every row is the
// row number, supplied here; values holds the remaining columns.
func (s *Session) Append(values ...float64) error {
	if err := s.checkpoint(); err != nil {
		return err
	}
	n := s.counter.Issued()
	row := make([]float64, 0, len(values)+1)
	row = append(row, float64(n))
	row = append(row, values...)
	if err := s.sink.Append(row...); err != nil {
		return err
	}
	s.counter.Next()
	s.onRow()
	s.obs.RowAppended(s.info, int(n))
	s.logger.Debug("row appended", "run", s.info.ID, "step", n)
	return nil
}

// Reading collects instrument reads for one row. After the first failure
// further reads return 0 without touching hardware; check Err once at the end.
//
//	r := s.Read()
//	v := r.Level(instrument.Heater, heater)
//	i := r.Sense(instrument.Heater, heater)
//	if err := r.Err(); err != nil {
//	    return err
//	}
type Reading struct {
	err error
}

// Level reads the sourced level of m.
func (r *Reading) Level(role instrument.Role, m instrument.Meter) float64 {
	return r.read(role, "read output level", m.ReadOutputLevel)
}

// Sense reads the sensed quantity of m.
func (r *Reading) Sense(role instrument.Role, m instrument.Meter) float64 {
	return r.read(role, "read input level", m.ReadInputLevel)
}

// Temperature reads t in kelvin.
func (r *Reading) Temperature(role instrument.Role, t instrument.Thermometer) float64 {
	return r.read(role, "read temperature", t.ReadTemperature)
}

// Err returns the first read failure as a DeviceError.
func (r *Reading) Err() error {
	return r.err
}

func (r *Reading) read(role instrument.Role, op string, fn func() (float64, error)) float64 {
	if r.err != nil {
		return 0
	}
	v, err := fn()
	if err != nil {
		r.err = fault.Wrap(fault.DeviceError, err, "%s: %s", role, op)
		return 0
	}
	return v
}
