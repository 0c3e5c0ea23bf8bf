package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/results"
)

// DefaultPeriod is the telemetry logger sampling period.
const DefaultPeriod = 2 * time.Second

// Channel is one logged quantity.
type Channel struct {
	Name string
	Unit string
	Read func() (float64, error)
}

// TemperatureChannel logs a thermometer.
func TemperatureChannel(role instrument.Role, t instrument.Thermometer) Channel {
	return Channel{
		Name: fmt.Sprintf("%s Temperature", role),
		Unit: "K",
		Read: t.ReadTemperature,
	}
}

// MeterChannels logs both the sourced and sensed levels of m.
func MeterChannels(role instrument.Role, m instrument.Meter, sourceUnit, senseUnit string) []Channel {
	return []Channel{
		{Name: fmt.Sprintf("%s Output", role), Unit: sourceUnit, Read: m.ReadOutputLevel},
		{Name: fmt.Sprintf("%s Input", role), Unit: senseUnit, Read: m.ReadInputLevel},
	}
}

// LoggerColumns returns the column manifest for channels: a time column in
// minutes followed by one column per channel.
func LoggerColumns(channels []Channel) []results.Column {
	cols := make([]results.Column, 0, len(channels)+1)
	cols = append(cols, results.NewColumn("Time", "mins"))
	for _, ch := range channels {
		cols = append(cols, results.NewColumn(ch.Name, ch.Unit))
	}
	return cols
}

// DefaultLogPath returns the default output file name, TLog-<unix ms>.csv.
func DefaultLogPath(now time.Time) string {
	return fmt.Sprintf("TLog-%d.csv", now.UnixMilli())
}

// LoggerOption configures a Logger.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	period time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// WithPeriod sets the sampling period (default DefaultPeriod).
func WithPeriod(d time.Duration) LoggerOption {
	return func(c *loggerConfig) {
		c.period = d
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) LoggerOption {
	return func(c *loggerConfig) {
		c.logger = l
	}
}

// WithClock replaces the clock used for the time column.
func WithClock(now func() time.Time) LoggerOption {
	return func(c *loggerConfig) {
		c.now = now
	}
}

// Logger samples instrument channels into its own result table at a fixed
// period. A channel that fails to read is recorded as NaN for that row.
//
// A Logger is single-use: Stop finalizes the table, after which Start fails.
type Logger struct {
	sink     *results.Table
	channels []Channel
	task     *Task
	logger   *slog.Logger

	mu        sync.Mutex
	started   bool
	finalized bool
	finalErr  error
}

// NewLogger creates a stopped logger writing to sink, whose columns must be
// LoggerColumns(channels).
func NewLogger(sink *results.Table, channels []Channel, opts ...LoggerOption) (*Logger, error) {
	cfg := loggerConfig{
		period: DefaultPeriod,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var p fault.Problems
	if len(channels) == 0 {
		p.Add("at least one channel is required")
	}
	for i, ch := range channels {
		if ch.Read == nil {
			p.Addf("channel %d (%s) has no reader", i, ch.Name)
		}
	}
	if sink == nil {
		p.Add("no result sink")
	} else if got, want := len(sink.Columns()), len(channels)+1; got != want {
		p.Addf("result sink has %d columns, logger needs %d", got, want)
	}
	if err := p.Err(fault.InvalidParameter, "invalid telemetry logger"); err != nil {
		return nil, err
	}

	l := &Logger{
		sink:     sink,
		channels: channels,
		logger:   cfg.logger,
	}
	task, err := NewTask(cfg.period, l.sample, WithTaskLogger(cfg.logger), WithNow(cfg.now))
	if err != nil {
		return nil, err
	}
	l.task = task
	return l, nil
}

// Sink returns the logger's result table.
func (l *Logger) Sink() *results.Table {
	return l.sink
}

// Start begins sampling. Starting a running logger does nothing; starting a
// stopped (finalized) logger fails with InvalidState.
func (l *Logger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return fault.New(fault.InvalidState, "telemetry logger already stopped")
	}
	if !l.task.Running() {
		l.logger.Info("telemetry logger starting", "channels", len(l.channels), "period", l.task.period)
	}
	l.task.Start(ctx)
	l.started = true
	return nil
}

// Stop ends sampling and finalizes the result table exactly once. Stopping a
// logger that was never started does nothing.
func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return l.finalErr
	}
	if !l.started {
		return nil
	}
	l.task.Stop()
	l.finalized = true
	l.finalErr = l.sink.Finalize()

	calls, failures := l.task.Calls()
	l.logger.Info("telemetry logger stopped", "samples", calls, "failures", failures, "rows", l.sink.Len())
	return l.finalErr
}

// Running reports whether the logger is sampling.
func (l *Logger) Running() bool {
	return l.task.Running()
}

func (l *Logger) sample(_ context.Context, elapsed time.Duration) error {
	row := make([]float64, 0, len(l.channels)+1)
	row = append(row, elapsed.Minutes())

	var p fault.Problems
	for _, ch := range l.channels {
		v, err := ch.Read()
		if err != nil {
			p.Addf("%s: %v", ch.Name, err)
			v = math.NaN()
		}
		row = append(row, v)
	}

	if err := l.sink.Append(row...); err != nil {
		return err
	}
	return p.Err(fault.DeviceError, "telemetry read failed")
}
