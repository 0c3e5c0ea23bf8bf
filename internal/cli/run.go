package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/temeasure/internal/config"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/sampler"
	"github.com/roach88/temeasure/internal/store"
	"github.com/roach88/temeasure/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Output  string // result file; defaults to <output_dir>/<kind>-<run id>.csv
	Log     bool   // run the telemetry logger alongside the measurement
	NoStore bool   // skip the SQLite run registry

	// Rig, Waiter, RunIDs and Arbiter allow overriding the simulated rig,
	// hold waiter, run ID generator and run token (for testing).
	Rig     *sim.Rig
	Waiter  measure.Waiter
	RunIDs  measure.RunIDGenerator
	Arbiter *measure.Arbiter
}

// RunSummary is the outcome of one measurement run.
type RunSummary struct {
	RunID    string `json:"run_id"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Rows     int    `json:"rows"`
	Total    int    `json:"total_steps"`
	Output   string `json:"output"`
	Database string `json:"database,omitempty"`
	Log      string `json:"log,omitempty"`
	Elapsed  string `json:"elapsed"`
}

func (s RunSummary) String() string {
	out := fmt.Sprintf("Run %s (%s): %s, %d/%d rows in %s\n  results: %s",
		s.RunID, s.Kind, s.State, s.Rows, s.Total, s.Elapsed, s.Output)
	if s.Database != "" {
		out += "\n  database: " + s.Database
	}
	if s.Log != "" {
		out += "\n  telemetry log: " + s.Log
	}
	return out
}

// NewRunCommand creates the run command with one subcommand per measurement.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a measurement",
		Long: `Run a measurement against the configured rig.

Every row is streamed to the result file as it is taken and, unless
--no-store is given, to the SQLite run registry. Ctrl-C stops the run at the
next step; outputs are always switched off before the command returns.

Exit codes:
  0 - Measurement completed
  1 - Measurement failed or was stopped
  2 - Command error (bad configuration, refused start, etc.)

Examples:
  temeasure run gated --config rig.yaml
  temeasure run rt --output rt.csv --log
  temeasure run gated --format json`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "", "result file (default <output_dir>/<kind>-<run id>.csv)")
	cmd.PersistentFlags().BoolVar(&opts.Log, "log", false, "run the telemetry logger during the measurement")
	cmd.PersistentFlags().BoolVar(&opts.NoStore, "no-store", false, "do not record the run in the database")

	cmd.AddCommand(&cobra.Command{
		Use:   "gated",
		Short: "Gated thermoelectric (TEM) sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasurement(opts, measure.KindGatedTEM, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rt",
		Short: "RT sensor calibration sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasurement(opts, measure.KindRTCalibration, cmd)
		},
	})

	return cmd
}

func runMeasurement(opts *RunOptions, kind string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.log()

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load configuration", err)
	}

	rig := opts.Rig
	if rig == nil {
		rig = sim.NewRig()
	}
	reg, err := cfg.Registry(rig)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to bind instruments", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rec := telemetry.New(ctx, opts.env.Telemetry(), logger)
	defer func() {
		if err := rec.Close(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	observers := []measure.Observer{rec}

	var st *store.Store
	if !opts.NoStore {
		st, err = store.Open(cfg.Database, store.WithLogger(logger))
		if err != nil {
			return f.Fail(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		// The run record must exist before its rows.
		observers = append([]measure.Observer{st}, observers...)
	}

	engineOpts := []measure.Option{
		measure.WithLogger(logger),
		measure.WithObserver(observers...),
	}
	if opts.Waiter != nil {
		engineOpts = append(engineOpts, measure.WithWaiter(opts.Waiter))
	}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, measure.WithRunIDs(opts.RunIDs))
	}

	eng, err := newMeasurement(kind, cfg, reg, engineOpts)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}

	arbiter := opts.Arbiter
	if arbiter == nil {
		arbiter = measure.NewArbiter()
	}
	token, err := arbiter.TryAcquire(kind)
	if err != nil {
		return f.Fail(ExitCommandError, "measurement refused to start", err)
	}
	defer token.Release()

	path := opts.Output
	if path == "" {
		path = filepath.Join(cfg.OutputDir, fmt.Sprintf("%s-%s.csv", eng.Kind(), eng.RunID()))
	}
	// Refuse before the result file is created or truncated.
	if err := eng.Check(path); err != nil {
		return f.Fail(ExitCommandError, "measurement refused to start", err)
	}

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)
	sink, err := openSink(path, eng, cfg, st)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open result file", err)
	}
	discard := func() {
		_ = sink.Finalize()
		if created {
			_ = os.Remove(path)
		}
	}

	var (
		tl      *sampler.Logger
		logPath string
	)
	if opts.Log {
		tl, logPath, err = startTelemetryLogger(ctx, cfg, reg, logger)
		if err != nil {
			discard()
			return f.Fail(ExitCommandError, "failed to start telemetry logger", err)
		}
	}

	f.VerboseLog("Writing %s", path)
	if err := eng.Start(ctx, sink); err != nil {
		discard()
		stopTelemetryLogger(tl, logger)
		return f.Fail(ExitCommandError, "measurement refused to start", err)
	}

	stopOnSignal(ctx, eng.Stop, logger)

	// Wait on a fresh context: a cancelled command context stops the run,
	// and the final state is only known once shutdown completes.
	state, runErr := eng.Wait(context.Background())
	stopTelemetryLogger(tl, logger)

	summary := RunSummary{
		RunID:   eng.RunID(),
		Kind:    eng.Kind(),
		State:   state.String(),
		Rows:    eng.Completed(),
		Total:   eng.TotalSteps(),
		Output:  path,
		Elapsed: eng.Elapsed().Round(time.Millisecond).String(),
	}
	if st != nil {
		summary.Database = cfg.Database
	}
	summary.Log = logPath

	switch state {
	case measure.CompletedNormally:
		return f.Success(summary)
	case measure.StoppedByUser:
		if err := f.Success(summary); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "measurement stopped")
	default:
		f.VerboseLog("%s", summary)
		return f.Fail(ExitFailure, "measurement failed", runErr)
	}
}

// newMeasurement creates and configures the engine for kind.
func newMeasurement(kind string, cfg *config.File, reg *instrument.Registry, opts []measure.Option) (*measure.Engine, error) {
	switch kind {
	case measure.KindGatedTEM:
		gc, err := cfg.GatedConfig()
		if err != nil {
			return nil, err
		}
		g := measure.NewGatedTEM(reg, opts...)
		if err := g.Configure(gc); err != nil {
			return nil, err
		}
		return g.Engine, nil
	case measure.KindRTCalibration:
		rc, err := cfg.RTConfig()
		if err != nil {
			return nil, err
		}
		c := measure.NewRTCalibration(reg, opts...)
		if err := c.Configure(rc); err != nil {
			return nil, err
		}
		return c.Engine, nil
	}
	return nil, fmt.Errorf("unknown measurement %q", kind)
}

// openSink streams rows to path and, when st is set, to the run registry.
func openSink(path string, eng *measure.Engine, cfg *config.File, st *store.Store) (*results.Table, error) {
	file, err := results.OpenFile(path, eng.Columns(), cfg.StreamOptions()...)
	if err != nil {
		return nil, err
	}
	backends := []results.Backend{file}
	if st != nil {
		backends = append(backends, st.Backend(eng.RunID()))
	}
	sink, err := results.New(eng.Columns(), results.Multi(backends...))
	if err != nil {
		file.Close()
		return nil, err
	}
	return sink, nil
}

// startTelemetryLogger opens the logger's file and starts sampling. It
// returns the running logger and the file path.
func startTelemetryLogger(ctx context.Context, cfg *config.File, reg *instrument.Registry, logger *slog.Logger) (*sampler.Logger, string, error) {
	channels, err := cfg.LoggerChannels(reg)
	if err != nil {
		return nil, "", err
	}
	period, err := cfg.LoggerPeriod()
	if err != nil {
		return nil, "", err
	}

	path := cfg.Logger.Path
	if path == "" {
		path = filepath.Join(cfg.OutputDir, sampler.DefaultLogPath(time.Now()))
	}
	sink, err := results.CreateStream(path, sampler.LoggerColumns(channels), cfg.StreamOptions()...)
	if err != nil {
		return nil, "", err
	}

	l, err := sampler.NewLogger(sink, channels,
		sampler.WithPeriod(period),
		sampler.WithLogger(logger),
	)
	if err != nil {
		_ = sink.Finalize()
		return nil, "", err
	}
	if err := l.Start(ctx); err != nil {
		_ = sink.Finalize()
		return nil, "", err
	}
	return l, path, nil
}

func stopTelemetryLogger(l *sampler.Logger, logger *slog.Logger) {
	if l == nil {
		return
	}
	if err := l.Stop(); err != nil {
		logger.Warn("telemetry logger finalize failed", "error", err)
	}
}

// stopOnSignal calls stop on SIGINT or SIGTERM until ctx ends.
func stopOnSignal(ctx context.Context, stop func(), logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			stop()
		case <-ctx.Done():
		}
	}()
}
