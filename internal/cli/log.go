package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/temeasure/internal/instrument/sim"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Duration time.Duration // stop after this long; zero runs until interrupted

	// Rig allows overriding the simulated rig (for testing).
	Rig *sim.Rig
}

// LogSummary is the outcome of a telemetry logging session.
type LogSummary struct {
	Path     string `json:"path"`
	Rows     int    `json:"rows"`
	Channels int    `json:"channels"`
}

func (s LogSummary) String() string {
	return fmt.Sprintf("Logged %d rows of %d channels to %s", s.Rows, s.Channels, s.Path)
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return newLogCommand(&LogOptions{RootOptions: rootOpts})
}

func newLogCommand(opts *LogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log instrument telemetry",
		Long: `Sample the configured logger channels periodically and stream them to a file.

The first column is the time in minutes since logging started. Logging stops
on Ctrl-C or after --duration.

Examples:
  temeasure log
  temeasure log --duration 30m --config rig.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (default: until interrupted)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
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

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	tl, path, err := startTelemetryLogger(ctx, cfg, reg, logger)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to start telemetry logger", err)
	}
	f.VerboseLog("Logging to %s", path)

	stopOnSignal(ctx, cancel, logger)
	<-ctx.Done()

	if err := tl.Stop(); err != nil {
		return f.Fail(ExitFailure, "failed to finalize telemetry log", err)
	}

	return f.Success(LogSummary{
		Path:     path,
		Rows:     tl.Sink().Len(),
		Channels: len(tl.Sink().Columns()) - 1,
	})
}
