package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/temeasure/internal/store"
)

// RunEntry is one run as reported by the runs command.
type RunEntry struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	State      string   `json:"state"`
	Rows       int      `json:"rows"`
	TotalSteps int      `json:"total_steps"`
	Started    string   `json:"started"`
	Duration   string   `json:"duration,omitempty"`
	Error      string   `json:"error,omitempty"`
	Columns    []string `json:"columns,omitempty"`
}

// RunList is the runs command listing.
type RunList struct {
	Runs []RunEntry `json:"runs"`
}

func (l RunList) String() string {
	if len(l.Runs) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-14s  %-9s  %9s  %s\n", "RUN", "KIND", "STATE", "ROWS", "STARTED")
	for _, r := range l.Runs {
		fmt.Fprintf(&b, "%-36s  %-14s  %-9s  %4d/%-4d  %s\n",
			r.ID, r.Kind, r.State, r.Rows, r.TotalSteps, r.Started)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (r RunEntry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", r.ID)
	fmt.Fprintf(&b, "Kind:     %s\n", r.Kind)
	fmt.Fprintf(&b, "State:    %s\n", r.State)
	fmt.Fprintf(&b, "Rows:     %d/%d\n", r.Rows, r.TotalSteps)
	fmt.Fprintf(&b, "Started:  %s\n", r.Started)
	if r.Duration != "" {
		fmt.Fprintf(&b, "Duration: %s\n", r.Duration)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", r.Error)
	}
	fmt.Fprintf(&b, "Columns:  %s", strings.Join(r.Columns, ", "))
	return b.String()
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs",
		Long: `List every run in the run database, newest first, or show one run.

Examples:
  temeasure runs
  temeasure runs --db lab.db --format json
  temeasure runs 01928f7e-5c1a-7b3e-9d2f-4a6b8c0e1f23`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runRuns(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load configuration", err)
	}

	st, err := store.Open(cfg.Database, store.WithLogger(opts.log()))
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		rec, _, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return f.Fail(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			return f.Fail(ExitFailure, "failed to read run", err)
		}
		return f.Success(toRunEntry(rec, true))
	}

	recs, err := st.ListRuns(ctx)
	if err != nil {
		return f.Fail(ExitFailure, "failed to list runs", err)
	}
	list := RunList{Runs: make([]RunEntry, 0, len(recs))}
	for _, rec := range recs {
		list.Runs = append(list.Runs, toRunEntry(rec, false))
	}
	return f.Success(list)
}

func toRunEntry(rec store.RunRecord, withColumns bool) RunEntry {
	e := RunEntry{
		ID:         rec.ID,
		Kind:       rec.Kind,
		State:      rec.State.String(),
		Rows:       rec.Rows,
		TotalSteps: rec.TotalSteps,
		Started:    rec.Started.UTC().Format(time.RFC3339),
		Error:      rec.Error,
	}
	if d := rec.Duration(); d > 0 {
		e.Duration = d.Round(time.Millisecond).String()
	}
	if withColumns {
		for _, c := range rec.Columns {
			e.Columns = append(e.Columns, c.Label())
		}
	}
	return e
}
