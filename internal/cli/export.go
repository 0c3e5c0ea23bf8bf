package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/temeasure/internal/config"
	"github.com/roach88/temeasure/internal/export"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string // parquet file; defaults next to the source
}

// ExportSummary is the outcome of an export.
type ExportSummary struct {
	Source  string `json:"source"`
	Output  string `json:"output"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

func (s ExportSummary) String() string {
	return fmt.Sprintf("Exported %d rows x %d columns from %s to %s", s.Rows, s.Columns, s.Source, s.Output)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <run-id|result-file>",
		Short: "Export a run to Parquet",
		Long: `Convert a recorded run or a delimited result file to Parquet.

An existing file path is read as a result file using the configured
delimiter; anything else is looked up as a run ID in the run database.
Column units are kept as Parquet field metadata.

Examples:
  temeasure export runs/gated-tem-0192.csv
  temeasure export 01928f7e-5c1a-7b3e-9d2f-4a6b8c0e1f23 -o sweep.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "parquet file (default: source name with .parquet)")

	return cmd
}

func runExport(opts *ExportOptions, source string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load configuration", err)
	}

	var (
		cols []results.Column
		rows []results.Row
		out  = opts.Output
	)
	if info, statErr := os.Stat(source); statErr == nil && !info.IsDir() {
		cols, rows, err = results.ReadFile(source, cfg.StreamOptions()...)
		if err != nil {
			return f.Fail(ExitFailure, "failed to read result file", err)
		}
		if out == "" {
			out = strings.TrimSuffix(source, filepath.Ext(source)) + ".parquet"
		}
	} else {
		cols, rows, err = readStoredRun(cmd, opts, cfg, source)
		if errors.Is(err, store.ErrRunNotFound) {
			return f.Fail(ExitCommandError, "no such file or run", err)
		}
		if err != nil {
			return f.Fail(ExitFailure, "failed to read run", err)
		}
		if out == "" {
			out = filepath.Join(cfg.OutputDir, source+".parquet")
		}
	}

	f.VerboseLog("Writing %d rows to %s", len(rows), out)
	if err := export.WriteFile(out, cols, rows); err != nil {
		return f.Fail(ExitFailure, "export failed", err)
	}

	return f.Success(ExportSummary{
		Source:  source,
		Output:  out,
		Rows:    len(rows),
		Columns: len(cols),
	})
}

func readStoredRun(cmd *cobra.Command, opts *ExportOptions, cfg *config.File, id string) ([]results.Column, []results.Row, error) {
	st, err := store.Open(cfg.Database, store.WithLogger(opts.log()))
	if err != nil {
		return nil, nil, err
	}
	defer st.Close()

	rec, rows, err := st.ReadRun(cmd.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	return rec.Columns, rows, nil
}
