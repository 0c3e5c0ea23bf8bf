package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument/sim"
)

// ValidationResult describes a configuration that passed validation.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Source      string   `json:"source"`
	Instruments []string `json:"instruments"`
	GatedSteps  int      `json:"gated_steps"`
	RTSteps     int      `json:"rt_steps"`
	LogPeriod   string   `json:"log_period"`
	Warnings    []string `json:"warnings,omitempty"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %s is valid\n", r.Source)
	instruments := "none"
	if len(r.Instruments) > 0 {
		instruments = strings.Join(r.Instruments, ", ")
	}
	fmt.Fprintf(&b, "  instruments: %s\n", instruments)
	fmt.Fprintf(&b, "  gated sweep: %d steps\n", r.GatedSteps)
	fmt.Fprintf(&b, "  rt sweep:    %d steps\n", r.RTSteps)
	fmt.Fprintf(&b, "  log period:  %s", r.LogPeriod)
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n  warning: %s", w)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without touching any instrument.

Checks the file against the schema, builds both measurement configurations
and binds the configured instruments. Every problem is reported at once.
Without an argument the --config flag, TEMEASURE_CONFIG or the built-in
defaults are validated.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Command error (file not found, etc.)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				rootOpts.Config = args[0]
			}
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	source := opts.Config
	if source == "" {
		source = opts.env.Config
	}
	if source == "" {
		source = "defaults"
	} else if _, err := os.Stat(source); err != nil {
		return f.Fail(ExitCommandError, "config file not found", err)
	}
	f.VerboseLog("Validating %s", source)

	cfg, err := opts.loadConfig()
	if err != nil {
		return failValidation(f, err)
	}

	reg, err := cfg.Registry(sim.NewRig())
	if err != nil {
		return failValidation(f, err)
	}

	// Both succeed: Parse already built them.
	gated, _ := cfg.GatedConfig()
	rt, _ := cfg.RTConfig()
	period, _ := cfg.LoggerPeriod()

	result := ValidationResult{
		Valid:      true,
		Source:     source,
		GatedSteps: gated.TotalSteps(),
		RTSteps:    rt.TotalSteps(),
		LogPeriod:  period.String(),
	}
	for _, role := range reg.Roles() {
		result.Instruments = append(result.Instruments, string(role))
	}
	sort.Strings(result.Instruments)

	// Logger channels only matter to the log command; report, don't fail.
	if _, err := cfg.LoggerChannels(reg); err != nil {
		result.Warnings = append(result.Warnings, problemsOf(err)...)
	}

	return f.Success(result)
}

func failValidation(f *OutputFormatter, err error) error {
	if fault.CodeOf(err) == fault.InvalidParameter {
		return f.Fail(ExitFailure, "invalid configuration", err)
	}
	return f.Fail(ExitCommandError, "failed to load configuration", err)
}

// problemsOf flattens err into its problem list, or its message.
func problemsOf(err error) []string {
	var fe *fault.Error
	if errors.As(err, &fe) && len(fe.Problems) > 0 {
		return append([]string(nil), fe.Problems...)
	}
	return []string{err.Error()}
}
