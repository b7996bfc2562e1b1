package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/softnav/internal/config"
)

// ValidationResult holds a validated configuration.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Config config.Config `json:"config"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file",
		Long: `Validate a YAML or CUE configuration file against the schema and print
the effective configuration with defaults filled in.

Examples:
  softnav validate ./softnav.yaml
  softnav validate ./softnav.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeConfig, "invalid configuration", err)
	}

	if f.JSON() {
		return f.Success(ValidationResult{Valid: true, Config: cfg})
	}
	printConfig(cmd.OutOrStdout(), cfg)
	return nil
}

func printConfig(w io.Writer, cfg config.Config) {
	fmt.Fprintln(w, "✓ configuration is valid")
	fmt.Fprintf(w, "  endpoint:         %s\n", cfg.Endpoint)
	fmt.Fprintf(w, "  bootstrap url:    %s\n", cfg.BootstrapURL())
	fmt.Fprintf(w, "  events url:       %s\n", cfg.EventsURL())
	fmt.Fprintf(w, "  harvest interval: %s\n", cfg.HarvestPeriod())
	fmt.Fprintf(w, "  retry delay:      %s\n", cfg.RetryDelay())
	fmt.Fprintf(w, "  cancel timeout:   %s\n", cfg.CancelAfter())
	fmt.Fprintf(w, "  request timeout:  %s\n", cfg.RequestTimeoutDuration())
	fmt.Fprintf(w, "  collector addr:   %s\n", cfg.CollectorAddr)
	fmt.Fprintf(w, "  database:         %s\n", cfg.Database)
	fmt.Fprintf(w, "  entitled:         %t\n", cfg.Entitled)
}
