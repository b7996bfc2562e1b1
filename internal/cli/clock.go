package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/softnav/internal/agent"
	"github.com/roach88/softnav/internal/config"
)

// ClockOptions holds flags for the clock command.
type ClockOptions struct {
	*RootOptions
	ConfigPath string
}

// ClockResult reports the outcome of one bootstrap exchange.
type ClockResult struct {
	BootstrapURL        string `json:"bootstrap_url"`
	Entitled            bool   `json:"entitled"`
	Synchronized        bool   `json:"synchronized"`
	OriginTime          int64  `json:"origin_time"`
	CorrectedOriginTime int64  `json:"corrected_origin_time,omitempty"`
	LocalTimeDiff       int64  `json:"local_time_diff,omitempty"`
}

// NewClockCommand creates the clock command.
func NewClockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clock",
		Short: "Synchronize against a collector and report the clock offset",
		Long: `Perform the agent's bootstrap request and report how local time maps onto
server time: the corrected origin and the local time difference that
every harvested timestamp is shifted by.

Exit codes:
  0 - Clock synchronized
  1 - Bootstrap answered but the clock could not be synchronized
  2 - Command error (invalid config, collector unreachable)

Examples:
  softnav clock --config ./softnav.yaml
  softnav clock --config ./softnav.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClock(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runClock(opts *ClockOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	a, err := agent.New(cfg, agent.WithLogger(f.Logger()))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeClock, "failed to create agent", err)
	}
	defer a.Loop().Stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeoutDuration())
	defer cancel()
	bootErr := a.Bootstrap(ctx)

	tk := a.TimeKeeper()
	res := ClockResult{
		BootstrapURL: cfg.BootstrapURL(),
		Entitled:     a.Entitled(),
		Synchronized: tk.Synchronized(),
		OriginTime:   tk.OriginTime(),
	}
	if res.Synchronized {
		res.CorrectedOriginTime, _ = tk.CorrectedOriginTime()
		res.LocalTimeDiff, _ = tk.LocalTimeDiff()
	}

	if bootErr != nil && !res.Synchronized {
		code := ExitFailure
		if !res.Entitled {
			// No entitlement after an error means the request itself failed.
			code = ExitCommandError
		}
		return f.Fail(code, ErrCodeClock, "clock not synchronized", bootErr)
	}

	if f.JSON() {
		return f.Success(res)
	}
	printClock(cmd.OutOrStdout(), res)
	return nil
}

func printClock(w io.Writer, r ClockResult) {
	fmt.Fprintf(w, "✓ clock synchronized against %s\n", r.BootstrapURL)
	fmt.Fprintf(w, "  origin time:           %s (%d)\n", formatMillis(r.OriginTime), r.OriginTime)
	fmt.Fprintf(w, "  corrected origin time: %s (%d)\n", formatMillis(r.CorrectedOriginTime), r.CorrectedOriginTime)
	fmt.Fprintf(w, "  local time diff:       %dms\n", r.LocalTimeDiff)
	fmt.Fprintf(w, "  entitled:              %t\n", r.Entitled)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
