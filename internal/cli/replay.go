package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/softnav/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Runs int
}

// ReplayResult holds the outcome of replaying one scenario.
type ReplayResult struct {
	Scenario      string               `json:"scenario"`
	Runs          int                  `json:"runs"`
	Deterministic bool                 `json:"deterministic"`
	Pass          bool                 `json:"pass"`
	Trace         []harness.TraceEvent `json:"trace"`
	Payloads      []string             `json:"payloads"`
	Interactions  []harness.Summary    `json:"interactions"`
	Errors        []string             `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay one scenario and verify determinism",
		Long: `Replay a scenario several times, verify every run produces the same
trace and payload bytes, and print the trace, the interactions and the
harvested payloads.

Exit codes:
  0 - Deterministic and all assertions passed
  1 - Runs differed or an assertion failed
  2 - Command error (scenario not found or invalid)

Examples:
  softnav replay ./testdata/scenarios/route_change.yaml
  softnav replay ./testdata/scenarios/route_change.yaml --runs 5 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 2, "number of runs to compare")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if opts.Runs < 1 {
		return NewExitError(ExitCommandError, "--runs must be at least 1")
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeScenario, "failed to load scenario", err)
	}

	var first *harness.Result
	var firstSnap []byte
	deterministic := true
	for i := 0; i < opts.Runs; i++ {
		result, err := harness.Run(scenario, harness.WithLogger(f.Logger()))
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeScenario, "failed to replay scenario", err)
		}
		snap, err := harness.MarshalSnapshot(scenario.Name, result)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to marshal snapshot", err)
		}
		if first == nil {
			first, firstSnap = result, snap
			continue
		}
		if !bytes.Equal(firstSnap, snap) {
			deterministic = false
			f.VerboseLog("run %d differs from run 1", i+1)
		}
	}

	out := ReplayResult{
		Scenario:      scenario.Name,
		Runs:          opts.Runs,
		Deterministic: deterministic,
		Pass:          first.Pass,
		Trace:         first.Trace,
		Payloads:      first.Payloads,
		Interactions:  first.Interactions,
		Errors:        first.Errors,
	}

	if f.JSON() {
		if err := f.Success(out); err != nil {
			return err
		}
	} else {
		printReplay(cmd.OutOrStdout(), out)
	}

	switch {
	case !deterministic:
		return NewExitError(ExitFailure, "replay is not deterministic")
	case !out.Pass:
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(out.Errors)))
	}
	return nil
}

func printReplay(w io.Writer, r ReplayResult) {
	fmt.Fprintf(w, "Scenario: %s\n\n", r.Scenario)

	fmt.Fprintln(w, "Trace:")
	for _, ev := range r.Trace {
		fmt.Fprintf(w, "  [%d] t=%d %s", ev.Seq, ev.At, ev.Event)
		if ev.ID != "" {
			fmt.Fprintf(w, " %s", ev.ID)
		}
		if ev.Detail != "" {
			fmt.Fprintf(w, " (%s)", ev.Detail)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nInteractions:")
	for _, s := range r.Interactions {
		fmt.Fprintf(w, "  %s %-9s %-8s %d-%d %s\n", s.ID, s.Status, s.Trigger, s.Start, s.End, s.Category)
	}

	fmt.Fprintln(w, "\nPayloads:")
	if len(r.Payloads) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range r.Payloads {
		fmt.Fprintf(w, "  %s\n", p)
	}

	fmt.Fprintln(w)
	if r.Deterministic {
		fmt.Fprintf(w, "✓ %d run(s) identical\n", r.Runs)
	} else {
		fmt.Fprintln(w, "✗ runs differ")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s\n", e)
	}
}
