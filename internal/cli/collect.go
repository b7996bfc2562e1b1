package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/softnav/internal/collector"
	"github.com/roach88/softnav/internal/config"
	"github.com/roach88/softnav/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the collector.
const shutdownTimeout = 5 * time.Second

// CollectOptions holds flags for the collect command.
type CollectOptions struct {
	*RootOptions
	ConfigPath string
	Addr       string
	Database   string
	FailFirst  int
	FailStatus int
}

// NewCollectCommand creates the collect command.
func NewCollectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a local collector",
		Long: `Serve the bootstrap and events routes and store every harvested batch
in a SQLite database.

The bootstrap route answers with a Date header the agent synchronizes its
clock against, and with the soft navigation entitlement flag.

Examples:
  softnav collect --db ./softnav.db
  softnav collect --config ./softnav.yaml --addr 127.0.0.1:9000
  softnav collect --db /tmp/t.db --fail-first 2 --fail-status 503 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "configuration file (YAML or CUE)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().IntVar(&opts.FailFirst, "fail-first", 0, "reject the first N harvests")
	cmd.Flags().IntVar(&opts.FailStatus, "fail-status", http.StatusServiceUnavailable, "status used by --fail-first")

	return cmd
}

func runCollect(opts *CollectOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := f.Logger()

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Addr != "" {
		cfg.CollectorAddr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	srv := collector.New(st,
		collector.WithEntitlement(cfg.Entitled),
		collector.WithPaths(cfg.BootstrapPath, cfg.EventsPath),
		collector.WithLogger(logger),
	)
	if opts.FailFirst > 0 {
		srv.FailNext(opts.FailFirst, opts.FailStatus)
	}

	ln, err := net.Listen("tcp", cfg.CollectorAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Collector listening on http://%s\n", ln.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "  bootstrap: GET %s\n", cfg.BootstrapPath)
	fmt.Fprintf(cmd.OutOrStdout(), "  events:    POST %s\n", cfg.EventsPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	select {
	case err := <-serveErr:
		return WrapExitError(ExitFailure, "collector error", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "collector shutdown", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "collector error", err)
	}

	logger.Info("collector stopped gracefully")
	return nil
}
