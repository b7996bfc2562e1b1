// Package agent wires the clock synchronizer, the coordinator loop and the
// harvest cycle into one runnable unit. It is the composition root: every
// component is constructed here and handed its collaborators explicitly.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/softnav/internal/config"
	"github.com/roach88/softnav/internal/coordinator"
	"github.com/roach88/softnav/internal/harvest"
	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/sched"
	"github.com/roach88/softnav/internal/timekeeper"
)

// Agent runs the soft navigation feature for one page.
//
// Lifecycle: New, Bootstrap, Run (blocks), then Shutdown from another
// goroutine before cancelling Run's context.
type Agent struct {
	cfg       config.Config
	origin    time.Time
	keeper    *timekeeper.TimeKeeper
	recorder  *timekeeper.Recorder
	bootstrap *http.Client
	loop      *coordinator.Loop
	harvester *harvest.Scheduler
	logger    *slog.Logger
	entitled  atomic.Bool
	stopOnce  sync.Once
}

type options struct {
	origin    time.Time
	transport http.RoundTripper
	logger    *slog.Logger
	coord     []coordinator.Option
}

// Option configures an Agent.
type Option func(*options)

// WithOrigin sets the page origin time. Default: time.Now() at New.
func WithOrigin(t time.Time) Option {
	return func(o *options) {
		o.origin = t
	}
}

// WithTransport sets the HTTP transport used for bootstrap and harvest.
// Default: an HTTP/2 enabled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCoordinatorOptions passes options through to the coordinator, such
// as collaborators and the id generator.
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(o *options) {
		o.coord = append(o.coord, opts...)
	}
}

// New builds an Agent from cfg.
func New(cfg config.Config, opts ...Option) (*Agent, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.origin.IsZero() {
		o.origin = time.Now()
	}

	client, err := harvest.NewHTTPClient(cfg.RequestTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}
	if o.transport != nil {
		client.Transport = o.transport
	}

	wall := sched.NewWall(o.origin)
	keeper, err := timekeeper.New(o.origin.UnixMilli(), timekeeper.WithMonotonic(wall))
	if err != nil {
		return nil, fmt.Errorf("create timekeeper: %w", err)
	}

	a := &Agent{
		cfg:    cfg,
		origin: o.origin,
		keeper: keeper,
		logger: o.logger,
	}

	a.recorder = timekeeper.NewRecorder(o.origin, client.Transport)
	a.bootstrap = &http.Client{Transport: a.recorder, Timeout: client.Timeout}

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(o.logger),
		coordinator.WithCancelTimeout(cfg.CancelAfter()),
		coordinator.WithServerTime(a.serverTime),
	}
	a.loop = coordinator.NewLoop(wall, append(coordOpts, o.coord...)...)

	sender := harvest.NewHTTPSender(client, cfg.EventsURL(), cfg.LicenseKey, interaction.Version)
	a.harvester = harvest.NewScheduler(a.loop.HarvestSource(), sender,
		harvest.WithInterval(cfg.HarvestPeriod()),
		harvest.WithRetryDelay(cfg.RetryDelay()),
		harvest.WithLogger(o.logger),
	)
	return a, nil
}

// TimeKeeper returns the clock synchronizer.
func (a *Agent) TimeKeeper() *timekeeper.TimeKeeper {
	return a.keeper
}

// Loop returns the coordinator loop.
func (a *Agent) Loop() *coordinator.Loop {
	return a.loop
}

// Now returns milliseconds since the page origin.
func (a *Agent) Now() int64 {
	return a.keeper.Now()
}

// Enqueue submits an observer or instrumentation event.
func (a *Agent) Enqueue(ev coordinator.Event) bool {
	return a.loop.Enqueue(ev)
}

// Entitled reports whether the bootstrap response enabled harvesting.
func (a *Agent) Entitled() bool {
	return a.entitled.Load()
}

type bootstrapFlags struct {
	SPA int `json:"spa"`
}

// Bootstrap performs the bootstrap request, synchronizes the clock from its
// Date header and timing, and applies the entitlement flag.
//
// A clock error is returned but leaves the agent usable: records are sent
// without server timestamps. A transport error blocks harvesting.
func (a *Agent) Bootstrap(ctx context.Context) error {
	url := a.cfg.BootstrapURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build bootstrap request: %w", err)
	}

	resp, err := a.bootstrap.Do(req)
	if err != nil {
		a.setEntitlement(false)
		return fmt.Errorf("bootstrap request: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	// Closing the body completes the timing entry.
	resp.Body.Close()
	if readErr != nil {
		a.setEntitlement(false)
		return fmt.Errorf("read bootstrap response: %w", readErr)
	}

	var flags bootstrapFlags
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &flags) != nil {
		a.logger.Warn("bootstrap flags unavailable", "status", resp.StatusCode)
	}
	a.setEntitlement(flags.SPA == 1)

	if err := a.keeper.ProcessResponse(resp, url, a.recorder); err != nil {
		a.logger.Warn("clock synchronization failed, using local time", "error", err)
		return fmt.Errorf("synchronize clock: %w", err)
	}

	corrected, _ := a.keeper.CorrectedOriginTime()
	diff, _ := a.keeper.LocalTimeDiff()
	a.logger.Info("clock synchronized", "corrected_origin", corrected, "local_time_diff", diff)
	return nil
}

func (a *Agent) setEntitlement(on bool) {
	a.entitled.Store(on)
	a.loop.Post(func(c *coordinator.Coordinator) { c.SetEntitlement(on) })
}

// Run runs the coordinator loop and, when entitled, the harvest cycle. It
// returns when ctx is cancelled or after Shutdown.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.loop.Run(runCtx)
		cancel()
	}()

	if a.entitled.Load() {
		_ = a.harvester.Run(runCtx)
	} else {
		a.logger.Info("harvest disabled", "reason", "not entitled")
		<-runCtx.Done()
	}

	err := <-loopErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown sends a final, non-retryable harvest and stops the loop. Must be
// called while Run is active so the harvest can reach the coordinator.
func (a *Agent) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.entitled.Load() {
			if res, sent := a.harvester.Flush(ctx); sent && !res.Sent {
				err = fmt.Errorf("final harvest not sent")
			}
		}
		a.loop.Stop()
	})
	return err
}

// serverTime converts origin-relative time for record timestamps.
func (a *Agent) serverTime(relative int64) (int64, bool) {
	ts, err := a.keeper.ConvertRelative(relative)
	return ts, err == nil
}
