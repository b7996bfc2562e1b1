package harvest

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the harvest period when none is configured.
const DefaultInterval = 10 * time.Second

// Scheduler drives periodic harvests.
//
// Run must be called from exactly one goroutine. RunOnce and Flush may be
// called directly (tests, shutdown); they may overlap Run only when the
// Source and Sender are safe for concurrent use.
type Scheduler struct {
	source       Source
	sender       Sender
	interval     time.Duration
	retryDelay   time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the harvest period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithRetryDelay sets the delay before the next attempt after a retry
// response. Defaults to the interval.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.retryDelay = d
	}
}

// WithInitialDelay sets the delay before the first harvest. Defaults to
// the interval.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.initialDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a Scheduler for source and sender.
func NewScheduler(source Source, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:       source,
		sender:       sender,
		interval:     DefaultInterval,
		retryDelay:   -1,
		initialDelay: -1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryDelay < 0 {
		s.retryDelay = s.interval
	}
	if s.initialDelay < 0 {
		s.initialDelay = s.interval
	}
	return s
}

// Run ticks until ctx is cancelled. Returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("harvest scheduler starting", "interval", s.interval, "retry_delay", s.retryDelay)

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("harvest scheduler stopping")
			return ctx.Err()
		case <-timer.C:
			next := s.interval
			if res, sent := s.RunOnce(ctx, Options{Retry: true}); sent && res.Retry {
				next = s.retryDelay
			}
			timer.Reset(next)
		}
	}
}

// RunOnce performs one harvest. Returns the send result and whether a
// payload was produced.
func (s *Scheduler) RunOnce(ctx context.Context, opts Options) (Result, bool) {
	payload, ok := s.source.HarvestStarted(opts)
	if !ok {
		return Result{}, false
	}

	res, err := s.sender.Send(ctx, payload)
	if err != nil {
		s.logger.Warn("harvest send failed", "error", err, "retry", opts.Retry)
	} else {
		s.logger.Debug("harvest sent",
			"status", res.StatusCode,
			"retry", res.Retry,
			"bytes", len(payload.Body),
		)
	}

	s.source.HarvestFinished(res)
	return res, true
}

// Flush performs a final, non-retryable harvest.
func (s *Scheduler) Flush(ctx context.Context) (Result, bool) {
	return s.RunOnce(ctx, Options{Retry: false})
}
