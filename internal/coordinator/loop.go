package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/softnav/internal/harvest"
	"github.com/roach88/softnav/internal/sched"
)

// ErrLoopStopped is returned when work is submitted to a stopped Loop.
var ErrLoopStopped = errors.New("coordinator loop stopped")

// Loop is the single-writer event loop owning a Coordinator.
//
// Thread-safety model:
//   - Post, Call, Enqueue, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Call must not be used from inside a job; it would wait on itself
//
// On dispatch failure the error is logged and processing continues.
type Loop struct {
	coord  *Coordinator
	queue  *jobQueue
	base   sched.Scheduler
	logger *slog.Logger
}

// NewLoop creates a Loop and its Coordinator. Timers are taken from base and
// fire on the loop goroutine; a WithScheduler option is overridden. A nil
// base uses the wall clock.
func NewLoop(base sched.Scheduler, opts ...Option) *Loop {
	if base == nil {
		base = sched.NewWall(time.Now())
	}
	l := &Loop{
		queue: newJobQueue(),
		base:  base,
	}
	opts = append(opts, WithScheduler(loopScheduler{l}))
	l.coord = New(opts...)
	l.logger = l.coord.logger
	return l
}

// Scheduler returns a scheduler whose timer callbacks run on the loop.
func (l *Loop) Scheduler() sched.Scheduler {
	return loopScheduler{l}
}

// Enqueue submits an inbound notification. Returns false once stopped.
func (l *Loop) Enqueue(ev Event) bool {
	return l.queue.Enqueue(job{event: ev})
}

// Post submits fn to run on the loop. Returns false once stopped.
func (l *Loop) Post(fn func(*Coordinator)) bool {
	return l.queue.Enqueue(job{fn: fn})
}

// Call runs fn on the loop and waits for it to complete.
func (l *Loop) Call(ctx context.Context, fn func(*Coordinator)) error {
	done := make(chan struct{})
	if !l.queue.Enqueue(job{fn: fn, done: done}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinator returns the owned coordinator. Only touch it from jobs.
func (l *Loop) Coordinator() *Coordinator {
	return l.coord
}

// Run drains the queue until ctx is cancelled or Stop is called. Jobs
// accepted before either still run.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("coordinator loop starting")

	for {
		if j, ok := l.queue.TryDequeue(); ok {
			l.process(j)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("coordinator loop stopping: context cancelled")
			l.queue.Close()
			// Run what was accepted before the close so no Call waits forever.
			for j, ok := l.queue.TryDequeue(); ok; j, ok = l.queue.TryDequeue() {
				l.process(j)
			}
			return ctx.Err()
		case <-l.queue.Wait():
			if l.queue.Drained() {
				l.logger.Info("coordinator loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after draining it.
func (l *Loop) Stop() {
	l.queue.Close()
}

func (l *Loop) process(j job) {
	if j.done != nil {
		defer close(j.done)
	}
	if j.fn != nil {
		j.fn(l.coord)
		return
	}
	if err := l.coord.Dispatch(j.event); err != nil {
		l.logger.Warn("event dispatch failed",
			"type", j.event.Type.String(),
			"time", j.event.Time,
			"error", err,
		)
	}
}

// HarvestSource adapts the loop to harvest.Source. Both callbacks run on
// the loop goroutine.
func (l *Loop) HarvestSource() harvest.Source {
	return loopSource{l}
}

type loopSource struct{ l *Loop }

func (s loopSource) HarvestStarted(opts harvest.Options) (harvest.Payload, bool) {
	var (
		payload harvest.Payload
		ok      bool
	)
	if err := s.l.Call(context.Background(), func(c *Coordinator) {
		payload, ok = c.HarvestStarted(opts)
	}); err != nil {
		return harvest.Payload{}, false
	}
	return payload, ok
}

func (s loopSource) HarvestFinished(res harvest.Result) {
	_ = s.l.Call(context.Background(), func(c *Coordinator) {
		c.HarvestFinished(res)
	})
}

// loopScheduler routes timer callbacks through the queue so that a fire
// never overlaps a handler.
type loopScheduler struct{ l *Loop }

func (s loopScheduler) AfterFunc(d time.Duration, f func()) sched.Timer {
	return s.l.base.AfterFunc(d, func() {
		s.l.Post(func(*Coordinator) { f() })
	})
}

func (s loopScheduler) Now() int64 {
	return s.l.base.Now()
}
