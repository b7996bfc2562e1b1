// Package sched provides the cancellable timer abstraction used by the
// soft navigation engine.
//
// Every delayed action in the engine (the interaction cancellation timeout,
// deferred API callback delivery, harvest ticks) goes through a Scheduler so
// that tests and the scenario harness can drive time explicitly with Manual,
// while production code uses Wall.
//
// Time is expressed in integer milliseconds relative to the scheduler's
// origin, matching the agent's page-origin relative timestamps.
package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable timeout token.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Scheduler schedules callbacks and reports elapsed time since origin.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() int64
}

// Wall is a Scheduler backed by the runtime timers.
//
// Callbacks run on their own goroutine (time.AfterFunc semantics); callers
// that need single-writer delivery wrap Wall (see coordinator.Loop).
type Wall struct {
	origin time.Time
}

// NewWall creates a wall-clock scheduler whose Now() counts from origin.
func NewWall(origin time.Time) *Wall {
	return &Wall{origin: origin}
}

// AfterFunc implements Scheduler.
func (w *Wall) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Now returns whole milliseconds elapsed since origin (monotonic).
func (w *Wall) Now() int64 {
	return time.Since(w.origin).Milliseconds()
}

// Manual is a deterministic Scheduler for tests and scenario replay.
//
// Time only moves when Advance or AdvanceTo is called. Due timers fire on
// the calling goroutine in (due time, registration order) order; timers
// registered by a firing callback are eligible within the same advance.
type Manual struct {
	mu     sync.Mutex
	now    int64
	seq    int64
	timers []*manualTimer
}

type manualTimer struct {
	m    *Manual
	at   int64
	seq  int64
	f    func()
	done bool
}

// NewManual creates a manual scheduler starting at time 0.
func NewManual() *Manual {
	return &Manual{}
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{m: m, at: m.now + d.Milliseconds(), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Now implements Scheduler.
func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves time forward by d, firing every timer that becomes due.
func (m *Manual) Advance(d time.Duration) {
	m.AdvanceTo(m.Now() + d.Milliseconds())
}

// AdvanceTo moves time forward to ts (ms). Moving backwards only flushes
// timers that are already due.
func (m *Manual) AdvanceTo(ts int64) {
	for {
		t := m.popDue(ts)
		if t == nil {
			break
		}
		t.f()
	}

	m.mu.Lock()
	if ts > m.now {
		m.now = ts
	}
	m.mu.Unlock()
}

// Flush fires timers that are due at the current time (zero-delay work).
func (m *Manual) Flush() {
	m.AdvanceTo(m.Now())
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) popDue(ts int64) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at != m.timers[j].at {
			return m.timers[i].at < m.timers[j].at
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	next := m.timers[0]
	if next.at > ts && next.at > m.now {
		return nil
	}
	m.timers[0] = nil
	m.timers = m.timers[1:]
	next.done = true
	if next.at > m.now {
		m.now = next.at
	}
	return next
}

// Stop implements Timer.
func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range t.m.timers {
		if other == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			break
		}
	}
	return true
}
