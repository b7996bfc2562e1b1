package interaction

import (
	"time"

	"github.com/roach88/softnav/internal/sched"
)

// Status is the lifecycle state of an Interaction.
type Status int

const (
	// StatusOpen is an interaction still collecting signals.
	StatusOpen Status = iota + 1
	// StatusFinished is a completed interaction awaiting harvest.
	StatusFinished
	// StatusCancelled is a discarded interaction. Never harvested.
	StatusCancelled
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusFinished:
		return "FIN"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Trigger names with special meaning.
const (
	TriggerInitialPageLoad = "initialPageLoad"
	TriggerAPI             = "api"
)

// Categories reported in the encoded record.
const (
	CategoryInitialPageLoad = "Initial page load"
	CategoryRouteChange     = "Route change"
	CategoryCustom          = "Custom"
)

// DefaultCancelTimeout is how long an interaction may stay open before it
// is closed automatically.
const DefaultCancelTimeout = 30 * time.Second

// Interaction is one tracked navigation episode.
//
// Not safe for concurrent use: it is owned by the coordinator's single
// writer. Exported fields are plain data mutated through the API surface;
// lifecycle state is only reachable through methods.
type Interaction struct {
	ID      string
	Trigger string
	Start   int64
	End     int64

	OldRoute string
	NewRoute string
	OldURL   string
	NewURL   string

	CustomName       string
	CustomAttributes map[string]any
	CustomData       map[string]any

	ForceSave        bool
	ForceIgnore      bool
	CreatedByAPI     bool
	KeepOpenUntilEnd bool

	status   Status
	initial  bool
	children []*AjaxNode

	seenHistory bool
	seenDom     bool
	historyAt   int64
	domAt       int64

	onFinished  []func()
	onCancelled []func()
	onDone      []func(map[string]any)
	endKeys     map[string]bool

	timer sched.Timer
}

// New opens an interaction at start.
func New(id, trigger string, start int64, initialRoute, url string) *Interaction {
	return &Interaction{
		ID:               id,
		Trigger:          trigger,
		Start:            start,
		OldRoute:         initialRoute,
		OldURL:           url,
		CustomAttributes: make(map[string]any),
		CustomData:       make(map[string]any),
		status:           StatusOpen,
		endKeys:          make(map[string]bool),
	}
}

// NewInitialPageLoad creates the initial page load episode. It starts at
// the page origin and can only be finished.
func NewInitialPageLoad(id, url string) *Interaction {
	ixn := New(id, TriggerInitialPageLoad, 0, "", url)
	ixn.initial = true
	return ixn
}

// Status returns the current lifecycle state.
func (ixn *Interaction) Status() Status {
	return ixn.status
}

// IsInitialPageLoad reports whether this is the initial page load episode.
func (ixn *Interaction) IsInitialPageLoad() bool {
	return ixn.initial
}

// Children returns the attached child nodes in attachment order.
func (ixn *Interaction) Children() []*AjaxNode {
	out := make([]*AjaxNode, len(ixn.children))
	copy(out, ixn.children)
	return out
}

// ArmCancellation schedules the idle timeout. onTimeout runs only if the
// interaction is still open when the timer fires.
//
// API-created interactions that wait for an explicit end are exempt.
func (ixn *Interaction) ArmCancellation(s sched.Scheduler, d time.Duration, onTimeout func()) {
	if ixn.initial || ixn.status != StatusOpen {
		return
	}
	if ixn.CreatedByAPI && ixn.KeepOpenUntilEnd {
		return
	}
	ixn.releaseTimer()
	ixn.timer = s.AfterFunc(d, func() {
		if ixn.status == StatusOpen {
			onTimeout()
		}
	})
}

// Armed reports whether a cancellation timer is pending.
func (ixn *Interaction) Armed() bool {
	return ixn.timer != nil
}

// WaitForEnd keeps the interaction open until an explicit end. For
// API-created interactions the idle timeout is released.
func (ixn *Interaction) WaitForEnd() {
	ixn.KeepOpenUntilEnd = true
	if ixn.CreatedByAPI {
		ixn.releaseTimer()
	}
}

// UpdateHistory records a URL change. Returns false when the notification
// was ignored (terminal interaction or timestamp before start).
func (ixn *Interaction) UpdateHistory(ts int64, url string) bool {
	if ixn.status != StatusOpen || ts < ixn.Start {
		return false
	}
	ixn.seenHistory = true
	ixn.historyAt = ts
	ixn.NewURL = url
	return true
}

// UpdateDom records a DOM mutation. Returns false when ignored.
func (ixn *Interaction) UpdateDom(ts int64) bool {
	if ixn.status != StatusOpen || ts < ixn.Start {
		return false
	}
	ixn.seenDom = true
	ixn.domAt = ts
	return true
}

// SeenHistoryAndDom reports whether both a URL change and a DOM mutation
// were observed since open, in either order.
func (ixn *Interaction) SeenHistoryAndDom() bool {
	return ixn.seenHistory && ixn.seenDom
}

// Done closes the interaction, deciding between FIN and CANCELLED.
//
// An explicit end time, both navigation signals, or ForceSave finish it;
// ForceIgnore, or none of the above, cancels it. The initial page load
// always finishes. Returns true if the interaction is (now) finished.
// Calling Done on a terminal interaction changes nothing.
func (ixn *Interaction) Done(end *int64) bool {
	if ixn.status != StatusOpen {
		return ixn.status == StatusFinished
	}

	switch {
	case ixn.initial:
		ixn.finish(endOr(end, ixn.lastSignal()))
	case ixn.ForceIgnore:
		ixn.cancel()
	case end != nil, ixn.SeenHistoryAndDom(), ixn.ForceSave:
		ixn.finish(endOr(end, ixn.lastSignal()))
	default:
		ixn.cancel()
	}
	return ixn.status == StatusFinished
}

// Finish forces FIN at end. No-op on terminal interactions.
func (ixn *Interaction) Finish(end int64) {
	if ixn.status != StatusOpen {
		return
	}
	ixn.finish(end)
}

// Cancel forces CANCELLED. No-op on terminal interactions and on the
// initial page load.
func (ixn *Interaction) Cancel() {
	if ixn.status != StatusOpen || ixn.initial {
		return
	}
	ixn.cancel()
}

// IsActiveDuring reports whether ts falls within this interaction's span.
// Cancelled interactions are never active.
func (ixn *Interaction) IsActiveDuring(ts int64) bool {
	switch ixn.status {
	case StatusOpen:
		return ts >= ixn.Start
	case StatusFinished:
		return ts >= ixn.Start && ts <= ixn.End
	default:
		return false
	}
}

// AddChild attaches a child node. Silently ignored once cancelled.
func (ixn *Interaction) AddChild(node *AjaxNode) {
	if ixn.status == StatusCancelled {
		return
	}
	ixn.children = append(ixn.children, node)
}

// OnFinished subscribes fn to the FIN transition.
func (ixn *Interaction) OnFinished(fn func()) {
	switch ixn.status {
	case StatusOpen:
		ixn.onFinished = append(ixn.onFinished, fn)
	case StatusFinished:
		fn()
	}
}

// OnCancelled subscribes fn to the CANCELLED transition.
func (ixn *Interaction) OnCancelled(fn func()) {
	switch ixn.status {
	case StatusOpen:
		ixn.onCancelled = append(ixn.onCancelled, fn)
	case StatusCancelled:
		fn()
	}
}

// OnEnd subscribes a pair of terminal callbacks under key. A key is
// accepted once per interaction; later registrations return false and are
// dropped.
func (ixn *Interaction) OnEnd(key string, finished, cancelled func()) bool {
	if ixn.endKeys[key] {
		return false
	}
	ixn.endKeys[key] = true
	ixn.OnFinished(finished)
	ixn.OnCancelled(cancelled)
	return true
}

// AddOnDone registers a callback receiving CustomData when the interaction
// finishes. Ignored unless the interaction is open.
func (ixn *Interaction) AddOnDone(fn func(map[string]any)) {
	if ixn.status != StatusOpen {
		return
	}
	ixn.onDone = append(ixn.onDone, fn)
}

// Category classifies the interaction for reporting.
func (ixn *Interaction) Category() string {
	switch {
	case ixn.initial:
		return CategoryInitialPageLoad
	case ixn.NewRoute != "" && ixn.NewRoute != ixn.OldRoute:
		return CategoryRouteChange
	case ixn.NewURL != "" && ixn.NewURL != ixn.OldURL:
		return CategoryRouteChange
	default:
		return CategoryCustom
	}
}

func (ixn *Interaction) finish(end int64) {
	if end < ixn.Start {
		end = ixn.Start
	}
	ixn.End = end
	ixn.status = StatusFinished
	ixn.releaseTimer()

	done, finished := ixn.drain()
	for _, fn := range done {
		fn(ixn.CustomData)
	}
	for _, fn := range finished {
		fn()
	}
}

func (ixn *Interaction) cancel() {
	ixn.status = StatusCancelled
	ixn.releaseTimer()
	ixn.children = nil
	ixn.CustomAttributes = make(map[string]any)

	cancelled := ixn.onCancelled
	ixn.drain()
	for _, fn := range cancelled {
		fn()
	}
}

// drain detaches every subscriber list so that each fires at most once.
func (ixn *Interaction) drain() (done []func(map[string]any), finished []func()) {
	done, finished = ixn.onDone, ixn.onFinished
	ixn.onDone, ixn.onFinished, ixn.onCancelled = nil, nil, nil
	return done, finished
}

func (ixn *Interaction) releaseTimer() {
	if ixn.timer != nil {
		ixn.timer.Stop()
		ixn.timer = nil
	}
}

// lastSignal is the time of the latest navigation signal, or Start.
func (ixn *Interaction) lastSignal() int64 {
	last := ixn.Start
	if ixn.seenHistory && ixn.historyAt > last {
		last = ixn.historyAt
	}
	if ixn.seenDom && ixn.domAt > last {
		last = ixn.domAt
	}
	return last
}

func endOr(end *int64, fallback int64) int64 {
	if end != nil {
		return *end
	}
	return fallback
}
