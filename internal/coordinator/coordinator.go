package coordinator

import (
	"log/slog"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/sched"
)

// DomObserver is the collaborator producing URL and DOM notifications.
type DomObserver interface {
	// Disconnect stops observation until the next interaction starts.
	Disconnect()
}

// AjaxSink receives AJAX events no interaction claims.
type AjaxSink interface {
	ReturnAjax(ev interaction.AjaxEvent)
}

// ErrorSink releases script errors buffered under an interaction id.
type ErrorSink interface {
	// SoftNavFlush releases errors for id. attrs is nil when the
	// interaction was cancelled.
	SoftNavFlush(id string, finished bool, attrs map[string]any)
}

// ErrorParams is the per-error record the error instrumentation passes in.
// OnJSError decorates it in place.
type ErrorParams struct {
	BrowserInteractionID string
	SoftNavFinished      bool
	SoftNavAttributes    map[string]any
}

// Target describes the element a UI event fired on.
type Target struct {
	Tag       string `yaml:"tag" json:"tag"`
	Title     string `yaml:"title" json:"title"`
	Value     string `yaml:"value" json:"value"`
	InnerText string `yaml:"text" json:"text"`
}

// actionText returns the label of an anchor, button or input.
func (t Target) actionText() string {
	switch strings.ToLower(t.Tag) {
	case "a", "button", "input":
	default:
		return ""
	}
	for _, s := range []string{t.Title, t.Value, t.InnerText} {
		if s != "" {
			return s
		}
	}
	return ""
}

// jsErrorFlushKey registers the error flush at most once per interaction.
const jsErrorFlushKey = "jserror"

// Coordinator is the soft-navigation aggregate.
type Coordinator struct {
	scheduler     sched.Scheduler
	ids           interaction.IDGenerator
	observer      DomObserver
	ajaxSink      AjaxSink
	errorSink     ErrorSink
	serverTime    func(int64) (int64, bool)
	cancelTimeout time.Duration
	logger        *slog.Logger

	inProgress       *interaction.Interaction
	initial          *interaction.Interaction
	pending          []*interaction.Interaction
	awaitingRetry    []*interaction.Interaction
	latestRouteByAPI string
	currentURL       string
	blocked          bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithScheduler sets the timer source. Defaults to a wall clock anchored at
// construction time.
func WithScheduler(s sched.Scheduler) Option {
	return func(c *Coordinator) {
		c.scheduler = s
	}
}

// WithIDGenerator sets the interaction id source. Defaults to UUIDs.
func WithIDGenerator(g interaction.IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithObserver sets the DOM/URL observer disconnected when an interaction
// completes or times out.
func WithObserver(o DomObserver) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithAjaxSink sets where unattributed AJAX events are returned.
func WithAjaxSink(s AjaxSink) Option {
	return func(c *Coordinator) {
		c.ajaxSink = s
	}
}

// WithErrorSink sets where buffered script errors are released.
func WithErrorSink(s ErrorSink) Option {
	return func(c *Coordinator) {
		c.errorSink = s
	}
}

// WithServerTime sets the origin-relative to server time conversion used
// for the record timestamp. It reports false while the clock is not
// synchronized.
func WithServerTime(fn func(relative int64) (int64, bool)) Option {
	return func(c *Coordinator) {
		c.serverTime = fn
	}
}

// WithCancelTimeout sets how long an interaction may stay open.
//
// Default: 30s (interaction.DefaultCancelTimeout).
func WithCancelTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.cancelTimeout = d
	}
}

// WithInitialURL sets the page URL at load.
func WithInitialURL(url string) Option {
	return func(c *Coordinator) {
		c.currentURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a Coordinator with an open initial page load episode.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		ids:           interaction.UUIDGenerator{},
		observer:      nopObserver{},
		ajaxSink:      nopAjaxSink{},
		errorSink:     nopErrorSink{},
		cancelTimeout: interaction.DefaultCancelTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = sched.NewWall(time.Now())
	}
	c.initial = interaction.NewInitialPageLoad(c.ids.Generate(), c.currentURL)
	return c
}

// InProgress returns the open interaction, or nil.
func (c *Coordinator) InProgress() *interaction.Interaction {
	return c.inProgress
}

// InitialPageLoad returns the initial page load episode while it is open.
func (c *Coordinator) InitialPageLoad() *interaction.Interaction {
	return c.initial
}

// Pending returns the interactions queued for the next harvest, oldest first.
func (c *Coordinator) Pending() []*interaction.Interaction {
	out := make([]*interaction.Interaction, len(c.pending))
	copy(out, c.pending)
	return out
}

// AwaitingRetry returns the interactions of the in-flight harvest.
func (c *Coordinator) AwaitingRetry() []*interaction.Interaction {
	out := make([]*interaction.Interaction, len(c.awaitingRetry))
	copy(out, c.awaitingRetry)
	return out
}

// Blocked reports whether harvesting was disabled by entitlement.
func (c *Coordinator) Blocked() bool {
	return c.blocked
}

// SetEntitlement applies the server's feature flag. A false flag blocks
// harvesting for the rest of the page life.
func (c *Coordinator) SetEntitlement(spaOn bool) {
	if !spaOn {
		c.blocked = true
		c.logger.Info("soft navigation harvest blocked", "reason", "not entitled")
	}
}

// OnUIEvent handles a user interaction that may start a soft navigation.
//
// An open API interaction is never disrupted. An open UI interaction is
// closed first: it finishes only if it already qualifies, otherwise it is
// cancelled and superseded.
func (c *Coordinator) OnUIEvent(eventType string, ts int64, target Target) {
	if ip := c.inProgress; ip != nil {
		if ip.CreatedByAPI {
			c.logger.Debug("ui event ignored", "type", eventType, "reason", "api interaction open", "id", ip.ID)
			return
		}
		ip.Done(nil)
	}

	ixn := c.open(eventType, ts)
	if eventType == "click" {
		if text := target.actionText(); text != "" {
			ixn.CustomAttributes["actionText"] = text
		}
	}
}

// OnURLChange records a history change.
func (c *Coordinator) OnURLChange(ts int64, url string) {
	c.currentURL = url
	if c.inProgress == nil {
		return
	}
	if c.inProgress.UpdateHistory(ts, url) {
		c.completeIfSeenBoth()
	}
}

// OnDomChange records a DOM mutation.
func (c *Coordinator) OnDomChange(ts int64) {
	if c.inProgress == nil {
		return
	}
	if c.inProgress.UpdateDom(ts) {
		c.completeIfSeenBoth()
	}
}

func (c *Coordinator) completeIfSeenBoth() {
	ip := c.inProgress
	if !ip.SeenHistoryAndDom() || ip.KeepOpenUntilEnd {
		return
	}
	c.observer.Disconnect()
	ip.Done(nil)
}

// OnPageLoad finishes the initial page load episode at loadEventEnd. Later
// calls are ignored.
func (c *Coordinator) OnPageLoad(loadEventEnd float64) {
	if c.initial == nil {
		return
	}
	end := int64(math.Round(loadEventEnd))
	ipl := c.initial
	ipl.ForceSave = true
	ipl.Done(&end)
	c.pending = append(c.pending, ipl)
	c.initial = nil
	c.logger.Info("initial page load finished", "id", ipl.ID, "end", end)
}

// InteractionFor resolves the interaction owning ts, or nil. Cancelled
// interactions are never returned.
func (c *Coordinator) InteractionFor(ts int64) *interaction.Interaction {
	if c.inProgress != nil && c.inProgress.IsActiveDuring(ts) {
		return c.inProgress
	}
	// The initial page load is always queued first, so scanning from the
	// back lets a route change win over an overlapping page load.
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i].IsActiveDuring(ts) {
			return c.pending[i]
		}
	}
	if c.initial != nil && c.initial.IsActiveDuring(ts) {
		return c.initial
	}
	return nil
}

// OnAjax attaches an AJAX event to its owning interaction once that
// interaction finishes, or hands it back when there is no owner or the
// owner is cancelled.
func (c *Coordinator) OnAjax(ev interaction.AjaxEvent) {
	owner := c.InteractionFor(ev.StartTime)
	if owner == nil {
		c.ajaxSink.ReturnAjax(ev)
		return
	}
	if owner.Status() == interaction.StatusFinished {
		owner.AddChild(interaction.NewAjaxNode(ev))
		return
	}
	owner.OnFinished(func() { owner.AddChild(interaction.NewAjaxNode(ev)) })
	owner.OnCancelled(func() { c.ajaxSink.ReturnAjax(ev) })
}

// OnJSError decorates params with the owning interaction. Errors inside an
// open interaction stay buffered until it ends; one flush per interaction
// releases all of them.
func (c *Coordinator) OnJSError(params *ErrorParams, ts int64) {
	if params == nil {
		return
	}
	owner := c.InteractionFor(ts)
	if owner == nil {
		return
	}

	params.BrowserInteractionID = owner.ID
	if owner.Status() == interaction.StatusFinished {
		params.SoftNavFinished = true
		params.SoftNavAttributes = maps.Clone(owner.CustomAttributes)
		return
	}

	owner.OnEnd(jsErrorFlushKey,
		func() { c.errorSink.SoftNavFlush(owner.ID, true, maps.Clone(owner.CustomAttributes)) },
		func() { c.errorSink.SoftNavFlush(owner.ID, false, nil) },
	)
}

// open starts a new in-progress interaction and arms its idle timeout.
func (c *Coordinator) open(trigger string, ts int64) *interaction.Interaction {
	ixn := interaction.New(c.ids.Generate(), trigger, ts, c.latestRouteByAPI, c.currentURL)
	c.inProgress = ixn

	ixn.OnFinished(func() {
		c.pending = append(c.pending, ixn)
		if c.inProgress == ixn {
			c.inProgress = nil
		}
		c.logger.Info("interaction finished",
			"id", ixn.ID,
			"trigger", ixn.Trigger,
			"start", ixn.Start,
			"end", ixn.End,
			"category", ixn.Category(),
		)
	})
	ixn.OnCancelled(func() {
		if c.inProgress == ixn {
			c.inProgress = nil
		}
		c.logger.Debug("interaction cancelled", "id", ixn.ID, "trigger", ixn.Trigger)
	})

	ixn.ArmCancellation(c.scheduler, c.cancelTimeout, func() {
		c.observer.Disconnect()
		ixn.Done(nil)
	})

	c.logger.Debug("interaction opened", "id", ixn.ID, "trigger", trigger, "start", ts)
	return ixn
}

type nopObserver struct{}

func (nopObserver) Disconnect() {}

type nopAjaxSink struct{}

func (nopAjaxSink) ReturnAjax(interaction.AjaxEvent) {}

type nopErrorSink struct{}

func (nopErrorSink) SoftNavFlush(string, bool, map[string]any) {}
