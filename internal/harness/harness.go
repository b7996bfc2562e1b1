package harness

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/softnav/internal/coordinator"
	"github.com/roach88/softnav/internal/harvest"
	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/sched"
	"github.com/roach88/softnav/internal/testutil"
	"github.com/roach88/softnav/internal/timekeeper"
)

// Harness replays one scenario. It doubles as the coordinator's DOM
// observer, AJAX sink and error sink so every side effect lands in the trace.
type Harness struct {
	clock   *sched.Manual
	ids     *testutil.SequenceGenerator
	keeper  *timekeeper.TimeKeeper
	coord   *coordinator.Coordinator
	handle  *coordinator.Handle
	logger  *slog.Logger
	result  *Result
	tracked []*interaction.Interaction
	seen    map[*interaction.Interaction]bool
}

// RunOption configures a scenario run.
type RunOption func(*Harness)

// WithLogger routes coordinator logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Synchronize the clock from the scenario's bootstrap, if any
// 2. Create a coordinator on a manual clock with deterministic ids
// 3. Replay every step, advancing the clock first
// 4. Flush zero-delay callbacks
// 5. Evaluate assertions against the trace and payloads
//
// A non-nil error means the scenario could not be replayed; assertion
// failures are reported through Result.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	h := &Harness{
		clock:  sched.NewManual(),
		ids:    testutil.NewSequenceGenerator(""),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: NewResult(),
		seen:   make(map[*interaction.Interaction]bool),
	}
	for _, opt := range opts {
		opt(h)
	}

	copts := []coordinator.Option{
		coordinator.WithScheduler(h.clock),
		coordinator.WithIDGenerator(h.ids),
		coordinator.WithObserver(h),
		coordinator.WithAjaxSink(h),
		coordinator.WithErrorSink(h),
		coordinator.WithInitialURL(scenario.InitialURL),
		coordinator.WithLogger(h.logger),
	}
	if scenario.CancelTimeout > 0 {
		copts = append(copts, coordinator.WithCancelTimeout(time.Duration(scenario.CancelTimeout)*time.Millisecond))
	}
	if scenario.Bootstrap != nil {
		if err := h.synchronize(scenario); err != nil {
			return nil, err
		}
		copts = append(copts, coordinator.WithServerTime(h.serverTime))
	}

	h.coord = coordinator.New(copts...)
	h.observe()

	if scenario.Entitled != nil && !*scenario.Entitled {
		h.coord.SetEntitlement(false)
		h.trace(EventBlocked, "", "not entitled")
	}

	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		if step.At != nil {
			h.clock.AdvanceTo(*step.At)
		}
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.observe()
	}
	h.clock.Flush()

	for _, ixn := range h.tracked {
		h.result.Interactions = append(h.result.Interactions, Summary{
			ID:       ixn.ID,
			Trigger:  ixn.Trigger,
			Status:   ixn.Status().String(),
			Category: ixn.Category(),
			Start:    ixn.Start,
			End:      ixn.End,
		})
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

func (h *Harness) synchronize(scenario *Scenario) error {
	tk, err := timekeeper.New(scenario.OriginTime, timekeeper.WithMonotonic(h.clock))
	if err != nil {
		return fmt.Errorf("create time keeper: %w", err)
	}
	b := scenario.Bootstrap
	err = tk.ProcessBootstrap(b.Date, []timekeeper.ResourceTiming{{
		Name:          "bootstrap",
		FetchStart:    b.FetchStart,
		RequestStart:  b.RequestStart,
		ResponseStart: b.ResponseStart,
		ResponseEnd:   b.ResponseEnd,
	}})
	if err != nil {
		return fmt.Errorf("synchronize clock: %w", err)
	}
	h.keeper = tk
	return nil
}

func (h *Harness) serverTime(relative int64) (int64, bool) {
	ts, err := h.keeper.ConvertRelative(relative)
	return ts, err == nil
}

// execute runs one step at the current clock time.
func (h *Harness) execute(step *Step) error {
	now := h.clock.Now()

	switch {
	case step.UI != nil:
		return h.coord.Dispatch(coordinator.Event{
			Type:   coordinator.EventUI,
			Time:   now,
			UIType: step.UI.Type,
			Target: step.UI.Target,
		})
	case step.URL != "":
		return h.coord.Dispatch(coordinator.Event{Type: coordinator.EventURL, Time: now, URL: step.URL})
	case step.Dom:
		return h.coord.Dispatch(coordinator.Event{Type: coordinator.EventDom, Time: now})
	case step.Ajax != nil:
		return h.coord.Dispatch(coordinator.Event{Type: coordinator.EventAjax, Time: now, Ajax: *step.Ajax})
	case step.PageLoad != nil:
		return h.coord.Dispatch(coordinator.Event{Type: coordinator.EventPageLoad, Time: now, LoadEventEnd: *step.PageLoad})
	case step.JSError:
		params := &coordinator.ErrorParams{}
		if err := h.coord.Dispatch(coordinator.Event{Type: coordinator.EventJSError, Time: now, Error: params}); err != nil {
			return err
		}
		h.traceError(params)
	case step.API != nil:
		return h.call(step.API, now)
	case step.Harvest != nil:
		h.harvest(step.Harvest)
	case step.HarvestFinished != nil:
		res := harvest.Result{
			Sent:       step.HarvestFinished.Sent,
			Retry:      step.HarvestFinished.Retry,
			StatusCode: step.HarvestFinished.Status,
		}
		h.coord.HarvestFinished(res)
		h.trace(EventHarvestDone, "", fmt.Sprintf("sent=%t retry=%t", res.Sent, res.Retry))
	case step.Advance > 0:
		h.clock.Advance(time.Duration(step.Advance) * time.Millisecond)
	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

func (h *Harness) call(api *APIStep, now int64) error {
	if api.Call == CallInteraction {
		h.handle = h.coord.Interaction(now, api.WaitForEnd)
		return nil
	}
	if h.handle == nil {
		return fmt.Errorf("api %s called before interaction", api.Call)
	}

	hd := h.handle
	switch api.Call {
	case CallEnd:
		hd.End(now)
	case CallSave:
		hd.Save()
	case CallIgnore:
		hd.Ignore()
	case CallSetName:
		hd.SetName(api.Name, api.Trigger)
	case CallSetAttribute:
		hd.SetAttribute(api.Key, api.Value)
	case CallActionText:
		hd.ActionText(api.Text)
	case CallRouteName:
		hd.RouteName(api.Name)
	case CallOnEnd:
		id := hd.Interaction().ID
		hd.OnEnd(func(map[string]any) { h.trace(EventOnEnd, id, "") })
	case CallGetContext:
		id := hd.Interaction().ID
		hd.GetContext(func(map[string]any) { h.trace(EventContext, id, "") })
	default:
		return fmt.Errorf("unknown api call %q", api.Call)
	}
	return nil
}

func (h *Harness) harvest(step *HarvestStep) {
	payload, ok := h.coord.HarvestStarted(harvest.Options{Retry: step.Retry})
	if !ok {
		h.trace(EventHarvest, "", "empty")
		return
	}
	h.result.Payloads = append(h.result.Payloads, payload.Body)

	_, records, err := interaction.SplitBatch(payload.Body)
	if err != nil {
		h.trace(EventHarvest, "", "malformed")
		return
	}
	h.trace(EventHarvest, "", fmt.Sprintf("records=%d", len(records)))
}

func (h *Harness) traceError(params *coordinator.ErrorParams) {
	switch {
	case params.BrowserInteractionID == "":
		h.trace(EventErrorTagged, "", "unowned")
	case params.SoftNavFinished:
		h.trace(EventErrorTagged, params.BrowserInteractionID, "finished")
	default:
		h.trace(EventErrorTagged, params.BrowserInteractionID, "buffered")
	}
}

// observe starts tracking interactions the coordinator opened since the
// last step.
func (h *Harness) observe() {
	for _, ixn := range []*interaction.Interaction{h.coord.InitialPageLoad(), h.coord.InProgress()} {
		if ixn == nil || h.seen[ixn] {
			continue
		}
		h.seen[ixn] = true
		h.tracked = append(h.tracked, ixn)
		h.trace(EventOpen, ixn.ID, ixn.Trigger)

		ixn.OnFinished(func() { h.trace(EventFinish, ixn.ID, ixn.Category()) })
		ixn.OnCancelled(func() { h.trace(EventCancel, ixn.ID, "") })
	}
}

func (h *Harness) trace(event, id, detail string) {
	h.result.addTrace(h.clock.Now(), event, id, detail)
}

// Disconnect implements coordinator.DomObserver.
func (h *Harness) Disconnect() {
	h.trace(EventDisconnect, "", "")
}

// ReturnAjax implements coordinator.AjaxSink.
func (h *Harness) ReturnAjax(ev interaction.AjaxEvent) {
	h.trace(EventAjaxReturn, "", ev.Method+" "+ev.Path)
}

// SoftNavFlush implements coordinator.ErrorSink.
func (h *Harness) SoftNavFlush(id string, finished bool, _ map[string]any) {
	detail := "cancelled"
	if finished {
		detail = "finished"
	}
	h.trace(EventErrorFlush, id, detail)
}
