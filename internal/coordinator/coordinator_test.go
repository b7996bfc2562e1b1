package coordinator

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/sched"
	"github.com/roach88/softnav/internal/testutil"
)

const (
	homeURL = "https://app.example/home"
	nextURL = "https://app.example/next"
)

type fixture struct {
	c        *Coordinator
	clock    *sched.Manual
	ajax     *testutil.AjaxSink
	errs     *testutil.ErrorSink
	observer *testutil.Observer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    sched.NewManual(),
		ajax:     &testutil.AjaxSink{},
		errs:     &testutil.ErrorSink{},
		observer: &testutil.Observer{},
	}
	base := []Option{
		WithScheduler(f.clock),
		WithIDGenerator(testutil.NewSequenceGenerator("ixn")),
		WithAjaxSink(f.ajax),
		WithErrorSink(f.errs),
		WithObserver(f.observer),
		WithInitialURL(homeURL),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.c = New(append(base, opts...)...)
	return f
}

// at moves the clock to ts, firing due timers.
func (f *fixture) at(ts int64) {
	f.clock.AdvanceTo(ts)
}

func TestNew_OpensInitialPageLoad(t *testing.T) {
	f := newFixture(t)

	ipl := f.c.InitialPageLoad()
	require.NotNil(t, ipl)
	assert.Equal(t, "ixn-1", ipl.ID)
	assert.True(t, ipl.IsInitialPageLoad())
	assert.Equal(t, interaction.StatusOpen, ipl.Status())
	assert.Equal(t, homeURL, ipl.OldURL)
	assert.Nil(t, f.c.InProgress())
}

func TestRouteChange_FinishesOnURLThenDom(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{Tag: "button", InnerText: "Go"})
	ixn := f.c.InProgress()
	require.NotNil(t, ixn)
	assert.Equal(t, "ixn-2", ixn.ID)

	f.at(5)
	f.c.OnURLChange(5, nextURL)
	assert.Equal(t, interaction.StatusOpen, ixn.Status())

	f.at(7)
	f.c.OnAjax(interaction.AjaxEvent{StartTime: 7, EndTime: 9, Method: "GET", Status: 200, Path: "/items"})
	assert.Empty(t, ixn.Children(), "ajax attaches only after FIN")
	assert.Empty(t, f.ajax.Returned())

	f.at(10)
	f.c.OnDomChange(10)

	assert.Equal(t, interaction.StatusFinished, ixn.Status())
	assert.Equal(t, int64(0), ixn.Start)
	assert.Equal(t, int64(10), ixn.End)
	assert.Equal(t, nextURL, ixn.NewURL)
	assert.Equal(t, "Go", ixn.CustomAttributes["actionText"])
	require.Len(t, ixn.Children(), 1)
	assert.Equal(t, "/items", ixn.Children()[0].Event.Path)

	assert.Nil(t, f.c.InProgress())
	assert.Equal(t, []*interaction.Interaction{ixn}, f.c.Pending())
	assert.Equal(t, 1, f.observer.Disconnects())
	assert.Zero(t, f.clock.Pending(), "cancellation timer released")
}

func TestRouteChange_DomBeforeURL(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()

	f.c.OnDomChange(4)
	assert.Equal(t, interaction.StatusOpen, ixn.Status())
	f.c.OnURLChange(9, nextURL)

	assert.Equal(t, interaction.StatusFinished, ixn.Status())
	assert.Equal(t, int64(9), ixn.End)
}

func TestRouteChange_StaleNotificationsIgnored(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 10, Target{})
	ixn := f.c.InProgress()

	f.c.OnURLChange(3, nextURL)
	f.c.OnDomChange(12)
	assert.Equal(t, interaction.StatusOpen, ixn.Status(), "url change before start does not count")
	assert.Equal(t, nextURL, f.c.currentURL, "current url still tracked")
}

func TestURLChange_WithoutInteractionUpdatesCurrentURL(t *testing.T) {
	f := newFixture(t)

	f.c.OnURLChange(3, nextURL)
	f.c.OnDomChange(4)
	f.c.OnUIEvent("click", 5, Target{})

	assert.Equal(t, nextURL, f.c.InProgress().OldURL)
}

func TestTimeout_CancelsAndFlushesErrors(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()
	f.c.Interaction(0, false).SetAttribute("step", "checkout")

	params := &ErrorParams{}
	f.at(100)
	f.c.OnJSError(params, 100)
	assert.Equal(t, ixn.ID, params.BrowserInteractionID)
	assert.False(t, params.SoftNavFinished)
	assert.Empty(t, f.errs.Flushes(), "error stays buffered while open")

	f.at(29_999)
	assert.Equal(t, interaction.StatusOpen, ixn.Status())

	f.at(30_000)
	assert.Equal(t, interaction.StatusCancelled, ixn.Status())
	assert.Nil(t, f.c.InProgress())
	assert.Empty(t, f.c.Pending())
	assert.Equal(t, 1, f.observer.Disconnects())
	assert.Equal(t, []testutil.Flush{{ID: ixn.ID, Finished: false}}, f.errs.Flushes())
}

func TestTimeout_CustomDuration(t *testing.T) {
	f := newFixture(t, WithCancelTimeout(time.Second))

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()
	f.at(1000)

	assert.Equal(t, interaction.StatusCancelled, ixn.Status())
}

func TestTimeout_ForceSaveFinishes(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	f.c.Interaction(0, false).Save()
	ixn := f.c.InProgress()

	f.at(30_000)
	assert.Equal(t, interaction.StatusFinished, ixn.Status())
	assert.Equal(t, []*interaction.Interaction{ixn}, f.c.Pending())
}

func TestJSError_FinishedOwnerDecoratesImmediately(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()
	f.c.Interaction(0, false).SetAttribute("plan", "pro")
	f.c.OnURLChange(5, nextURL)
	f.c.OnDomChange(10)
	require.Equal(t, interaction.StatusFinished, ixn.Status())

	params := &ErrorParams{}
	f.c.OnJSError(params, 8)

	assert.Equal(t, ixn.ID, params.BrowserInteractionID)
	assert.True(t, params.SoftNavFinished)
	assert.Equal(t, map[string]any{"plan": "pro"}, params.SoftNavAttributes)
	assert.Empty(t, f.errs.Flushes())
}

func TestJSError_FlushRegisteredOncePerInteraction(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()
	f.c.Interaction(0, false).SetAttribute("k", 1)

	for i := int64(1); i <= 3; i++ {
		p := &ErrorParams{}
		f.c.OnJSError(p, i)
		assert.Equal(t, ixn.ID, p.BrowserInteractionID)
	}
	f.c.OnURLChange(5, nextURL)
	f.c.OnDomChange(6)

	assert.Equal(t, []testutil.Flush{{ID: ixn.ID, Finished: true, Attributes: map[string]any{"k": 1}}}, f.errs.Flushes())
}

func TestJSError_Unattributed(t *testing.T) {
	f := newFixture(t)
	f.c.OnPageLoad(50)

	params := &ErrorParams{}
	f.c.OnJSError(params, 500)

	assert.Empty(t, params.BrowserInteractionID)
	f.c.OnJSError(nil, 1)
}

func TestAjax_ReturnedWhenUnowned(t *testing.T) {
	f := newFixture(t)
	f.c.OnPageLoad(50)

	ev := interaction.AjaxEvent{StartTime: 100, Path: "/late"}
	f.c.OnAjax(ev)

	assert.Equal(t, []interaction.AjaxEvent{ev}, f.ajax.Returned())
}

func TestAjax_ReturnedWhenOwnerCancelled(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ixn := f.c.InProgress()
	ev := interaction.AjaxEvent{StartTime: 3, Path: "/x"}
	f.c.OnAjax(ev)
	f.at(30_000)

	assert.Equal(t, interaction.StatusCancelled, ixn.Status())
	assert.Empty(t, ixn.Children())
	assert.Equal(t, []interaction.AjaxEvent{ev}, f.ajax.Returned())
}

func TestAjax_AttachesToFinishedOwner(t *testing.T) {
	f := newFixture(t)
	f.c.OnPageLoad(50)

	f.c.OnAjax(interaction.AjaxEvent{StartTime: 20, Path: "/boot"})

	pending := f.c.Pending()
	require.Len(t, pending, 1)
	require.Len(t, pending[0].Children(), 1)
	assert.Equal(t, "/boot", pending[0].Children()[0].Event.Path)
	assert.Empty(t, f.ajax.Returned())
}

func TestInteractionFor_Precedence(t *testing.T) {
	f := newFixture(t)
	ipl := f.c.InitialPageLoad()

	assert.Same(t, ipl, f.c.InteractionFor(30), "open initial page load")

	f.c.OnUIEvent("click", 40, Target{})
	route := f.c.InProgress()
	assert.Same(t, route, f.c.InteractionFor(45), "in progress wins over initial page load")
	assert.Same(t, ipl, f.c.InteractionFor(30), "before the interaction started")

	f.c.OnURLChange(45, nextURL)
	f.c.OnPageLoad(50)
	f.c.OnDomChange(60)
	require.Equal(t, []*interaction.Interaction{ipl, route}, f.c.Pending())

	assert.Same(t, route, f.c.InteractionFor(45), "most recently finished first")
	assert.Same(t, ipl, f.c.InteractionFor(30))
	assert.Nil(t, f.c.InteractionFor(100))
}

func TestInteractionFor_NeverCancelled(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	first := f.c.InProgress()
	f.c.OnUIEvent("click", 5, Target{})
	second := f.c.InProgress()

	require.Equal(t, interaction.StatusCancelled, first.Status())
	assert.NotSame(t, first, second)
	assert.Same(t, f.c.InitialPageLoad(), f.c.InteractionFor(2))
	assert.Same(t, second, f.c.InteractionFor(7))
}

func TestOnUIEvent_SupersedesOpenInteraction(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	first := f.c.InProgress()
	f.c.OnUIEvent("submit", 3, Target{})

	assert.Equal(t, interaction.StatusCancelled, first.Status())
	second := f.c.InProgress()
	require.NotNil(t, second)
	assert.Equal(t, "submit", second.Trigger)
	assert.Equal(t, 1, f.clock.Pending(), "only the new interaction's timer remains")
}

func TestOnUIEvent_IgnoredWhileAPIInteractionOpen(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(0, false)
	f.c.OnUIEvent("click", 3, Target{})

	assert.Same(t, h.Interaction(), f.c.InProgress())
	assert.Equal(t, interaction.StatusOpen, h.Interaction().Status())
}

func TestOnUIEvent_ActionText(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		target    Target
		want      any
	}{
		{"title first", "click", Target{Tag: "A", Title: "t", Value: "v", InnerText: "x"}, "t"},
		{"value next", "click", Target{Tag: "input", Value: "v", InnerText: "x"}, "v"},
		{"inner text last", "click", Target{Tag: "button", InnerText: "x"}, "x"},
		{"other element", "click", Target{Tag: "div", InnerText: "x"}, nil},
		{"not a click", "keydown", Target{Tag: "button", InnerText: "x"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.c.OnUIEvent(tt.eventType, 0, tt.target)
			assert.Equal(t, tt.want, f.c.InProgress().CustomAttributes["actionText"])
		})
	}
}

func TestAtMostOneOpenInteraction(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(1, 2))

	seen := map[*interaction.Interaction]bool{}
	now := int64(0)
	for step := 0; step < 2000; step++ {
		now += int64(rng.IntN(2000))
		f.at(now)

		switch rng.IntN(7) {
		case 0, 1:
			f.c.OnUIEvent("click", now, Target{})
		case 2:
			f.c.OnURLChange(now, nextURL)
		case 3:
			f.c.OnDomChange(now)
		case 4:
			f.c.Interaction(now, rng.IntN(2) == 0)
		case 5:
			if ip := f.c.InProgress(); ip != nil {
				(&Handle{c: f.c, ixn: ip}).End(now)
			}
		case 6:
			f.c.HarvestStarted(optsRetry)
		}
		if ip := f.c.InProgress(); ip != nil {
			seen[ip] = true
		}

		open := 0
		for ixn := range seen {
			if ixn.Status() == interaction.StatusOpen {
				open++
			}
		}
		require.LessOrEqual(t, open, 1, "step %d", step)

		if got := f.c.InteractionFor(now - int64(rng.IntN(5000))); got != nil {
			require.NotEqual(t, interaction.StatusCancelled, got.Status())
		}
	}
}

func TestOnPageLoad(t *testing.T) {
	f := newFixture(t)
	ipl := f.c.InitialPageLoad()

	f.c.OnPageLoad(49.6)

	assert.Equal(t, interaction.StatusFinished, ipl.Status())
	assert.Equal(t, int64(50), ipl.End)
	assert.True(t, ipl.ForceSave)
	assert.Nil(t, f.c.InitialPageLoad())
	assert.Equal(t, []*interaction.Interaction{ipl}, f.c.Pending())

	f.c.OnPageLoad(80)
	assert.Len(t, f.c.Pending(), 1, "second page load ignored")
}

func TestSetEntitlement(t *testing.T) {
	f := newFixture(t)

	f.c.SetEntitlement(true)
	assert.False(t, f.c.Blocked())

	f.c.SetEntitlement(false)
	f.c.SetEntitlement(true)
	assert.True(t, f.c.Blocked(), "blocking is permanent")
}
