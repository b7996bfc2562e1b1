package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/softnav/internal/interaction"
)

func TestInteraction_OpensAPIInteraction(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(3, false)
	ixn := h.Interaction()

	assert.Same(t, ixn, f.c.InProgress())
	assert.Equal(t, interaction.TriggerAPI, ixn.Trigger)
	assert.Equal(t, int64(3), ixn.Start)
	assert.True(t, ixn.CreatedByAPI)
	assert.True(t, ixn.Armed(), "api interactions get the idle timeout too")

	h.End(8)
	assert.Equal(t, interaction.StatusFinished, ixn.Status())
	assert.Equal(t, int64(8), ixn.End)
	assert.Equal(t, []*interaction.Interaction{ixn}, f.c.Pending())
}

func TestInteraction_BindsToInProgress(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	ui := f.c.InProgress()

	h := f.c.Interaction(2, false)
	assert.Same(t, ui, h.Interaction())
	assert.False(t, ui.CreatedByAPI)
}

func TestInteraction_HandleStaysBound(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(0, false)
	h.End(1)
	f.c.OnUIEvent("click", 5, Target{})

	h.SetAttribute("late", true)
	assert.Equal(t, true, h.Interaction().CustomAttributes["late"])
	assert.NotContains(t, f.c.InProgress().CustomAttributes, "late")
}

func TestInteraction_WaitForEnd(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(0, true)
	ixn := h.Interaction()
	assert.False(t, ixn.Armed(), "timer released for api interactions waiting for end")

	f.c.OnURLChange(2, nextURL)
	f.c.OnDomChange(4)
	f.at(60_000)
	assert.Equal(t, interaction.StatusOpen, ixn.Status())
	assert.Zero(t, f.observer.Disconnects())

	h.End(70_000)
	assert.Equal(t, interaction.StatusFinished, ixn.Status())
	assert.Equal(t, nextURL, ixn.NewURL)
}

func TestInteraction_WaitForEndOnUIInteractionKeepsTimer(t *testing.T) {
	f := newFixture(t)

	f.c.OnUIEvent("click", 0, Target{})
	h := f.c.Interaction(0, true)

	f.c.OnURLChange(2, nextURL)
	f.c.OnDomChange(4)
	assert.Equal(t, interaction.StatusOpen, h.Interaction().Status())

	f.at(30_000)
	assert.Equal(t, interaction.StatusFinished, h.Interaction().Status(), "both signals seen before timeout")
	assert.Equal(t, int64(4), h.Interaction().End)
}

func TestInteraction_TimeoutWithoutEndCancels(t *testing.T) {
	f := newFixture(t)

	ixn := f.c.Interaction(0, false).Interaction()
	f.at(30_000)

	assert.Equal(t, interaction.StatusCancelled, ixn.Status())
	assert.Nil(t, f.c.InProgress())
}

func TestHandle_SaveAndIgnore(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(0, false)
	h.Save()
	h.Ignore()

	assert.True(t, h.Interaction().ForceSave)
	assert.True(t, h.Interaction().ForceIgnore)
}

func TestHandle_SetName(t *testing.T) {
	f := newFixture(t)
	h := f.c.Interaction(0, false)

	h.SetName("checkout", "")
	assert.Equal(t, "checkout", h.Interaction().CustomName)
	assert.Equal(t, interaction.TriggerAPI, h.Interaction().Trigger)

	h.SetName("", "submit")
	assert.Equal(t, "checkout", h.Interaction().CustomName)
	assert.Equal(t, "submit", h.Interaction().Trigger)
}

func TestHandle_ActionText(t *testing.T) {
	f := newFixture(t)
	f.c.OnUIEvent("click", 0, Target{Tag: "button", InnerText: "Buy"})
	h := f.c.Interaction(0, false)

	h.ActionText("")
	assert.Equal(t, "Buy", h.Interaction().CustomAttributes["actionText"])

	h.ActionText("Purchase")
	assert.Equal(t, "Purchase", h.Interaction().CustomAttributes["actionText"])
}

func TestHandle_RouteName(t *testing.T) {
	f := newFixture(t)

	h := f.c.Interaction(0, false)
	h.RouteName("/cart")
	assert.Equal(t, "/cart", h.Interaction().NewRoute)
	h.End(1)

	f.c.OnUIEvent("click", 5, Target{})
	next := f.c.InProgress()
	assert.Equal(t, "/cart", next.OldRoute)

	// Mutates the in-progress interaction, not the bound one.
	h.RouteName("/checkout")
	assert.Equal(t, "/checkout", next.NewRoute)
	assert.Equal(t, "/cart", h.Interaction().NewRoute)
	assert.Equal(t, interaction.CategoryRouteChange, next.Category())
}

func TestHandle_GetContextIsDeferred(t *testing.T) {
	f := newFixture(t)
	h := f.c.Interaction(0, false)
	h.Interaction().CustomData["cart"] = 3

	var got map[string]any
	h.GetContext(func(data map[string]any) { got = data })
	h.GetContext(nil)
	assert.Nil(t, got, "not delivered synchronously")

	f.clock.Flush()
	assert.Equal(t, map[string]any{"cart": 3}, got)
}

func TestHandle_OnEnd(t *testing.T) {
	f := newFixture(t)
	h := f.c.Interaction(0, false)

	calls := 0
	h.OnEnd(func(data map[string]any) {
		calls++
		data["seen"] = true
	})
	h.OnEnd(nil)

	h.End(5)
	assert.Zero(t, calls, "delivered on a later turn")

	f.clock.Flush()
	assert.Equal(t, 1, calls)
	assert.Equal(t, true, h.Interaction().CustomData["seen"])
}

func TestHandle_OnEndNotCalledOnCancel(t *testing.T) {
	f := newFixture(t)
	h := f.c.Interaction(0, false)

	called := false
	h.OnEnd(func(map[string]any) { called = true })
	f.at(30_000)
	f.clock.Flush()

	require.Equal(t, interaction.StatusCancelled, h.Interaction().Status())
	assert.False(t, called)
}

func TestHandle_IgnoreBeforeEndCancels(t *testing.T) {
	f := newFixture(t)
	h := f.c.Interaction(0, false)

	h.Ignore()
	h.End(4)

	assert.Equal(t, interaction.StatusCancelled, h.Interaction().Status())
	assert.Empty(t, f.c.Pending())
}
