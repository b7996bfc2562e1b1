package coordinator

import (
	"github.com/roach88/softnav/internal/interaction"
)

// Handle is bound to one interaction for the lifetime of an API call chain.
// It stays bound even after another interaction becomes current.
type Handle struct {
	c   *Coordinator
	ixn *interaction.Interaction
}

// Interaction binds a handle to the in-progress interaction, or opens a new
// API interaction at now when none is open. With waitForEnd the interaction
// only finishes through End.
func (c *Coordinator) Interaction(now int64, waitForEnd bool) *Handle {
	ixn := c.inProgress
	if ixn == nil {
		ixn = c.open(interaction.TriggerAPI, now)
		ixn.CreatedByAPI = true
	}
	if waitForEnd {
		ixn.WaitForEnd()
	}
	return &Handle{c: c, ixn: ixn}
}

// Interaction returns the bound interaction.
func (h *Handle) Interaction() *interaction.Interaction {
	return h.ixn
}

// End finishes the interaction at now.
func (h *Handle) End(now int64) {
	h.ixn.Done(&now)
}

// Save forces the interaction to be kept when it closes.
func (h *Handle) Save() {
	h.ixn.ForceSave = true
}

// Ignore drops the interaction at harvest.
func (h *Handle) Ignore() {
	h.ixn.ForceIgnore = true
}

// SetName sets the custom name and, when non-empty, overrides the trigger.
func (h *Handle) SetName(name, trigger string) {
	if name != "" {
		h.ixn.CustomName = name
	}
	if trigger != "" {
		h.ixn.Trigger = trigger
	}
}

// SetAttribute sets a custom attribute. The last write wins.
func (h *Handle) SetAttribute(key string, value any) {
	h.ixn.CustomAttributes[key] = value
}

// ActionText overrides the captured action text.
func (h *Handle) ActionText(text string) {
	if text != "" {
		h.ixn.CustomAttributes["actionText"] = text
	}
}

// RouteName sets the route used as the old route of later interactions and
// as the new route of the interaction currently in progress, which is not
// necessarily the bound one.
func (h *Handle) RouteName(name string) {
	h.c.latestRouteByAPI = name
	if h.c.inProgress != nil {
		h.c.inProgress.NewRoute = name
	}
}

// GetContext delivers the interaction's context object on a later turn.
func (h *Handle) GetContext(cb func(map[string]any)) {
	if cb == nil {
		return
	}
	ixn := h.ixn
	h.c.scheduler.AfterFunc(0, func() { cb(ixn.CustomData) })
}

// OnEnd delivers the context object on a later turn once the interaction
// finishes. Never called for a cancelled interaction.
func (h *Handle) OnEnd(cb func(map[string]any)) {
	if cb == nil {
		return
	}
	s := h.c.scheduler
	h.ixn.AddOnDone(func(data map[string]any) {
		s.AfterFunc(0, func() { cb(data) })
	})
}
