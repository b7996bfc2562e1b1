package coordinator

import (
	"fmt"

	"github.com/roach88/softnav/internal/interaction"
)

// EventType distinguishes inbound notifications.
type EventType int

const (
	// EventUI is a user interaction (click, submit, keydown...).
	EventUI EventType = iota + 1
	// EventURL is a history change.
	EventURL
	// EventDom is a DOM mutation.
	EventDom
	// EventAjax is a completed AJAX call.
	EventAjax
	// EventJSError is a script error.
	EventJSError
	// EventPageLoad is the load event of the initial page.
	EventPageLoad
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventUI:
		return "ui"
	case EventURL:
		return "url"
	case EventDom:
		return "dom"
	case EventAjax:
		return "ajax"
	case EventJSError:
		return "jserror"
	case EventPageLoad:
		return "page_load"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one inbound notification for the Loop's queue. Only the fields
// relevant to Type are read.
type Event struct {
	Type EventType
	Time int64

	UIType string
	Target Target

	URL string

	Ajax interaction.AjaxEvent

	Error *ErrorParams

	LoadEventEnd float64
}

// Dispatch routes ev to the matching handler.
func (c *Coordinator) Dispatch(ev Event) error {
	switch ev.Type {
	case EventUI:
		if ev.UIType == "" {
			return fmt.Errorf("ui event missing type")
		}
		c.OnUIEvent(ev.UIType, ev.Time, ev.Target)
	case EventURL:
		c.OnURLChange(ev.Time, ev.URL)
	case EventDom:
		c.OnDomChange(ev.Time)
	case EventAjax:
		c.OnAjax(ev.Ajax)
	case EventJSError:
		if ev.Error == nil {
			return fmt.Errorf("jserror event missing params")
		}
		c.OnJSError(ev.Error, ev.Time)
	case EventPageLoad:
		c.OnPageLoad(ev.LoadEventEnd)
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
	return nil
}
