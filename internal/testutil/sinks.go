package testutil

import (
	"maps"
	"sync"

	"github.com/roach88/softnav/internal/interaction"
)

// AjaxSink records AJAX events handed back by the coordinator.
type AjaxSink struct {
	mu       sync.Mutex
	returned []interaction.AjaxEvent
}

// ReturnAjax implements coordinator.AjaxSink.
func (s *AjaxSink) ReturnAjax(ev interaction.AjaxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returned = append(s.returned, ev)
}

// Returned returns a copy of the recorded events in arrival order.
func (s *AjaxSink) Returned() []interaction.AjaxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interaction.AjaxEvent, len(s.returned))
	copy(out, s.returned)
	return out
}

// Flush is one buffered-error release.
type Flush struct {
	ID         string
	Finished   bool
	Attributes map[string]any
}

// ErrorSink records buffered-error flushes.
type ErrorSink struct {
	mu      sync.Mutex
	flushes []Flush
}

// SoftNavFlush implements coordinator.ErrorSink. Attributes are copied so
// later mutation of the interaction does not leak into the record.
func (s *ErrorSink) SoftNavFlush(id string, finished bool, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, Flush{ID: id, Finished: finished, Attributes: maps.Clone(attrs)})
}

// Flushes returns a copy of the recorded flushes.
func (s *ErrorSink) Flushes() []Flush {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Flush, len(s.flushes))
	copy(out, s.flushes)
	return out
}

// Observer counts Disconnect calls.
type Observer struct {
	mu          sync.Mutex
	disconnects int
}

// Disconnect implements coordinator.DomObserver.
func (o *Observer) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnects++
}

// Disconnects returns how many times Disconnect was called.
func (o *Observer) Disconnects() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disconnects
}
