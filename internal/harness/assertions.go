package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] t=%d %s", event.Seq, event.At, event.Event)
			if event.ID != "" {
				fmt.Fprintf(&buf, " %s", event.ID)
			}
			if event.Detail != "" {
				fmt.Fprintf(&buf, " (%s)", event.Detail)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// matches reports whether event is of kind and, when id is set, about id.
func (e TraceEvent) matches(kind, id string) bool {
	return e.Event == kind && (id == "" || e.ID == id)
}

// assertStatus checks an interaction's final state.
func assertStatus(result *Result, a Assertion) error {
	s, ok := result.Interaction(a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("interaction %s", a.ID),
			Actual:   "never opened",
			Trace:    result.Trace,
		}
	}

	var mismatches []string
	if s.Status != a.Status {
		mismatches = append(mismatches, fmt.Sprintf("status %s", s.Status))
	}
	if a.Category != "" && s.Category != a.Category {
		mismatches = append(mismatches, fmt.Sprintf("category %q", s.Category))
	}
	if a.Start != nil && s.Start != *a.Start {
		mismatches = append(mismatches, fmt.Sprintf("start %d", s.Start))
	}
	if a.End != nil && s.End != *a.End {
		mismatches = append(mismatches, fmt.Sprintf("end %d", s.End))
	}
	if len(mismatches) == 0 {
		return nil
	}

	return &AssertionError{
		Type:     AssertStatus,
		Expected: describeStatus(a),
		Actual:   fmt.Sprintf("%s has %s", a.ID, strings.Join(mismatches, ", ")),
		Trace:    result.Trace,
	}
}

func describeStatus(a Assertion) string {
	parts := []string{fmt.Sprintf("%s is %s", a.ID, a.Status)}
	if a.Category != "" {
		parts = append(parts, fmt.Sprintf("category %q", a.Category))
	}
	if a.Start != nil {
		parts = append(parts, fmt.Sprintf("start %d", *a.Start))
	}
	if a.End != nil {
		parts = append(parts, fmt.Sprintf("end %d", *a.End))
	}
	return strings.Join(parts, ", ")
}

// assertTraceContains checks that the trace has at least one matching event.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.matches(a.Event, a.ID) {
			return nil
		}
	}

	expected := a.Event
	if a.ID != "" {
		expected += " for " + a.ID
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events appear in the specified order.
// Events don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		kind, id, _ := strings.Cut(want, ":")
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.matches(kind, id) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the event kind appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.matches(a.Event, a.ID) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertPayloadContains checks that some harvested payload contains Text.
func assertPayloadContains(payloads []string, a Assertion) error {
	for _, p := range payloads {
		if strings.Contains(p, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertPayloadContains,
		Expected: fmt.Sprintf("payload containing %q", a.Text),
		Actual:   fmt.Sprintf("%d payloads, none matching", len(payloads)),
	}
}

// assertPayloadCount checks the number of non-empty harvests.
func assertPayloadCount(payloads []string, a Assertion) error {
	if len(payloads) != a.Count {
		return &AssertionError{
			Type:     AssertPayloadCount,
			Expected: fmt.Sprintf("%d payloads", a.Count),
			Actual:   fmt.Sprintf("%d payloads", len(payloads)),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertStatus:
			err = assertStatus(result, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertPayloadContains:
			err = assertPayloadContains(result.Payloads, a)
		case AssertPayloadCount:
			err = assertPayloadCount(result.Payloads, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
