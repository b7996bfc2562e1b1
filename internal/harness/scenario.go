package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/softnav/internal/coordinator"
	"github.com/roach88/softnav/internal/interaction"
)

// Scenario defines one replayable page life.
type Scenario struct {
	// Name uniquely identifies this scenario. Used as the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// OriginTime is the local page origin (unix ms). Required with Bootstrap.
	OriginTime int64 `yaml:"origin_time,omitempty"`

	// Bootstrap synchronizes the clock before the first step. Without it
	// payloads carry no server timestamps.
	Bootstrap *Bootstrap `yaml:"bootstrap,omitempty"`

	// Entitled is the server's soft navigation flag. Defaults to true.
	Entitled *bool `yaml:"entitled,omitempty"`

	// InitialURL is the page URL at origin.
	InitialURL string `yaml:"initial_url,omitempty"`

	// CancelTimeout overrides the idle timeout in milliseconds.
	CancelTimeout int64 `yaml:"cancel_timeout,omitempty"`

	// Steps is the timeline, replayed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and payloads.
	Assertions []Assertion `yaml:"assertions"`
}

// Bootstrap is the server exchange used for clock synchronization. Times
// are milliseconds since origin.
type Bootstrap struct {
	Date          string  `yaml:"date"`
	FetchStart    float64 `yaml:"fetch_start,omitempty"`
	RequestStart  float64 `yaml:"request_start,omitempty"`
	ResponseStart float64 `yaml:"response_start,omitempty"`
	ResponseEnd   float64 `yaml:"response_end,omitempty"`
}

// Step is one timeline entry. Exactly one action field must be set.
type Step struct {
	// At moves the clock to this time before the action runs.
	At *int64 `yaml:"at,omitempty"`

	UI              *UIStep                `yaml:"ui,omitempty"`
	URL             string                 `yaml:"url,omitempty"`
	Dom             bool                   `yaml:"dom,omitempty"`
	Ajax            *interaction.AjaxEvent `yaml:"ajax,omitempty"`
	JSError         bool                   `yaml:"jserror,omitempty"`
	PageLoad        *float64               `yaml:"page_load,omitempty"`
	API             *APIStep               `yaml:"api,omitempty"`
	Harvest         *HarvestStep           `yaml:"harvest,omitempty"`
	HarvestFinished *HarvestFinishedStep   `yaml:"harvest_finished,omitempty"`
	Advance         int64                  `yaml:"advance,omitempty"`
}

// UIStep is a user interaction.
type UIStep struct {
	Type   string             `yaml:"type"`
	Target coordinator.Target `yaml:"target,omitempty"`
}

// APIStep is a call on the public interaction API. "interaction" binds a
// new handle; every other call uses the most recently bound handle.
type APIStep struct {
	Call       string `yaml:"call"`
	WaitForEnd bool   `yaml:"wait_for_end,omitempty"`
	Name       string `yaml:"name,omitempty"`
	Trigger    string `yaml:"trigger,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Value      any    `yaml:"value,omitempty"`
	Text       string `yaml:"text,omitempty"`
}

// HarvestStep starts a harvest cycle.
type HarvestStep struct {
	Retry bool `yaml:"retry"`
}

// HarvestFinishedStep reports the outcome of the last harvest.
type HarvestFinishedStep struct {
	Sent   bool `yaml:"sent"`
	Retry  bool `yaml:"retry"`
	Status int  `yaml:"status,omitempty"`
}

// API calls.
const (
	CallInteraction  = "interaction"
	CallEnd          = "end"
	CallSave         = "save"
	CallIgnore       = "ignore"
	CallSetName      = "set_name"
	CallSetAttribute = "set_attribute"
	CallActionText   = "action_text"
	CallRouteName    = "route_name"
	CallOnEnd        = "on_end"
	CallGetContext   = "get_context"
)

var validCalls = map[string]bool{
	CallInteraction:  true,
	CallEnd:          true,
	CallSave:         true,
	CallIgnore:       true,
	CallSetName:      true,
	CallSetAttribute: true,
	CallActionText:   true,
	CallRouteName:    true,
	CallOnEnd:        true,
	CallGetContext:   true,
}

// Assertion validates the trace, the payloads or an interaction's end state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID names the interaction (status, optional for trace_contains).
	ID string `yaml:"id,omitempty"`

	// Status is the expected lifecycle state: OPEN, FIN or CANCELLED.
	Status string `yaml:"status,omitempty"`

	// Category, Start and End are optional extra checks for status.
	Category string `yaml:"category,omitempty"`
	Start    *int64 `yaml:"start,omitempty"`
	End      *int64 `yaml:"end,omitempty"`

	// Event is the trace event kind (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected order, each "kind" or "kind:id" (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Text is the expected payload substring (payload_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus          = "status"
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertPayloadContains = "payload_contains"
	AssertPayloadCount    = "payload_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.CancelTimeout < 0 {
		return fmt.Errorf("cancel_timeout must be non-negative")
	}

	if s.Bootstrap != nil {
		if s.OriginTime == 0 {
			return fmt.Errorf("origin_time is required with bootstrap")
		}
		if s.Bootstrap.Date == "" {
			return fmt.Errorf("bootstrap.date is required")
		}
	}

	var last int64
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.At != nil {
			if *step.At < last {
				return fmt.Errorf("steps[%d]: at %d is before previous step at %d", i, *step.At, last)
			}
			last = *step.At
		}
		if err := validateStep(i, step); err != nil {
			return err
		}
		if step.Advance > 0 {
			last += step.Advance
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	for _, ok := range []bool{
		step.UI != nil,
		step.URL != "",
		step.Dom,
		step.Ajax != nil,
		step.JSError,
		step.PageLoad != nil,
		step.API != nil,
		step.Harvest != nil,
		step.HarvestFinished != nil,
		step.Advance != 0,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}

	switch {
	case step.UI != nil && step.UI.Type == "":
		return fmt.Errorf("steps[%d]: ui.type is required", index)
	case step.API != nil && !validCalls[step.API.Call]:
		return fmt.Errorf("steps[%d]: unknown api call %q", index, step.API.Call)
	case step.API != nil && step.API.Call == CallSetAttribute && step.API.Key == "":
		return fmt.Errorf("steps[%d]: set_attribute requires key", index)
	case step.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for status", index)
		}
		switch a.Status {
		case interaction.StatusOpen.String(), interaction.StatusFinished.String(), interaction.StatusCancelled.String():
		default:
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertPayloadContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for payload_contains", index)
		}
	case AssertPayloadCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for payload_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
