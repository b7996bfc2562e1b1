package harness

// Trace event kinds.
const (
	EventOpen        = "open"
	EventFinish      = "finish"
	EventCancel      = "cancel"
	EventDisconnect  = "disconnect"
	EventAjaxReturn  = "ajax_returned"
	EventErrorFlush  = "error_flush"
	EventErrorTagged = "error_tagged"
	EventOnEnd       = "on_end"
	EventContext     = "context"
	EventHarvest     = "harvest"
	EventHarvestDone = "harvest_finished"
	EventBlocked     = "blocked"
)

// TraceEvent is one observed transition or side effect.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	At     int64  `json:"at"`
	Event  string `json:"event"`
	ID     string `json:"id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Summary is the final state of one interaction seen during the run.
type Summary struct {
	ID       string `json:"id"`
	Trigger  string `json:"trigger"`
	Status   string `json:"status"`
	Category string `json:"category"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every observed event in order.
	Trace []TraceEvent `json:"trace"`

	// Payloads holds the body of each non-empty harvest, in order.
	Payloads []string `json:"payloads"`

	// Interactions summarizes every interaction in creation order.
	Interactions []Summary `json:"interactions"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Payloads: []string{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Interaction returns the summary for id.
func (r *Result) Interaction(id string) (Summary, bool) {
	for _, s := range r.Interactions {
		if s.ID == id {
			return s, true
		}
	}
	return Summary{}, false
}

func (r *Result) addTrace(at int64, event, id, detail string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		At:     at,
		Event:  event,
		ID:     id,
		Detail: detail,
	})
}
