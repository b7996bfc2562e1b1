package interaction

// AjaxEvent is the raw record produced by the AJAX instrumentation.
// Times are milliseconds relative to the agent origin.
type AjaxEvent struct {
	StartTime   int64  `json:"start_time" yaml:"start"`
	EndTime     int64  `json:"end_time" yaml:"end"`
	CallbackEnd int64  `json:"callback_end,omitempty" yaml:"callback_end"`
	Method      string `json:"method" yaml:"method"`
	Status      int    `json:"status" yaml:"status"`
	Domain      string `json:"domain" yaml:"domain"`
	Path        string `json:"path" yaml:"path"`
	TxSize      int64  `json:"tx_size,omitempty" yaml:"tx_size"`
	RxSize      int64  `json:"rx_size,omitempty" yaml:"rx_size"`
	Type        string `json:"type" yaml:"type"` // "xhr" | "fetch"
	TraceID     string `json:"trace_id,omitempty" yaml:"trace_id"`
}

// AjaxNode is an AJAX call attached to its parent interaction.
type AjaxNode struct {
	Event AjaxEvent
}

// NewAjaxNode wraps an attributed AJAX event.
func NewAjaxNode(ev AjaxEvent) *AjaxNode {
	return &AjaxNode{Event: ev}
}
