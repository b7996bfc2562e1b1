package store

import "time"

// Batch is one harvest payload as accepted by the collector.
type Batch struct {
	// ID is assigned by WriteBatch. Zero on input.
	ID         int64
	LicenseKey string
	Version    string
	Payload    string
	ReceivedAt time.Time
	Records    []Record
}

// Record is the indexed header of one interaction record in a batch.
type Record struct {
	BatchID       int64  `json:"batch_id"`
	Index         int    `json:"index"`
	InteractionID string `json:"interaction_id"`
	Trigger       string `json:"trigger"`
	Category      string `json:"category"`
	Start         int64  `json:"start"`
	Duration      int64  `json:"duration"`
	// ServerStart is 0 when the agent was not synchronized.
	ServerStart int64  `json:"server_start"`
	Body        string `json:"body,omitempty"`
}

// BatchSummary is a batch row without its records.
type BatchSummary struct {
	ID          int64     `json:"id"`
	LicenseKey  string    `json:"license_key"`
	Version     string    `json:"version"`
	RecordCount int       `json:"record_count"`
	ReceivedAt  time.Time `json:"received_at"`
}
