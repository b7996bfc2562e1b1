// Package harvest runs the periodic, retry-aware transmission cycle.
//
// A Scheduler ticks on a fixed interval. On each tick it asks its Source for
// a payload (HarvestStarted), sends it through a Sender, and reports the
// outcome back (HarvestFinished). The Source decides what to resend; the
// Scheduler only decides when the next attempt happens: after the regular
// interval, or after the retry delay when the last send asked for a retry.
package harvest

import "context"

// Options describes one harvest attempt.
type Options struct {
	// Retry is true when the payload may be resent if the send fails.
	// False for the final harvest at shutdown.
	Retry bool
}

// Payload is the body of one harvest request.
type Payload struct {
	Body string
}

// Result is the outcome of one harvest request.
type Result struct {
	// Sent is true when the request reached the collector.
	Sent bool
	// Retry is true when the collector asked for the batch to be resent.
	Retry bool
	// StatusCode is the HTTP status, 0 when not sent.
	StatusCode int
}

// Source produces payloads and consumes send outcomes.
type Source interface {
	HarvestStarted(opts Options) (Payload, bool)
	HarvestFinished(res Result)
}

// Sender transmits one payload.
type Sender interface {
	Send(ctx context.Context, p Payload) (Result, error)
}
