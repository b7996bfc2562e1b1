package timekeeper

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// Recorder is an http.RoundTripper that records a ResourceTiming entry for
// every request it carries, giving the agent a performance timeline keyed
// by request URL.
//
// An entry is appended once the response body is closed (responseEnd).
type Recorder struct {
	origin time.Time
	next   http.RoundTripper
	opaque bool

	mu      sync.Mutex
	entries map[string][]ResourceTiming
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOpaqueTiming records entries without request/response start times,
// as a browser does for cross-origin requests lacking Timing-Allow-Origin.
func WithOpaqueTiming() RecorderOption {
	return func(r *Recorder) {
		r.opaque = true
	}
}

// NewRecorder wraps next (http.DefaultTransport when nil). Timings are
// relative to origin.
func NewRecorder(origin time.Time, next http.RoundTripper, opts ...RecorderOption) *Recorder {
	if next == nil {
		next = http.DefaultTransport
	}
	r := &Recorder{
		origin:  origin,
		next:    next,
		entries: make(map[string][]ResourceTiming),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EntriesByName implements TimingSource.
func (r *Recorder) EntriesByName(name string) []ResourceTiming {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.entries[name]
	out := make([]ResourceTiming, len(entries))
	copy(out, entries)
	return out
}

// RoundTrip implements http.RoundTripper.
func (r *Recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := &pendingEntry{recorder: r, entry: ResourceTiming{
		Name:       req.URL.String(),
		FetchStart: r.since(time.Now()),
	}}

	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			rec.set(func(e *ResourceTiming) { e.RequestStart = r.since(time.Now()) })
		},
		GotFirstResponseByte: func() {
			rec.set(func(e *ResourceTiming) { e.ResponseStart = r.since(time.Now()) })
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &recordingBody{ReadCloser: resp.Body, entry: rec}
	return resp, nil
}

func (r *Recorder) since(t time.Time) float64 {
	return float64(t.Sub(r.origin).Microseconds()) / 1000
}

func (r *Recorder) record(e ResourceTiming) {
	if r.opaque {
		e.RequestStart = 0
		e.ResponseStart = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = append(r.entries[e.Name], e)
}

// pendingEntry guards an entry written from transport goroutines.
type pendingEntry struct {
	recorder *Recorder
	mu       sync.Mutex
	entry    ResourceTiming
	closed   bool
}

func (p *pendingEntry) set(fn func(*ResourceTiming)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.entry)
}

func (p *pendingEntry) finish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.entry.ResponseEnd = p.recorder.since(time.Now())
	e := p.entry
	p.mu.Unlock()

	p.recorder.record(e)
}

type recordingBody struct {
	io.ReadCloser
	entry *pendingEntry
}

func (b *recordingBody) Close() error {
	err := b.ReadCloser.Close()
	b.entry.finish()
	return err
}
