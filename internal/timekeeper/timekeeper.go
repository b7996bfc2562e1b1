package timekeeper

import (
	"math"
	"net/http"
	"sync"
	"time"
)

// ResourceTiming is the subset of a resource-timing entry used for
// synchronization. Times are milliseconds relative to the agent origin.
type ResourceTiming struct {
	Name          string  `json:"name"`
	FetchStart    float64 `json:"fetch_start"`
	RequestStart  float64 `json:"request_start"`
	ResponseStart float64 `json:"response_start"`
	ResponseEnd   float64 `json:"response_end"`
}

// TimingSource looks up recorded resource-timing entries by request URL.
type TimingSource interface {
	EntriesByName(name string) []ResourceTiming
}

// Monotonic reports milliseconds elapsed since the agent started.
type Monotonic interface {
	Now() int64
}

// TimeKeeper translates agent timestamps onto server time.
//
// Constructed once per agent with the local origin time; completed exactly
// once by ProcessBootstrap; read-only afterwards.
//
// Thread-safety: safe for concurrent use.
type TimeKeeper struct {
	originTime int64
	monotonic  Monotonic

	mu                  sync.RWMutex
	synchronized        bool
	correctedOriginTime int64
	localTimeDiff       int64
}

// Option configures a TimeKeeper.
type Option func(*TimeKeeper)

// WithMonotonic overrides the source used by Now().
func WithMonotonic(m Monotonic) Option {
	return func(tk *TimeKeeper) {
		tk.monotonic = m
	}
}

type sinceStart struct{ start time.Time }

func (s sinceStart) Now() int64 { return time.Since(s.start).Milliseconds() }

// New creates a TimeKeeper for the given local origin time (unix ms).
func New(originTime int64, opts ...Option) (*TimeKeeper, error) {
	if originTime == 0 {
		return nil, newSyncError(ErrCodeMissingOrigin, "a local origin time is required")
	}
	tk := &TimeKeeper{
		originTime: originTime,
		monotonic:  sinceStart{start: time.Now()},
	}
	for _, opt := range opts {
		opt(tk)
	}
	return tk, nil
}

// OriginTime returns the local origin time (unix ms).
func (tk *TimeKeeper) OriginTime() int64 {
	return tk.originTime
}

// Synchronized reports whether the bootstrap exchange has been processed.
func (tk *TimeKeeper) Synchronized() bool {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.synchronized
}

// CorrectedOriginTime returns the origin time translated onto server time.
func (tk *TimeKeeper) CorrectedOriginTime() (int64, error) {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	if !tk.synchronized {
		return 0, newSyncError(ErrCodeNotSynchronized, "corrected origin time accessed before server time was calculated")
	}
	return tk.correctedOriginTime, nil
}

// LocalTimeDiff returns originTime - correctedOriginTime.
func (tk *TimeKeeper) LocalTimeDiff() (int64, error) {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	if !tk.synchronized {
		return 0, newSyncError(ErrCodeNotSynchronized, "local time difference accessed before server time was calculated")
	}
	return tk.localTimeDiff, nil
}

// ProcessResponse synchronizes from a bootstrap HTTP response and the timing
// entries recorded for url.
func (tk *TimeKeeper) ProcessResponse(resp *http.Response, url string, src TimingSource) error {
	var entries []ResourceTiming
	if src != nil {
		entries = src.EntriesByName(url)
	}
	return tk.ProcessBootstrap(resp.Header.Get("Date"), entries)
}

// ProcessBootstrap computes server time from the bootstrap response Date
// header and the resource-timing entries of the bootstrap request. Only the
// first entry is used.
//
// On error the TimeKeeper stays unsynchronized.
func (tk *TimeKeeper) ProcessBootstrap(dateHeader string, entries []ResourceTiming) error {
	if dateHeader == "" {
		return newSyncError(ErrCodeMissingHeader, "missing date header on bootstrap response")
	}
	if len(entries) == 0 {
		return newSyncError(ErrCodeMissingTimingEntry, "missing bootstrap request timing entry")
	}

	serverOffset := estimateServerOffset(entries[0])

	date, err := parseDate(dateHeader)
	if err != nil {
		return newSyncError(ErrCodeInvalidDateFormat, "date header %q: %v", dateHeader, err)
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()

	if tk.synchronized {
		return newSyncError(ErrCodeAlreadySynchronized, "server time already calculated")
	}
	tk.correctedOriginTime = date - serverOffset
	tk.localTimeDiff = tk.originTime - tk.correctedOriginTime
	tk.synchronized = true
	return nil
}

// ConvertRelative converts an origin-relative time to a server-corrected
// unix ms timestamp.
func (tk *TimeKeeper) ConvertRelative(relative int64) (int64, error) {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	if !tk.synchronized {
		return 0, newSyncError(ErrCodeNotSynchronized, "timing correction attempted before server time was calculated")
	}
	return tk.correctedOriginTime + relative, nil
}

// CorrectAbsolute converts a local unix ms timestamp to server time.
func (tk *TimeKeeper) CorrectAbsolute(timestamp float64) (int64, error) {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	if !tk.synchronized {
		return 0, newSyncError(ErrCodeNotSynchronized, "timing correction attempted before server time was calculated")
	}
	return int64(math.Floor(timestamp - float64(tk.localTimeDiff))), nil
}

// Now returns milliseconds since the agent started. Not server corrected.
func (tk *TimeKeeper) Now() int64 {
	return tk.monotonic.Now()
}

// estimateServerOffset returns the local time (ms since origin) at which the
// server most likely produced its Date header.
func estimateServerOffset(e ResourceTiming) int64 {
	if e.ResponseStart != 0 {
		return int64(math.Floor(e.RequestStart + (e.ResponseStart-e.RequestStart)/2))
	}
	return int64(math.Floor(e.FetchStart + (e.ResponseEnd-e.FetchStart)/2))
}

// parseDate parses an HTTP Date header into unix ms. RFC 3339 is accepted
// as well since some proxies rewrite the header.
func parseDate(header string) (int64, error) {
	t, err := http.ParseTime(header)
	if err != nil {
		var rfcErr error
		t, rfcErr = time.Parse(time.RFC3339Nano, header)
		if rfcErr != nil {
			return 0, err
		}
	}
	return t.UnixMilli(), nil
}
