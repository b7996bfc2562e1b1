// Package collector is a local ingest endpoint for the agent: it answers the
// bootstrap request the clock is synchronized against and stores harvested
// batches.
package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/store"
)

// Default routes.
const (
	DefaultBootstrapPath = "/1/{key}"
	DefaultEventsPath    = "/events"
)

// maxPayloadBytes caps one harvest request body.
const maxPayloadBytes = 1 << 20

// BatchWriter persists accepted batches.
type BatchWriter interface {
	WriteBatch(ctx context.Context, b store.Batch) (int64, error)
}

// Flags is the bootstrap response body.
type Flags struct {
	SPA int `json:"spa"`
}

// Server serves the bootstrap and events routes.
//
// Thread-safety: handlers may run concurrently; the failure injection state
// is mutex-protected and writes are serialized by the store.
type Server struct {
	writer        BatchWriter
	now           func() time.Time
	entitled      bool
	bootstrapPath string
	eventsPath    string
	logger        *slog.Logger

	mu         sync.Mutex
	failCount  int
	failStatus int
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for the Date header and receive times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithEntitlement sets the spa flag returned by bootstrap. Default: true.
func WithEntitlement(on bool) Option {
	return func(s *Server) {
		s.entitled = on
	}
}

// WithPaths overrides the bootstrap and events routes. The bootstrap path
// must contain the {key} wildcard.
func WithPaths(bootstrap, events string) Option {
	return func(s *Server) {
		if bootstrap != "" {
			s.bootstrapPath = bootstrap
		}
		if events != "" {
			s.eventsPath = events
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server storing batches through w.
func New(w BatchWriter, opts ...Option) *Server {
	s := &Server{
		writer:        w,
		now:           time.Now,
		entitled:      true,
		bootstrapPath: DefaultBootstrapPath,
		eventsPath:    DefaultEventsPath,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next n harvest requests answer status without storing
// anything. Used to exercise the agent's retry path.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
	s.failStatus = status
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.bootstrapPath, s.handleBootstrap)
	mux.HandleFunc("POST "+s.eventsPath, s.handleEvents)
	return mux
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	flags := Flags{}
	if s.entitled {
		flags.SPA = 1
	}

	w.Header().Set("Date", s.now().UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(flags); err != nil {
		s.logger.Warn("write bootstrap response", "error", err)
	}
	s.logger.Debug("bootstrap served", "key", r.PathValue("key"), "spa", flags.SPA)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if status, fail := s.injectedFailure(); fail {
		s.logger.Info("harvest rejected by failure injection", "status", status)
		w.WriteHeader(status)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	payload := r.PostForm.Get("e")
	batch, err := parseBatch(payload)
	if err != nil {
		s.logger.Debug("harvest rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batch.LicenseKey = r.URL.Query().Get("a")
	batch.ReceivedAt = s.now()

	id, err := s.writer.WriteBatch(r.Context(), batch)
	if err != nil {
		s.logger.Error("store batch failed", "error", err)
		http.Error(w, "store failure", http.StatusInternalServerError)
		return
	}

	s.logger.Info("batch stored",
		"batch_id", id,
		"records", len(batch.Records),
		"version", batch.Version,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int64{"batch_id": id})
}

func (s *Server) injectedFailure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCount <= 0 {
		return 0, false
	}
	s.failCount--
	return s.failStatus, true
}

// parseBatch splits a payload and indexes every record header.
func parseBatch(payload string) (store.Batch, error) {
	version, records, err := interaction.SplitBatch(payload)
	if err != nil {
		return store.Batch{}, err
	}

	batch := store.Batch{Version: version, Payload: payload}
	for _, rec := range records {
		h, err := interaction.ParseRecordHeader(rec)
		if err != nil {
			return store.Batch{}, err
		}
		batch.Records = append(batch.Records, store.Record{
			InteractionID: h.ID,
			Trigger:       h.Trigger,
			Category:      h.Category,
			Start:         h.Start,
			Duration:      h.Duration,
			ServerStart:   h.ServerStart,
			Body:          rec,
		})
	}
	return batch, nil
}
