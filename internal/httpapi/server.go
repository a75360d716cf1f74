// Package httpapi exposes the command surface: watcher management,
// reconciliation reports, the event journal, and a WebSocket event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"breakwatch/internal/domain"
	"breakwatch/internal/journal"
	"breakwatch/internal/ladder"
	"breakwatch/internal/recon"
	"breakwatch/internal/watcher"
)

// StartFunc creates and launches a watcher for a validated config. The
// daemon injects it so the server never owns broker or feed wiring.
type StartFunc func(cfg domain.WatcherConfig) (*watcher.Watcher, error)

// Server hosts the HTTP command surface.
type Server struct {
	addr     string
	registry *watcher.Registry
	monitor  *recon.Monitor
	journal  *journal.Journal
	hub      *Hub
	start    StartFunc
	log      *slog.Logger

	httpSrv *http.Server
}

// NewServer wires the command surface. journal and hub may be nil; their
// routes then return 404.
func NewServer(addr string, registry *watcher.Registry, monitor *recon.Monitor, j *journal.Journal, hub *Hub, start StartFunc, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		monitor:  monitor,
		journal:  j,
		hub:      hub,
		start:    start,
		log:      log.With("component", "httpapi"),
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/watchers", s.handleCreateWatcher)
	mux.HandleFunc("GET /api/v1/watchers", s.handleListWatchers)
	mux.HandleFunc("GET /api/v1/watchers/{id}", s.handleGetWatcher)
	mux.HandleFunc("DELETE /api/v1/watchers/{id}", s.handleCancelWatcher)
	mux.HandleFunc("GET /api/v1/recon", s.handleReconReport)
	mux.HandleFunc("POST /api/v1/recon/scan", s.handleReconScan)
	if s.journal != nil {
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/events/ws", s.hub.HandleWebSocket)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	return corsMiddleware(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// createWatcherRequest is a WatcherConfig plus an optional ratio shorthand
// like "70-30" that overrides per-leg quantities.
type createWatcherRequest struct {
	domain.WatcherConfig
	Ratio string `json:"ratio,omitempty"`
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	var req createWatcherRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	cfg := req.WatcherConfig
	if err := ladder.CompleteConfig(&cfg, req.Ratio); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	wt, err := s.start(cfg)
	if err != nil {
		s.log.Error("starting watcher", "symbol", cfg.Symbol, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.registry.Add(wt)
	s.log.Info("watcher created", "watcher", wt.ID, "symbol", cfg.Symbol, "level", cfg.Level)

	writeJSONStatus(w, http.StatusCreated, wt.Snapshot())
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	snaps := s.registry.Snapshots()
	if snaps == nil {
		snaps = []watcher.Snapshot{}
	}
	writeJSON(w, snaps)
}

func (s *Server) handleGetWatcher(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "watcher not found", http.StatusNotFound)
		return
	}
	writeJSON(w, wt.Snapshot())
}

func (s *Server) handleCancelWatcher(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wt, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "watcher not found", http.StatusNotFound)
		return
	}
	snap := wt.Snapshot()
	switch snap.State {
	case watcher.StateDone, watcher.StateFailed, watcher.StateCancelled:
		// Already stopped; evict from the registry.
		s.registry.Remove(id)
		writeJSON(w, snap)
	default:
		wt.Cancel()
		s.log.Info("watcher cancel requested", "watcher", id)
		writeJSONStatus(w, http.StatusAccepted, wt.Snapshot())
	}
}

func (s *Server) handleReconReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Last())
}

func (s *Server) handleReconScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.monitor.Scan(r.Context())
	if err != nil {
		s.log.Error("recon scan", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	var (
		evs any
		err error
	)
	if id := r.URL.Query().Get("watcher"); id != "" {
		evs, err = s.journal.ByWatcher(id)
	} else {
		evs, err = s.journal.Recent(limit)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("reading journal: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, evs)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}
