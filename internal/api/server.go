package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/db"
)

// RunReader reads persisted runs
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]db.Run, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	router   *chi.Mux
	tracker  *Tracker
	store    RunReader
	pinger   Pinger
	gatherer prometheus.Gatherer
}

// Option configures a Server
type Option func(*Server)

// WithStore serves finished runs from a run store
func WithStore(store RunReader) Option {
	return func(s *Server) { s.store = store }
}

// WithPinger makes /ready check the database
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithGatherer serves /metrics from the given gatherer instead of the
// default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, tracker *Tracker, opts ...Option) (*Server, error) {
	if tracker == nil {
		return nil, errors.New("api: tracker is required")
	}

	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		tracker:  tracker,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	if s.cfg == nil || s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// API v1
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{runID}", s.getRun)
			r.Get("/{runID}/progress", s.getRunProgress)
		})
	})
}

// Health check handlers
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.HealthCheck(r.Context()); err != nil {
			log.Warn().Err(err).Msg("database not ready")
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListRunsResponse lists live runs and, when a store is configured,
// recorded ones
type ListRunsResponse struct {
	Live   []RunSnapshot `json:"live"`
	Stored []db.Run      `json:"stored,omitempty"`
}

// RunResponse is a single run from either source
type RunResponse struct {
	Source string `json:"source"` // live or store
	Run    any    `json:"run"`
}

// ConditionProgress is one stopping condition of a live run
type ConditionProgress struct {
	Name    string  `json:"name"`
	Current int64   `json:"current"`
	Limit   int64   `json:"limit"`
	Ratio   float64 `json:"ratio"`
}

// ProgressResponse is the progress of a live run
type ProgressResponse struct {
	ID         uuid.UUID           `json:"id"`
	Status     string              `json:"status"`
	State      string              `json:"state"`
	Iteration  int                 `json:"iteration"`
	Coverage   float64             `json:"coverage"`
	Fitness    float64             `json:"fitness"`
	Covered    int                 `json:"covered"`
	Total      int                 `json:"total"`
	Conditions []ConditionProgress `json:"conditions"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	resp := ListRunsResponse{Live: s.tracker.List()}

	if s.store != nil {
		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		stored, err := s.store.ListRuns(r.Context(), limit, offset)
		if err != nil {
			log.Error().Err(err).Msg("failed to list runs")
			respondError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		resp.Stored = stored
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	if snap, ok := s.tracker.Get(id); ok {
		respondJSON(w, http.StatusOK, RunResponse{Source: "live", Run: snap})
		return
	}

	if s.store != nil {
		run, err := s.store.GetRun(r.Context(), id)
		switch {
		case errors.Is(err, db.ErrRunNotFound):
		case err != nil:
			log.Error().Err(err).Str("run_id", id.String()).Msg("failed to get run")
			respondError(w, http.StatusInternalServerError, "failed to get run")
			return
		default:
			respondJSON(w, http.StatusOK, RunResponse{Source: "store", Run: run})
			return
		}
	}

	respondError(w, http.StatusNotFound, "run not found")
}

func (s *Server) getRunProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	snap, ok := s.tracker.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := ProgressResponse{
		ID:         snap.ID,
		Status:     snap.Status,
		State:      snap.Search.State.String(),
		Iteration:  snap.Search.Iteration,
		Coverage:   snap.Search.Coverage,
		Fitness:    snap.Search.Fitness,
		Covered:    snap.Search.Covered,
		Total:      snap.Search.Total,
		Conditions: make([]ConditionProgress, 0, len(snap.Search.Progress)),
	}
	for _, p := range snap.Search.Progress {
		resp.Conditions = append(resp.Conditions, ConditionProgress{
			Name:    p.Name,
			Current: p.Current,
			Limit:   p.Limit,
			Ratio:   p.Ratio(),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
