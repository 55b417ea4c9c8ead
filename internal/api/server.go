package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"taskpulse/pkg/history"
	"taskpulse/pkg/instance"
	"taskpulse/pkg/lifecycle"
	"taskpulse/pkg/metrics"
	"taskpulse/pkg/template"
)

// Server is the HTTP API server.
type Server struct {
	manager   *lifecycle.Manager
	store     instance.Store
	metrics   *metrics.CachedEngine
	history   history.Store
	templates template.Registry
	log       *slog.Logger
	mux       *http.ServeMux
}

// New creates a new Server.
func New(manager *lifecycle.Manager, store instance.Store, engine *metrics.CachedEngine, hist history.Store, templates template.Registry, log *slog.Logger) *Server {
	s := &Server{
		manager:   manager,
		store:     store,
		metrics:   engine,
		history:   hist,
		templates: templates,
		log:       log,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Instances
	s.mux.HandleFunc("GET /api/instances", s.handleInstanceList)
	s.mux.HandleFunc("POST /api/instances", s.handleInstanceCreate)
	s.mux.HandleFunc("GET /api/instances/{id}", s.handleInstanceGet)
	s.mux.HandleFunc("PATCH /api/instances/{id}", s.handleInstanceUpdate)
	s.mux.HandleFunc("DELETE /api/instances/{id}", s.handleInstanceDelete)
	s.mux.HandleFunc("POST /api/instances/{id}/initialize", s.handleInstanceInitialize)
	s.mux.HandleFunc("POST /api/instances/{id}/start", s.handleInstanceStart)
	s.mux.HandleFunc("POST /api/instances/{id}/pause", s.handleInstancePause)
	s.mux.HandleFunc("POST /api/instances/{id}/complete", s.handleInstanceComplete)
	s.mux.HandleFunc("POST /api/instances/{id}/cancel", s.handleInstanceCancel)
	s.mux.HandleFunc("GET /api/instances/{id}/transitions", s.handleInstanceTransitions)

	// Templates
	s.mux.HandleFunc("GET /api/templates", s.handleTemplateList)

	// Metrics
	s.mux.HandleFunc("GET /api/metrics/dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /api/metrics/composite", s.handleComposite)
	s.mux.HandleFunc("GET /api/metrics/relief", s.handleRelief)
	s.mux.HandleFunc("GET /api/metrics/ranking", s.handleRanking)
	s.mux.HandleFunc("GET /api/metrics/aversion", s.handleAversion)
	s.mux.HandleFunc("GET /api/metrics/recommendations", s.handleRecommendations)
	s.mux.HandleFunc("GET /api/metrics/snapshots", s.handleSnapshots)
	s.mux.HandleFunc("GET /api/metrics/timetracking", s.handleTimeTracking)
	s.mux.HandleFunc("GET /api/metrics/trend", s.handleTrend)
	s.mux.HandleFunc("GET /api/metrics/distribution", s.handleDistribution)

	// History
	s.mux.HandleFunc("GET /api/transitions", s.handleTransitionsRecent)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	transitions, _ := s.history.Count(ctx)
	open, _ := s.store.List(ctx, instance.Filter{
		Statuses: []instance.Status{instance.StatusActive, instance.StatusPaused},
	})
	writeJSON(w, 200, map[string]any{
		"transitions":    transitions,
		"open_instances": len(open),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write json", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
