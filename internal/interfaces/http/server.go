// Package http exposes the read-only operational API: health, metrics,
// exports, latest decision and recent alerts. No endpoint mutates
// pipeline state.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/config"
	"github.com/jackson97300/mia-core/internal/domain/staleness"
	"github.com/jackson97300/mia-core/internal/domain/vix"
	"github.com/jackson97300/mia-core/internal/pipeline"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

// Deps are the read-side views the server renders. Every field is
// required except Registry and Dispatcher.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Staleness    *staleness.Manager
	VIX          *vix.Tracker
	Scorer       *scoring.Calculator
	Latency      *latency.Tracker
	Dispatcher   *alerts.Dispatcher
	Registry     *prometheus.Registry
}

// Server wraps the router and the underlying http.Server.
type Server struct {
	cfg    config.ServerConfig
	router *mux.Router
	server *http.Server
	deps   Deps
	start  time.Time
}

// NewServer builds the router and wires all routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		deps:   deps,
		start:  time.Now().UTC(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/decisions/latest", s.handleLatestDecision).Methods("GET")
	api.HandleFunc("/alerts/recent", s.handleRecentAlerts).Methods("GET")
	api.HandleFunc("/export/latency", s.handleLatencyExport).Methods("GET")
	api.HandleFunc("/export/scoring", s.handleScoringExport).Methods("GET")
	api.HandleFunc("/export/staleness", s.handleStalenessExport).Methods("GET")
	api.HandleFunc("/vix/summary", s.handleVIXSummary).Methods("GET")

	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry,
			promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Start blocks on ListenAndServe.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening (read-only)")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
