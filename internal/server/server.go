// Package server provides the HTTP server and routing for SommOS.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/config"
	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/experiments"
	experimentshandlers "github.com/sommos/sommos/internal/experiments/handlers"
	"github.com/sommos/sommos/internal/inventory"
	inventoryhandlers "github.com/sommos/sommos/internal/inventory/handlers"
	"github.com/sommos/sommos/internal/metrics"
	"github.com/sommos/sommos/internal/pairing"
	pairinghandlers "github.com/sommos/sommos/internal/pairing/handlers"
	"github.com/sommos/sommos/internal/realtime"
	"github.com/sommos/sommos/internal/scheduler"
	syncpkg "github.com/sommos/sommos/internal/sync"
	synchandlers "github.com/sommos/sommos/internal/sync/handlers"
	"github.com/sommos/sommos/internal/vintage"
	vintagehandlers "github.com/sommos/sommos/internal/vintage/handlers"
)

// Config holds the already-wired services the server routes to
type Config struct {
	Log          zerolog.Logger
	Config       *config.Config
	MainDB       *database.DB
	CacheDB      *database.DB
	Inventory    *inventory.Service
	Orchestrator *pairing.Orchestrator
	PairingRepo  *pairing.Repository
	Tracker      *metrics.Tracker
	Enricher     *vintage.Enricher
	Reconciler   *syncpkg.Reconciler
	Experiments  *experiments.Service
	Hub          *realtime.Hub
	Scheduler    *scheduler.Scheduler
	DevMode      bool
}

// Server is the HTTP front of SommOS
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
}

// New creates the HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		map[string]*database.DB{
			cfg.MainDB.Name():  cfg.MainDB,
			cfg.CacheDB.Name(): cfg.CacheDB,
		},
		cfg.Tracker,
		cfg.Hub,
		cfg.Scheduler,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SystemHandlers exposes the system handlers so main can register jobs
// for manual triggering.
func (s *Server) SystemHandlers() *SystemHandlers {
	return s.systemHandlers
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Liveness probe, outside the authenticated API surface
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	// WebSocket endpoint; the hub manages its own lifecycle
	if s.cfg.Hub != nil {
		s.router.Get("/ws", s.cfg.Hub.ServeHTTP)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(api.AuthContext)

		inventoryhandlers.NewHandler(s.cfg.Inventory, s.cfg.Log).RegisterRoutes(r)
		pairinghandlers.NewHandler(s.cfg.Orchestrator, s.cfg.PairingRepo, s.cfg.Tracker, s.cfg.Experiments, s.cfg.Log).RegisterRoutes(r)
		vintagehandlers.NewHandler(
			s.cfg.Enricher,
			s.cfg.Inventory.Vintages(),
			s.cfg.Inventory.Wines(),
			s.cfg.Log,
		).RegisterRoutes(r)
		synchandlers.NewHandler(s.cfg.Reconciler, s.cfg.Log).RegisterRoutes(r)
		experimentshandlers.NewHandler(s.cfg.Experiments, s.cfg.Log).RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleHealth)
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/metrics", s.systemHandlers.HandleMetrics)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/jobs", s.systemHandlers.HandleListJobs)
			r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
		})
	})
}

// Router exposes the assembled router, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
