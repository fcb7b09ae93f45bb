// Package worker exposes the engine over a local HTTP API.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/config"
	"github.com/thebtf/kiro-memory/internal/engine"
	"github.com/thebtf/kiro-memory/internal/worker/sse"
)

// DefaultHTTPTimeout bounds each request.
const DefaultHTTPTimeout = 30 * time.Second

// maxRequestBody bounds request payloads. Imports stream line-by-line and
// stay well under it per record.
const maxRequestBody = 16 << 20

// Service is the worker HTTP surface. Handlers translate HTTP to engine
// calls and back; every invariant lives in the engine.
type Service struct {
	version string
	config  *config.Config
	engine  *engine.Engine

	broadcaster *sse.Broadcaster
	router      *chi.Mux
	server      *http.Server
	startTime   time.Time
}

// NewService wires the engine into a router.
func NewService(version string, eng *engine.Engine) *Service {
	s := &Service{
		version:     version,
		config:      config.Get(),
		engine:      eng,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(MaxBodySize(maxRequestBody))
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/events", s.broadcaster.HandleSSE)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/context", s.handleGetContext)
		r.Get("/smart-context", s.handleSmartContext)

		r.Post("/sessions/init", s.handleSessionInit)
		r.Post("/sessions/complete", s.handleSessionComplete)
		r.Post("/sessions/prompts", s.handleStorePrompt)
		r.Post("/sessions/summaries", s.handleStoreSummary)

		r.Post("/observations", s.handleStoreObservation)
		r.Post("/observations/knowledge", s.handleStoreKnowledge)
		r.Get("/observations", s.handleListObservations)
		r.Get("/observations/search", s.handleSearch)
		r.Get("/observations/semantic-search", s.handleSemanticSearch)
		r.Get("/observations/{id}", s.handleGetObservation)
		r.Get("/observations/{id}/timeline", s.handleTimeline)

		r.Post("/checkpoints", s.handleCreateCheckpoint)
		r.Get("/checkpoints/latest", s.handleLatestCheckpoint)
		r.Get("/checkpoints/{id}", s.handleGetCheckpoint)

		r.Post("/maintenance/stale", s.handleDetectStale)
		r.Post("/maintenance/consolidate", s.handleConsolidate)
		r.Post("/maintenance/retention", s.handleRetention)
		r.Get("/maintenance/decay", s.handleDecayStats)

		r.Post("/embeddings/backfill", s.handleBackfillEmbeddings)
		r.Get("/embeddings/stats", s.handleEmbeddingStats)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Post("/backups", s.handleCreateBackup)
		r.Get("/backups", s.handleListBackups)

		r.Get("/reports", s.handleReport)
	})
}

// Start launches the HTTP server and the engine's background workers.
func (s *Service) Start() error {
	s.engine.Start()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Int("port", s.config.WorkerPort).Msg("Worker HTTP server started")
	return nil
}

// Shutdown stops the HTTP server, then the engine.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	if err := s.engine.Close(); err != nil {
		return err
	}
	log.Info().Msg("Worker service shutdown complete")
	return nil
}
