package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/search"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/web/handlers"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/web/middleware"
)

// Server is the HTTP surface over processing, search and cache management.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
}

// Deps carries the domain services the handlers run on. Folders may be nil
// when no folder-state directory is configured.
type Deps struct {
	Jobs    *progress.Manager
	NewRun  handlers.RunnerFactory
	Engine  *search.Engine
	Cache   *contentcache.Cache
	Folders *processor.FolderState
	Store   database.FaceReader
}

// NewServer creates a web server listening on the configured address.
func NewServer(cfg *config.Config, deps Deps) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		deps:   deps,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Web.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // SSE streams and image uploads outlive short timeouts
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
