package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	processHandler := handlers.NewProcessHandler(s.deps.Jobs, s.deps.NewRun)
	jobsHandler := handlers.NewJobsHandler(s.deps.Jobs)
	searchHandler := handlers.NewSearchHandler(s.deps.Engine)
	cacheHandler := handlers.NewCacheHandler(s.deps.Cache, s.deps.Folders, s.deps.Store)

	s.router.Get("/api/health", handlers.HealthCheck)

	s.router.Route("/api", func(r chi.Router) {
		// Processing (long-running jobs)
		r.Post("/process", processHandler.Start)
		r.Get("/jobs/{jobID}", jobsHandler.Get)
		r.Get("/jobs/{jobID}/events", jobsHandler.Events)
		r.Delete("/jobs/{jobID}", jobsHandler.Cancel)

		// Similarity search
		r.Post("/search", searchHandler.Search)

		// Content cache
		r.Get("/cache/stats", cacheHandler.Stats)
		r.Delete("/cache/{owner}", cacheHandler.Clear)
	})
}
