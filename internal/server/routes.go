package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/pagegate/pagegate/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.deps.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.gate.Middleware)

		if s.deps.Usage != nil {
			r.Get("/usage", handlers.UsageHandler(s.deps.Usage))
		}
		if s.deps.Pages != nil {
			pages := &handlers.PageHandlers{Pages: s.deps.Pages, MaxUploadSize: s.opts.MaxUploadSize}
			r.Route("/pages", pages.Routes)
		}
	})
}
