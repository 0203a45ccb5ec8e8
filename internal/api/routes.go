package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.HandleListSessions)
			r.Get("/{device}", s.HandleGetSession)
		})

		r.Get("/schedule", s.HandleGetSchedule)
		r.Get("/events", s.HandleListEvents)
	})
}
