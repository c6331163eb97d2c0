/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/access", func(r chi.Router) {
			r.Post("/check", h.CheckAccess)
			r.Post("/signup", h.SignUp)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.ListProfiles)
			r.Get("/{id}", h.GetProfile)
			r.Put("/{id}", h.UpdateProfile)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/status", h.UpdateSessionStatus)
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Get("/", h.ListInvitations)
			r.Post("/", h.CreateInvitation)
			r.Post("/{id}/cancel", h.CancelInvitation)
		})
	})

	return r
}
