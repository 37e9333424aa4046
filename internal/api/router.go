package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, verifier *auth.Verifier) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB: a 10k-char message is up to 40KB of UTF-8, plus envelope
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(verifier.RequireAuth)

		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Post("/conversations/{id}/members", h.AddMember)
		r.Delete("/conversations/{id}/members/{userId}", h.RemoveMember)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Get("/users/{userId}/conversations", h.ListUserConversations)

		r.Post("/messages", h.SendMessage)
		r.Get("/messages/{id}", h.GetMessage)
		r.Patch("/messages/{id}/read", h.MarkRead)
		r.Delete("/messages/{id}", h.DeleteMessage)
	})

	return r
}
