/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (std log, bridged to slog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus latency by route pattern
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /health             Liveness + store ping
  /metrics            Prometheus scrape endpoint
  /api/users, teams   Roster
  /api/leaderboard/*  Public boards
  /api/admin/*        Upload and leaderboard administration

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures cross-cutting router behaviour.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", h.ListUsers)
		r.Get("/teams", h.ListTeams)

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/individual", h.IndividualLeaderboard)
			r.Get("/team", h.TeamLeaderboard)
			r.Get("/aggregated/individual", h.AggregatedIndividualLeaderboard)
			r.Get("/aggregated/team", h.AggregatedTeamLeaderboard)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/upload", h.Upload)
			r.Get("/uploads", h.ListUploads)
			r.Get("/uploads/{id}/rows", h.UploadRows)
			r.Get("/daily-steps", h.DailySteps)
			r.Get("/team-steps", h.TeamSteps)
			r.Get("/leaderboard-preview", h.Preview)
			r.Get("/summary", h.Summary)
			r.Post("/publish", h.Publish)
		})
	})

	return r
}
