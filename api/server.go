/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request
  2. Tracing:    OpenTelemetry server span per request
  3. Logger:     zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/imports/*        Batch evaluation and audit trail
  /api/quarters/*       Records and leaderboards per quarter
  /api/settings/*       Leaderboard settings
  /api/likes/*          Like counters
  /api/admin/*          Admin operations
  /health, /metrics     Operations

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer  // nil disables /metrics
	TracerProvider trace.TracerProvider // nil disables tracing
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(tracing(opts.TracerProvider))
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Import routes
		r.Route("/imports", func(r chi.Router) {
			r.Get("/", h.ListImports)
			r.Post("/", h.ImportRows)
		})

		// Quarter routes
		r.Route("/quarters/{quarter}", func(r chi.Router) {
			r.Get("/records", h.ListRecords)
			r.Get("/records/{id}", h.GetRecord)
			r.Get("/leaderboard", h.GetLeaderboard)
			r.Get("/leaderboard.csv", h.ExportLeaderboard)
		})

		// Settings routes
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
			r.Get("/splits", h.GetSplits)
			r.Put("/splits", h.UpdateSplits)
			r.Get("/excluded-reps", h.GetExcludedReps)
			r.Put("/excluded-reps", h.UpdateExcludedReps)
		})

		// Like routes
		r.Route("/likes", func(r chi.Router) {
			r.Get("/", h.ListLikes)
			r.Post("/{salesman}", h.AddLike)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/rescan", h.TriggerRescan)
		})
	})

	return r
}
