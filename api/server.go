/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and the read-only query
  routes over loaded usage data.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin GETs for dashboards

ROUTES:
  /api/reports                 Inventory ledger, most recent first
  /api/platforms               Platform reference
  /api/titles                  Title search
  /api/titles/{id}             One title
  /api/titles/{id}/metrics     Monthly facts of one title
  /api/usage                   Monthly totals aggregated by title
  /healthz                     Liveness

SECURITY NOTE:
  No authentication. The API only reads; loading stays a CLI operation.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/counterload: serve subcommand
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/reports", h.ListReports)
		r.Get("/platforms", h.ListPlatforms)

		r.Route("/titles", func(r chi.Router) {
			r.Get("/", h.SearchTitles)
			r.Get("/{id}", h.GetTitle)
			r.Get("/{id}/metrics", h.GetTitleMetrics)
		})

		r.Get("/usage", h.GetUsage)
	})

	return r
}
