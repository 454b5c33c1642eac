/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Browser clients call these endpoints directly

ROUTE GROUPS:
  /credits/balance, /credits/consume   public
  /credits/grant, /credits/ledger      admin bearer token
  /healthz, /metrics                   operational

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured. adminToken
// gates the grant and ledger endpoints.
func NewRouter(h *Handler, adminToken string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/credits", func(r chi.Router) {
		r.Post("/balance", h.GetBalance)
		r.Post("/consume", h.Consume)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(adminToken))
			r.Post("/grant", h.Grant)
			r.Get("/ledger", h.GetLedger)
		})
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
