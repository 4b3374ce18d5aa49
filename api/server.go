/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus counters and latency per route pattern
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/grants/*         Grant recording and listing
  /api/spend            Spending
  /api/spends           Spend history
  /api/balances/*       Balances
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/pointsd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/grants", func(r chi.Router) {
			r.Get("/", h.ListGrants)
			r.Post("/", h.CreateGrant)
		})

		r.Post("/spend", h.Spend)
		r.Get("/spends", h.ListSpends)

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.ListBalances)
			r.Get("/{payer}", h.GetBalance)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
