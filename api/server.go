/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for operator tooling

ROUTE GROUPS:
  /api/accounts/*   Account lifecycle, postings, repayments, flags, windows
  /api/admin/*      Manual scheduled-event triggers and reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.OpenAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}/config", h.UpdateConfig)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/journal", h.GetJournal)
			r.Get("/{id}/statements", h.GetStatements)
			r.Get("/{id}/statements/current", h.GetCurrentStatement)
			r.Post("/{id}/postings", h.CreatePosting)
			r.Post("/{id}/repayments", h.CreateRepayment)
			r.Get("/{id}/flags", h.GetFlags)
			r.Put("/{id}/flags", h.PutFlags)
			r.Post("/{id}/windows", h.CreateWindow)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/accrue", h.TriggerAccrual)
			r.Post("/cutoff", h.TriggerCutOff)
			r.Post("/due", h.TriggerDue)
			r.Post("/annual-fee", h.TriggerAnnualFee)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Credit Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Credit Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/accounts">/api/accounts</a> - List accounts</li>
<li>/api/accounts/{id}/balances - Balance snapshot</li>
<li>/api/accounts/{id}/statements - Statement history</li>
</ul>
</body>
</html>`))
	})

	return r
}
