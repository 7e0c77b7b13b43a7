// Package api wires the HTTP surface of the intelligence service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/nekazari/intelligence/internal/api/middleware"
	"github.com/nekazari/intelligence/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	AnalyzeHandler     http.HandlerFunc
	PredictHandler     http.HandlerFunc
	PollJobHandler     http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	ListPluginsHandler http.HandlerFunc
	WebhookHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/plugins", orNotImplemented(deps.ListPluginsHandler))

	// Tenant-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireTenant)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/predict", orNotImplemented(deps.PredictHandler))

		r.Get("/jobs/{jobID}", orNotImplemented(deps.PollJobHandler))
		r.Post("/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))

		r.Post("/webhook/n8n", orNotImplemented(deps.WebhookHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
