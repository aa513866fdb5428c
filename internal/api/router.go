/**
 * @description
 * This file sets up the HTTP router for the activation engine using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and the internal API key check, and maps the routes to
 * their corresponding handler functions.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the engine's routes.
func NewRouter(h *Handlers, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-Api-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", h.HealthHandler)

	// All engine routes require the internal API key; this service is only
	// reachable from the platform's own components.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/activations", h.RequestActivationHandler)
		r.Get("/activations", h.ListActivationsHandler)
		r.Get("/activations/{id}", h.GetActivationHandler)
		r.Get("/activations/{id}/attempts", h.ListActivationAttemptsHandler)
		r.Get("/activations/{id}/audit", h.ListActivationAuditHandler)

		r.Post("/transactions/{id}/reverse", h.ReverseTransactionHandler)
		r.Get("/wallets/{id}", h.GetWalletHandler)
		r.Get("/wallets/{id}/transactions", h.ListWalletTransactionsHandler)

		r.Get("/users/{id}/history", h.ListUserHistoryHandler)

		r.Post("/sync", h.StartSyncHandler)
		r.Get("/sync", h.ListSyncRunsHandler)
		r.Get("/sync/{id}", h.GetSyncHandler)
		r.Post("/sync/{id}/cancel", h.CancelSyncHandler)
		r.Post("/sync/{id}/resume", h.ResumeSyncHandler)
	})

	return r
}
