/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their handlers and applies the middleware
 * for authentication, CORS and request hygiene.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs beyond the handlers.
type RouterConfig struct {
	Auth           AuthConfig
	InternalAPIKey string
	AllowedOrigins []string
}

// LedgerRoutes creates and returns the router for the ledger service,
// mounted under /ledger.
func LedgerRoutes(h *LedgerHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		// End-user routes authenticated with Clerk session tokens.
		r.Group(func(r chi.Router) {
			r.Use(ClerkAuthMiddleware(cfg.Auth))

			r.Post("/purchases", h.PurchaseHandler)

			r.Get("/wallet", h.GetWalletHandler)
			r.Get("/wallet/transactions", h.ListTransactionsHandler)
			r.Get("/entitlement", h.GetEntitlementHandler)
			r.Get("/overview", h.OverviewHandler)

			r.Post("/content", h.CreateContentHandler)
			r.Get("/content/{id}", h.GetContentHandler)
			r.Post("/content/{id}/archive", h.ArchiveContentHandler)

			r.Post("/admin/balance", h.AdminSetBalanceHandler)
			r.Get("/admin/accounts/{userID}/transactions", h.AdminListTransactionsHandler)
		})

		// Server-to-server routes.
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

			r.Post("/settlements", h.InternalSettleHandler)
			r.Put("/subscriptions/{userID}", h.InternalUpsertSubscriptionHandler)
		})
	})

	return r
}
