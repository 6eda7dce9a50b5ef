/**
 * @description
 * This file sets up the HTTP router for the billing service using the
 * chi router. It defines the routes and applies middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The router.
 * - github.com/go-chi/chi/v5/middleware: Common middleware.
 * - github.com/go-chi/cors: CORS support for the web client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/expertcoachinghub/billing-service/internal/config"
)

// NewRouter creates and configures a new chi router.
func NewRouter(handler *Handler, cfg config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// User-facing endpoints. Identity comes from the bearer token; roles are
	// re-resolved from the database inside the service layer.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/payments/initiate", handler.handleInitiatePayment)
		r.Post("/withdrawals", handler.handleSubmitWithdrawal)
		r.Get("/withdrawals", handler.handleListWithdrawals)
		r.Post("/withdrawals/process", handler.handleProcessWithdrawal)
	})

	// Server-to-server endpoints guarded by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/renewals/run", handler.handleRunRenewals)
	})

	return r
}
