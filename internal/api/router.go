/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API endpoints,
 * associates them with their handlers, and applies middleware for logging, recovery,
 * CORS and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LedgerRoutes creates and returns the router for the ledger service.
func LedgerRoutes(h *Handlers, tokens *TokenManager, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler(allowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.RegisterHandler)
		r.Post("/login", h.LoginHandler)
		r.Post("/biometric/login", h.BiometricLoginHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(tokens))

		r.Get("/me", h.GetProfileHandler)
		r.Patch("/me", h.UpdateProfileHandler)
		r.Get("/me/biometric", h.BiometricStatusHandler)
		r.Post("/me/biometric", h.EnrollBiometricHandler)

		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/{accountID}", h.GetAccountHandler)
		r.Get("/accounts/{accountID}/transactions", h.ListTransactionsHandler)
		r.Get("/accounts/{accountID}/insights", h.InsightsHandler)

		r.Get("/beneficiaries", h.ListBeneficiariesHandler)
		r.Post("/beneficiaries", h.AddBeneficiaryHandler)

		r.Post("/transfers", h.TransferHandler)
		r.Get("/transfers", h.ListTransfersHandler)
		r.Get("/transfers/{transferID}", h.GetTransferHandler)
	})

	return r
}

// corsHandler opens the API to any origin without credentials unless an explicit origin
// list is configured.
func corsHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	credentials := true
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
		credentials = false
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: credentials,
		MaxAge:           300,
	})
}
