package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"claim-enricher/internal/common/ratelimit"
	"claim-enricher/internal/handlers"
	"claim-enricher/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application. clientKey
// identifies the caller for rate limiting.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, jwtSecret string, rateLimiter ratelimit.Limiter, clientKey func(*http.Request) string) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Protected routes - require authentication and rate limiting
	protected := router.NewRoute().Subrouter()
	protected.Use(middleware.BearerAuth(jwtSecret))
	if rateLimiter != nil {
		protected.Use(ratelimit.HTTPMiddleware(rateLimiter, clientKey))
	}

	api := protected.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/enrich", h.Enrich).Methods("POST")

	api.HandleFunc("/mappers", h.ListMappers).Methods("GET")
	api.HandleFunc("/mappers/schema", h.MapperSchema).Methods("GET")
	api.HandleFunc("/mappers/{name}/oidc", h.ApplyClaimMapper).Methods("POST")
	api.HandleFunc("/mappers/{name}/saml", h.ApplyAttributeMapper).Methods("POST")

	api.HandleFunc("/oidc/claims", h.ApplyClaimMappers).Methods("POST")
	api.HandleFunc("/saml/attributes", h.ApplyAttributeMappers).Methods("POST")
}
