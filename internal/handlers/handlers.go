// Package handlers exposes the enrichment pipeline and the configured mappers over HTTP
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"claim-enricher/internal/circuitbreaker"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/common/ratelimit"
	"claim-enricher/internal/enrichment"
	"claim-enricher/internal/mappers"
)

// maxRequestBytes bounds every JSON request body
const maxRequestBytes = 1 << 20

// Runner runs one enrichment and reports how it went
type Runner interface {
	Run(ctx context.Context, req enrichment.Request) enrichment.Outcome
}

// Handlers serves the HTTP API
type Handlers struct {
	pipeline Runner
	registry *mappers.Registry
	limiter  ratelimit.Limiter
	breakers *circuitbreaker.Manager
	version  string
}

// New creates the handlers. registry, limiter and breakers may be nil.
func New(pipeline Runner, registry *mappers.Registry, limiter ratelimit.Limiter, breakers *circuitbreaker.Manager, version string) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		registry: registry,
		limiter:  limiter,
		breakers: breakers,
		version:  version,
	}
}

// HealthCheck reports liveness together with the state of the rate limiter
// and the backend circuit breakers
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   h.version,
	}

	if h.limiter != nil {
		if err := h.limiter.Health(); err != nil {
			status["rate_limiter_status"] = "unhealthy"
			status["rate_limiter_error"] = err.Error()
		} else {
			status["rate_limiter_status"] = "healthy"
		}
	} else {
		status["rate_limiter_status"] = "not_configured"
	}

	if h.breakers != nil {
		status["backends"] = h.breakers.AllStats()
	}

	if h.registry != nil {
		status["mappers"] = len(h.registry.Definitions())
	} else {
		status["mappers"] = 0
	}

	writeJSON(w, http.StatusOK, status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", logging.Err(err))
	}
}
