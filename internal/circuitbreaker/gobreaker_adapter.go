// Package circuitbreaker provides circuit breaker functionality using Sony's gobreaker
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before transitioning to half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the maximum number of requests allowed in half-open state
	MaxConcurrentRequests int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// BackendConfig is tuned for enrichment backends: token issuance should stop
// waiting on a dead backend quickly and probe it again soon after.
var BackendConfig = Config{
	MaxFailures:           3,
	Timeout:               30 * time.Second,
	MaxConcurrentRequests: 1,
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats returns statistics about the circuit breaker
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// GoBreakerAdapter wraps Sony's gobreaker to match our interface
type GoBreakerAdapter struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// NewGoBreaker creates a new circuit breaker using Sony's gobreaker implementation
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "name", Value: name},
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: IsBackendHealthy,
	}

	return &GoBreakerAdapter{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// IsBackendHealthy reports whether err says anything about the backend being
// unhealthy. Client errors (4xx) and oversized or unparsable bodies mean the
// backend answered, so they do not count towards opening the breaker.
func IsBackendHealthy(err error) bool {
	if err == nil {
		return true
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrTypeUnexpectedStatus:
			return appErr.StatusCode < 500
		case apperrors.ErrTypeValidation, apperrors.ErrTypeConfig, apperrors.ErrTypeMalformedResponse:
			return true
		}
	}

	return false
}

// Execute runs the given function within the circuit breaker
func (g *GoBreakerAdapter) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) {
		return apperrors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", g.name), err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.ConnectionError(fmt.Sprintf("circuit breaker '%s' has too many requests", g.name), err)
	}

	return err
}

// Name returns the breaker name
func (g *GoBreakerAdapter) Name() string {
	return g.name
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats returns current statistics
func (g *GoBreakerAdapter) Stats() Stats {
	counts := g.breaker.Counts()

	return Stats{
		Name:      g.name,
		State:     g.State().String(),
		Failures:  int(counts.TotalFailures),
		Successes: int(counts.TotalSuccesses),
	}
}

// IsOpen returns true if the circuit breaker is open
func (g *GoBreakerAdapter) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}
