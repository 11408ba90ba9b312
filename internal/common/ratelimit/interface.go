// Package ratelimit throttles inbound enrichment requests, either in-process
// with golang.org/x/time/rate or across replicas through Redis.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	// Allow reports whether one more request for key fits the limit
	Allow(ctx context.Context, key string) bool
	Stats() map[string]interface{}
	Health() error
}

// RedisInterface defines the minimal Redis interface needed for rate limiting
type RedisInterface interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
	Health() error
}
