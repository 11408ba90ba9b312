package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter keeps one token bucket per key in process memory
type localLimiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates a new local rate limiter using golang.org/x/time/rate
func NewLocalLimiter(config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &localLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Allow takes a token from the bucket for key
func (rl *localLimiter) Allow(_ context.Context, key string) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.limiterFor(key).AllowN(rl.now(), 1)
}

func (rl *localLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup(now)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

// cleanup removes limiters that have not been used within CleanupPeriod
func (rl *localLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.CleanupPeriod)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = now
}

// Stats returns rate limiter statistics
func (rl *localLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"type":                string(BackendLocal),
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"active_keys":         len(rl.limiters),
		"max_keys":            rl.config.MaxKeys,
	}
}

// Health always succeeds for the in-process limiter
func (rl *localLimiter) Health() error {
	return nil
}
