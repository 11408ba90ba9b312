package ratelimit

import (
	"context"
	"fmt"
	"time"

	"claim-enricher/internal/common/logging"
)

// distributedLimiter implements Redis-backed distributed rate limiting
type distributedLimiter struct {
	config      Config
	redisClient RedisInterface
	logger      logging.Logger
}

// NewDistributedLimiter creates a limiter whose counters live in Redis, so all
// replicas share one budget per key.
func NewDistributedLimiter(config Config, redisClient RedisInterface, logger logging.Logger) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required for distributed rate limiter")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &distributedLimiter{
		config:      config,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Allow checks the one-second sliding window for key. Redis failures fail
// open; an unavailable limiter must not block token issuance.
func (rl *distributedLimiter) Allow(ctx context.Context, key string) bool {
	if !rl.config.Enabled {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	allowed, _, err := rl.redisClient.CheckRateLimit(ctx, rl.config.KeyPrefix+key, rl.config.RequestsPerSecond, time.Second)
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return true
	}

	return allowed
}

// Stats returns rate limiter statistics
func (rl *distributedLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":                string(BackendRedis),
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"key_prefix":          rl.config.KeyPrefix,
	}
}

// Health checks if the distributed rate limiter is working
func (rl *distributedLimiter) Health() error {
	return rl.redisClient.Health()
}
