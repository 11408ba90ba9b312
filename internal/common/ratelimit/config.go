package ratelimit

import (
	"fmt"
	"time"
)

// BackendType defines the rate limiter backend
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	RequestsPerSecond int         `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int         `json:"burst_size" yaml:"burst_size"`
	Type              BackendType `json:"type" yaml:"type"`

	// KeyPrefix namespaces counters in Redis
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`

	// Local limiters forget keys idle for longer than CleanupPeriod
	MaxKeys       int           `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty" yaml:"cleanup_period,omitempty"`
}

// DefaultConfig returns a default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerSecond: 50,
		BurstSize:         100,
		Type:              BackendLocal,
		KeyPrefix:         "claim-enricher:ratelimit:",
		MaxKeys:           10000,
		CleanupPeriod:     5 * time.Minute,
	}
}

// Validate fills in defaults and rejects unusable settings
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %d", c.RequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerSecond
	}

	if c.Type == "" {
		c.Type = BackendLocal
	}

	switch c.Type {
	case BackendLocal:
		if c.MaxKeys <= 0 {
			c.MaxKeys = 10000
		}
		if c.CleanupPeriod <= 0 {
			c.CleanupPeriod = 5 * time.Minute
		}
	case BackendRedis:
		if c.KeyPrefix == "" {
			c.KeyPrefix = "claim-enricher:ratelimit:"
		}
	default:
		return fmt.Errorf("unsupported rate limiter backend type: %s", c.Type)
	}

	return nil
}
