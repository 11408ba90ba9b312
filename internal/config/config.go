// Package config provides configuration management for the claim enricher.
// It loads configuration from environment variables with sensible defaults
// and validates it so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Append logs to this file instead of stdout
//   - TLS_CERT_FILE / TLS_KEY_FILE: Serve HTTPS when both are set
//
// Backend Fetching:
//   - INTERNAL_COMMUNICATION_API_KEY: Shared secret sent in the api-key header.
//     When unset, api_key enrichments produce no value and make no network call.
//   - FETCH_TIMEOUT: Bound on a single backend call (default: 10s)
//   - FETCH_MAX_RESPONSE_BYTES: Largest backend response read (default: 1048576)
//   - FETCH_CIRCUIT_BREAKER: Guard each backend host with a circuit breaker (default: true)
//
// Mappers:
//   - MAPPERS_FILE: YAML file with mapper definitions (optional)
//
// HTTP API:
//   - API_JWT_SECRET: HS256 secret for bearer tokens on /api routes.
//     Authentication is off when unset; at least 32 characters when set.
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_RPS: Requests per second per client IP (default: 50)
//   - RATE_LIMIT_BURST: Burst size (default: 100)
//   - RATE_LIMIT_BACKEND: "local" or "redis" (default: local)
//   - TRUSTED_PROXIES: Comma-separated IPs or CIDR ranges of reverse proxies whose
//     X-Forwarded-For and X-Real-IP headers identify the client. Empty means the
//     connecting address is always used.
//
// Redis Configuration (only used by the redis rate limit backend):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"claim-enricher/internal/common/ratelimit"
)

// InternalAPIKeyEnv names the variable holding the backend shared secret
const InternalAPIKeyEnv = "INTERNAL_COMMUNICATION_API_KEY"

// Config holds all configuration values for the claim enricher.
//
// The configuration is loaded using Load() and should be validated using the
// Validate() method before use. Values that fail to parse are reported by
// Validate rather than silently replaced with defaults.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	LogFile     string
	TLSCertFile string
	TLSKeyFile  string

	// Backend fetching
	InternalAPIKey        string
	FetchTimeout          time.Duration
	FetchMaxResponseBytes int64
	FetchCircuitBreaker   bool

	// Mapper definitions
	MappersFile string

	// HTTP API authentication
	APIJWTSecret string

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitBackend string
	TrustedProxies   []string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	parseErrors []string
}

// Load creates a new Config populated from environment variables.
//
// Example:
//
//	cfg := config.Load()
//	fmt.Printf("Starting server on port %s\n", cfg.Port)
func Load() *Config {
	c := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		InternalAPIKey:      os.Getenv(InternalAPIKeyEnv),
		FetchCircuitBreaker: getBoolEnv("FETCH_CIRCUIT_BREAKER", true),

		MappersFile:  getEnv("MAPPERS_FILE", ""),
		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "local")),
		TrustedProxies:   getListEnv("TRUSTED_PROXIES"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}

	c.FetchTimeout = c.getDurationEnv("FETCH_TIMEOUT", 10*time.Second)
	c.FetchMaxResponseBytes = int64(c.getIntEnv("FETCH_MAX_RESPONSE_BYTES", 1<<20))
	c.RateLimitRPS = c.getIntEnv("RATE_LIMIT_RPS", 50)
	c.RateLimitBurst = c.getIntEnv("RATE_LIMIT_BURST", 100)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
//
// This function accepts common boolean representations:
//   - "true", "1", "t", "TRUE", "True" -> true
//   - "false", "0", "f", "FALSE", "False" -> false
//   - Any other value or parsing error -> returns defaultValue
// getListEnv splits a comma-separated variable, dropping empty entries
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv parses an integer variable, recording a parse error for Validate
func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// getDurationEnv parses a duration such as "5s" or "1m". A bare number is
// taken as seconds.
func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a valid duration (e.g., '10s', '1m'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

// Validate performs validation on the configuration to ensure all values
// are usable before the service starts.
//
// This method checks:
//   - Values that failed to parse when loading
//   - Port and timeout ranges
//   - Rate limiter and Redis settings
//   - Secret lengths and TLS file pairs
//
// A missing INTERNAL_COMMUNICATION_API_KEY is not an error: api_key
// enrichments then degrade to producing no value.
func (c *Config) Validate() error {
	if len(c.parseErrors) > 0 {
		return fmt.Errorf("%s", c.parseErrors[0])
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.FetchMaxResponseBytes <= 0 {
		return fmt.Errorf("FETCH_MAX_RESPONSE_BYTES must be positive")
	}

	if c.APIJWTSecret != "" && len(c.APIJWTSecret) < 32 {
		return fmt.Errorf("API_JWT_SECRET must be at least 32 characters long for security")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPS < 1 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number")
		}
		if c.RateLimitBurst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
		}
		switch c.RateLimitBackend {
		case "local":
		case "redis":
			if c.RedisAddress == "" {
				return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_BACKEND is redis")
			}
			if c.RedisDB < 0 || c.RedisDB > 15 {
				return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
			}
			if c.RedisPoolSize < 1 {
				return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
			}
		default:
			return fmt.Errorf("RATE_LIMIT_BACKEND must be 'local' or 'redis'")
		}
		if _, err := ratelimit.ParseTrustedProxies(c.TrustedProxies); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
	}

	return nil
}
