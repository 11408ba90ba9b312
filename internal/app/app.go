// Package app wires configuration, the enrichment pipeline, the mappers and
// the HTTP surface into one runnable service.
package app

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"claim-enricher/internal/circuitbreaker"
	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/common/ratelimit"
	"claim-enricher/internal/config"
	"claim-enricher/internal/enrichment"
	"claim-enricher/internal/handlers"
	"claim-enricher/internal/mappers"
	"claim-enricher/internal/redis"
	"claim-enricher/internal/server"
)

// Version is overridden at build time with -ldflags "-X claim-enricher/internal/app.Version=..."
var Version = "dev"

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Fetcher     *enrichment.Fetcher
	Extractor   *enrichment.Extractor
	Pipeline    *enrichment.Pipeline
	Registry    *mappers.Registry
	Breakers    *circuitbreaker.Manager
	Limiter     ratelimit.Limiter
	ClientKey   func(*http.Request) string
	RedisClient *redis.Client
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializePipeline(); err != nil {
		return nil, err
	}

	if err := app.initializeMappers(); err != nil {
		return nil, err
	}

	if err := app.initializeRateLimiter(); err != nil {
		return nil, err
	}

	return app, nil
}

// CredentialSource reads the shared secret from the environment on every
// call and falls back to the value the config was loaded with
func CredentialSource(cfg *config.Config) enrichment.CredentialSource {
	fromEnv := enrichment.EnvCredential(config.InternalAPIKeyEnv)
	return func() string {
		if secret := fromEnv(); secret != "" {
			return secret
		}
		return cfg.InternalAPIKey
	}
}

func (app *App) initializePipeline() error {
	opts := []enrichment.FetcherOption{enrichment.WithFetcherLogger(app.Logger)}
	if app.Config.FetchCircuitBreaker {
		app.Breakers = circuitbreaker.NewManager(circuitbreaker.BackendConfig, app.Logger)
		opts = append(opts, enrichment.WithCircuitBreakers(app.Breakers))
	}

	fetcher, err := enrichment.NewFetcher(enrichment.FetcherConfig{
		Credential:       CredentialSource(app.Config),
		Timeout:          app.Config.FetchTimeout,
		MaxResponseBytes: app.Config.FetchMaxResponseBytes,
	}, opts...)
	if err != nil {
		return err
	}

	app.Fetcher = fetcher
	app.Extractor = enrichment.NewExtractor()
	app.Pipeline = enrichment.NewPipeline(app.Fetcher, app.Extractor, app.Logger)

	if app.Config.InternalAPIKey == "" {
		app.Logger.Warn("Backend shared secret not configured, api_key enrichments will produce no value",
			logging.Field{Key: "env", Value: config.InternalAPIKeyEnv})
	}
	return nil
}

func (app *App) initializeMappers() error {
	var defs []mappers.Definition
	if app.Config.MappersFile != "" {
		loaded, err := mappers.LoadFile(app.Config.MappersFile)
		if err != nil {
			return err
		}
		defs = loaded
	}

	registry, err := mappers.NewRegistry(defs, app.Pipeline, app.Logger)
	if err != nil {
		return err
	}

	app.Registry = registry
	app.Logger.Info("Mappers loaded",
		logging.Field{Key: "count", Value: len(defs)},
		logging.Field{Key: "file", Value: app.Config.MappersFile},
	)
	return nil
}

func (app *App) initializeRateLimiter() error {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	trusted, err := ratelimit.ParseTrustedProxies(app.Config.TrustedProxies)
	if err != nil {
		return apperrors.ConfigError(fmt.Sprintf("TRUSTED_PROXIES: %v", err))
	}
	app.ClientKey = ratelimit.TrustedProxyKey(trusted)

	limiterConfig := ratelimit.Config{
		Enabled:           true,
		RequestsPerSecond: app.Config.RateLimitRPS,
		BurstSize:         app.Config.RateLimitBurst,
		Type:              ratelimit.BackendLocal,
	}

	if ratelimit.BackendType(app.Config.RateLimitBackend) == ratelimit.BackendRedis {
		client, err := redis.NewClient(&redis.Config{
			Address:  app.Config.RedisAddress,
			Password: app.Config.RedisPassword,
			DB:       app.Config.RedisDB,
			PoolSize: app.Config.RedisPoolSize,
		})
		if err != nil {
			app.Logger.Warn("Redis initialization failed, continuing with local rate limiting",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			app.RedisClient = client
			limiterConfig.Type = ratelimit.BackendRedis
			app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
		}
	}

	var redisClient ratelimit.RedisInterface
	if app.RedisClient != nil {
		redisClient = app.RedisClient
	}

	limiter, err := ratelimit.New(limiterConfig, redisClient)
	if err != nil {
		return err
	}

	app.Limiter = limiter
	app.Logger.Info("Rate Limiting: Enabled",
		logging.Field{Key: "backend", Value: string(limiterConfig.Type)},
		logging.Field{Key: "rps", Value: limiterConfig.RequestsPerSecond},
		logging.Field{Key: "burst", Value: limiterConfig.BurstSize},
		logging.Field{Key: "trusted_proxies", Value: len(trusted)},
	)
	return nil
}

// Handler builds the routed HTTP handler
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Pipeline, app.Registry, app.Limiter, app.Breakers, Version)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Config.APIJWTSecret, app.Limiter, app.ClientKey)
	return router
}

// RunServer creates the HTTP server with all handlers configured
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Field{Key: "error", Value: err.Error()})
		}
	}
}
