package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/config"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server
const ShutdownTimeout = 30 * time.Second

// Run starts the service with cfg and blocks until SIGINT or SIGTERM
func Run(cfg *config.Config) error {
	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting claim enricher",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: Version},
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.RunServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err, ok := <-srv.Errors():
		if ok && err != nil {
			logging.Error("Server stopped unexpectedly", err)
			return err
		}
	}

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
