// Package cli provides common CLI initialization utilities shared by
// cmd/spendly and cmd/spendly-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spendly/internal/backend"
	"spendly/internal/config"
	"spendly/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from the configured level and format
// and installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and the configuration, sets up logging and validates
// the configuration. It exits the process on validation failure.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenBackend opens the configured store and event bus.
// Returns the backend or exits the process on failure.
func OpenBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err,
			"store", cfg.DataBackend, "bus", cfg.EventBus)
		os.Exit(1)
	}
	return result
}

// Shutdown coordinates a graceful stop.
type Shutdown struct {
	// Done is closed once cleanup has finished.
	Done <-chan struct{}

	trigger chan struct{}
	once    sync.Once
}

// Stop starts the shutdown as if a signal had arrived. Safe to call more
// than once.
func (s *Shutdown) Stop() {
	s.once.Do(func() { close(s.trigger) })
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that is cancelled on SIGINT, SIGTERM or Stop, after
// cleanup has run with a context bounded by timeout.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, *Shutdown) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s := &Shutdown{Done: done, trigger: make(chan struct{})}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
		case <-s.trigger:
			logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		cancel()

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, s
}
