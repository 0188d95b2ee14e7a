package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/api"
	"github.com/marmos91/torrin/pkg/config"
	"github.com/marmos91/torrin/pkg/metrics"
	"github.com/marmos91/torrin/pkg/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Torrin upload server",
	Long: `Start the upload server with the specified configuration.

Without a configuration file the server runs with defaults: in-memory
session store, local filesystem storage under /var/lib/torrin/uploads,
and the HTTP API on port 8080.

Examples:
  # Start with the default config location
  torrind serve

  # Start with a custom config file
  torrind serve --config /etc/torrin/config.yaml

  # Start with environment variable overrides
  TORRIN_LOGGING_LEVEL=DEBUG torrind serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics must be initialized before the service is created, so the
	// collectors exist when the service starts observing operations.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled")
	}

	store, err := config.CreateUploadStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()
	logger.Info("session store ready", "type", cfg.Store.Type)

	driver, err := config.CreateStorageDriver(ctx, cfg.Storage, store)
	if err != nil {
		return err
	}
	logger.Info("storage driver ready", "type", cfg.Storage.Type)

	service := upload.NewService(store, driver, upload.Config{
		DefaultChunkSize: cfg.Upload.DefaultChunkSize.Int64(),
		TTL:              cfg.Upload.TTL,
		Metrics:          metrics.NewUploadMetrics(),
	})

	if cfg.Upload.CleanupInterval > 0 {
		go runCleanupLoop(ctx, service, cfg.Upload.CleanupInterval)
		logger.Info("expired-session sweep scheduled", "interval", cfg.Upload.CleanupInterval)
	} else {
		logger.Info("expired-session sweep disabled")
	}

	if !cfg.API.IsEnabled() {
		return fmt.Errorf("api server is disabled; nothing to serve")
	}

	server := api.NewServer(cfg.API, service)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop", "port", cfg.API.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		<-serverDone
		logger.Info("server stopped gracefully")
		return nil

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}

// runCleanupLoop sweeps expired sessions until the context is cancelled.
func runCleanupLoop(ctx context.Context, service *upload.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := service.CleanupExpiredUploads(ctx)
			if err != nil {
				logger.Error("expired-session sweep failed", "error", err)
				continue
			}
			if result.Cleaned > 0 || len(result.Errors) > 0 {
				logger.Info("expired-session sweep finished",
					"cleaned", result.Cleaned,
					"errors", len(result.Errors),
				)
			}
		}
	}
}
