package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/config"
	"github.com/marmos91/torrin/pkg/upload"
)

var cleanupMaxAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a one-shot sweep of expired upload sessions",
	Long: `Delete expired upload sessions and their staged chunks, then exit.

The running server already sweeps on a schedule; this command is for
operators who disabled the schedule or want an immediate sweep. With
--max-age the sweep instead removes every non-completed session older
than the given duration, including sessions that never expire.

Examples:
  # Sweep expired sessions
  torrind cleanup

  # Remove all non-completed sessions idle for more than a week
  torrind cleanup --max-age 168h`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Remove non-completed sessions older than this duration instead of expired ones")
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()

	store, err := config.CreateUploadStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	driver, err := config.CreateStorageDriver(ctx, cfg.Storage, store)
	if err != nil {
		return err
	}

	service := upload.NewService(store, driver, upload.Config{
		DefaultChunkSize: cfg.Upload.DefaultChunkSize.Int64(),
		TTL:              cfg.Upload.TTL,
	})

	var result upload.CleanupResult
	if cleanupMaxAge > 0 {
		result, err = service.CleanupStaleUploads(ctx, cleanupMaxAge)
	} else {
		result, err = service.CleanupExpiredUploads(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Cleaned %d session(s)\n", result.Cleaned)
	for _, msg := range result.Errors {
		fmt.Printf("  warning: %s\n", msg)
	}
	return nil
}
