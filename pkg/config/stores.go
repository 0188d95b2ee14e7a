package config

import (
	"context"
	"fmt"

	"github.com/marmos91/torrin/pkg/upload"
	"github.com/marmos91/torrin/pkg/upload/driver/local"
	"github.com/marmos91/torrin/pkg/upload/driver/s3"
	badgerstore "github.com/marmos91/torrin/pkg/upload/store/badger"
	"github.com/marmos91/torrin/pkg/upload/store/memory"
)

// CreateUploadStore creates a session store from configuration.
func CreateUploadStore(cfg StoreConfig) (upload.UploadStore, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.New(), nil
	case "badger":
		store, err := badgerstore.New(badgerstore.Config{
			Path:     cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// CreateStorageDriver creates a storage driver from configuration. The S3
// driver mirrors its multipart state into session metadata through the
// store, so finalize works after a restart.
func CreateStorageDriver(ctx context.Context, cfg StorageConfig, store upload.UploadStore) (upload.StorageDriver, error) {
	switch cfg.Type {
	case "local", "":
		driver, err := local.New(local.Config{
			BaseDir:          cfg.Local.BaseDir,
			TempDir:          cfg.Local.TempDir,
			PreserveFileName: cfg.Local.PreserveFileName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage driver: %w", err)
		}
		return driver, nil

	case "s3":
		client, err := s3.NewS3ClientFromConfig(
			ctx,
			cfg.S3.Endpoint,
			cfg.S3.Region,
			cfg.S3.AccessKeyID,
			cfg.S3.SecretAccessKey,
			cfg.S3.ForcePathStyle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}

		driver, err := s3.New(s3.Config{
			Client:    client,
			Bucket:    cfg.S3.Bucket,
			KeyPrefix: cfg.S3.KeyPrefix,
			PatchSession: func(ctx context.Context, uploadID string, metadata map[string]string) error {
				_, err := store.UpdateSession(ctx, uploadID, upload.SessionPatch{Metadata: metadata})
				return err
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 storage driver: %w", err)
		}
		return driver, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}
