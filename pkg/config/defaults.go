package config

import (
	"strings"
	"time"

	"github.com/marmos91/torrin/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. It is called after loading from file and environment, so only
// zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyUploadDefaults(&cfg.Upload)
	applyStoreDefaults(&cfg.Store)
	applyStorageDefaults(&cfg.Storage)
	cfg.API.ApplyDefaults()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyUploadDefaults sets session and cleanup defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.DefaultChunkSize == 0 {
		cfg.DefaultChunkSize = bytesize.MiB
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
}

// applyStoreDefaults selects the memory store when nothing is configured.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
}

// applyStorageDefaults selects the local driver when nothing is configured.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	if cfg.Local.BaseDir == "" {
		cfg.Local.BaseDir = "/var/lib/torrin/uploads"
	}
	if cfg.S3.KeyPrefix == "" {
		cfg.S3.KeyPrefix = "uploads/"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
