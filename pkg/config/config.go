// Package config loads, validates, and persists the torrind server
// configuration from YAML files and TORRIN_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/torrin/internal/bytesize"
	"github.com/marmos91/torrin/pkg/api"
)

// Config is the root configuration for the upload server.
type Config struct {
	// Logging configures structured logging.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Upload configures session defaults and the cleanup sweep.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Store selects where session state lives.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Storage selects where chunk data and finalized artifacts land.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// API configures the HTTP surface.
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics configures the Prometheus registry and /metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	// Default: INFO
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format selects the handler: "text" or "json".
	// Default: text
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	// Default: stdout
	Output string `mapstructure:"output" yaml:"output"`
}

// UploadConfig controls session defaults and background cleanup.
type UploadConfig struct {
	// DefaultChunkSize is used when an init request does not ask for a
	// specific chunk size. Accepts human-readable sizes like "1Mi".
	// Default: 1Mi
	DefaultChunkSize bytesize.ByteSize `mapstructure:"default_chunk_size" yaml:"default_chunk_size"`

	// TTL is the session lifetime. Sessions idle past their deadline are
	// swept by the cleanup loop. A negative value disables expiry.
	// Default: 24h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// CleanupInterval is how often the expired-session sweep runs. A
	// negative value disables the sweep.
	// Default: 10m
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Type is "memory" or "badger".
	// Default: memory
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory badger" yaml:"type"`

	// Badger holds badger-specific settings, used when Type is "badger".
	Badger BadgerStoreConfig `mapstructure:"badger" yaml:"badger"`
}

// BadgerStoreConfig configures the BadgerDB session store.
type BadgerStoreConfig struct {
	// Path is the database directory.
	// Example: /var/lib/torrin/sessions
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory runs badger without disk persistence. Intended for tests.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`
}

// StorageConfig selects the storage driver.
type StorageConfig struct {
	// Type is "local" or "s3".
	// Default: local
	Type string `mapstructure:"type" validate:"omitempty,oneof=local s3" yaml:"type"`

	// Local holds filesystem driver settings, used when Type is "local".
	Local LocalStorageConfig `mapstructure:"local" yaml:"local"`

	// S3 holds S3 driver settings, used when Type is "s3".
	S3 S3StorageConfig `mapstructure:"s3" yaml:"s3"`
}

// LocalStorageConfig configures the local filesystem driver.
type LocalStorageConfig struct {
	// BaseDir is where finalized artifacts land.
	// Default: /var/lib/torrin/uploads
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`

	// TempDir is the chunk staging area.
	// Default: <BaseDir>/.staging
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`

	// PreserveFileName places artifacts at <BaseDir>/<uploadId>/<fileName>
	// instead of <BaseDir>/<uploadId><ext>.
	PreserveFileName bool `mapstructure:"preserve_file_name" yaml:"preserve_file_name"`
}

// S3StorageConfig configures the S3 multipart driver.
type S3StorageConfig struct {
	// Bucket is the target bucket (required when the s3 driver is selected).
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// KeyPrefix prefixes every object key.
	// Default: uploads/
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// Region is the AWS region.
	// Default: us-east-1
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials. When empty,
	// the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle addresses buckets as <endpoint>/<bucket>. Required by
	// most S3-compatible stores.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on. When disabled no collectors are
	// registered and /metrics returns 404.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Precedence (highest to lowest):
//  1. Environment variables (TORRIN_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and returns a user-friendly error when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  torrind init\n\n"+
				"Or specify a custom config file:\n"+
				"  torrind <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  torrind init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML format. The file is
// written with 0600 permissions since it may hold S3 credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures env var support and the config file search path.
// Environment variables use the TORRIN_ prefix with underscores, e.g.
// TORRIN_LOGGING_LEVEL=DEBUG or TORRIN_STORAGE_S3_BUCKET=my-bucket.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("TORRIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is not an
// error; the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom decode hooks for ByteSize and
// time.Duration fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can say "1Mi", "500Ki", or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings and numbers to time.Duration, so
// config files can say "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory, honoring
// XDG_CONFIG_HOME and falling back to ~/.config/torrin.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "torrin")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "torrin")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
