package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors. Struct tags cover value
// ranges and enums; cross-field rules that tags cannot express are checked
// explicitly.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Store.Type == "badger" && !cfg.Store.Badger.InMemory && cfg.Store.Badger.Path == "" {
		return fmt.Errorf("badger store requires store.badger.path to be set")
	}

	if cfg.Storage.Type == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires storage.s3.bucket to be set")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("s3 storage requires both access_key_id and secret_access_key, or neither")
		}
	}

	if cfg.Storage.Type == "local" && cfg.Storage.Local.BaseDir == "" {
		return fmt.Errorf("local storage requires storage.local.base_dir to be set")
	}

	return nil
}
