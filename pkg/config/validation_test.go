package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_InvalidStoreType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "redis"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown store type")
	}
}

func TestValidate_BadgerWithoutPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "badger"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for badger store without path")
	}
	if !strings.Contains(err.Error(), "badger") {
		t.Errorf("Expected error about badger path, got: %v", err)
	}

	cfg.Store.Badger.InMemory = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected in-memory badger to validate without a path, got: %v", err)
	}
}

func TestValidate_S3WithoutBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "s3"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for s3 storage without bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected error about s3 bucket, got: %v", err)
	}
}

func TestValidate_S3PartialCredentials(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "s3"
	cfg.Storage.S3.Bucket = "torrin-artifacts"
	cfg.Storage.S3.AccessKeyID = "AKIA123"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for access key without secret")
	}
	if !strings.Contains(err.Error(), "secret_access_key") {
		t.Errorf("Expected error about credentials, got: %v", err)
	}
}

func TestValidate_LocalWithoutBaseDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Local.BaseDir = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for local storage without base_dir")
	}
}
