// Package config defines tapsink's static configuration: destination
// selection, backend parameters, and processing knobs. Loaded once at
// start-up; the core receives it as an immutable object.
package config

import (
	"errors"
	"time"
)

// Destination variants.
const (
	// DestinationLocal writes artifacts under a root folder on disk.
	DestinationLocal = "local"
	// DestinationS3 writes artifacts to an S3-compatible object store.
	DestinationS3 = "s3"
)

// Config is the top-level configuration struct for tapsink.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Destination       string        `mapstructure:"destination"         yaml:"destination"`
	AddRecordMetadata bool          `mapstructure:"add_record_metadata" yaml:"add_record_metadata"`
	Compression       string        `mapstructure:"compression"         yaml:"compression"`
	BackendTimeout    time.Duration `mapstructure:"backend_timeout"     yaml:"backend_timeout"`
	BackendRetries    int           `mapstructure:"backend_retries"     yaml:"backend_retries"`
	MetricsAddr       string        `mapstructure:"metrics_addr"        yaml:"metrics_addr"`
	LogLevel          string        `mapstructure:"log_level"           yaml:"log_level"`

	Local LocalConfig `mapstructure:"local" yaml:"local"`
	S3    S3Config    `mapstructure:"s3"    yaml:"s3"`
}

// LocalConfig holds local-destination parameters.
type LocalConfig struct {
	Folder string `mapstructure:"folder" yaml:"folder"`
}

// S3Config holds object-store destination parameters. Credentials may be
// omitted to fall back to the conventional AWS environment variables.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"     yaml:"bucket"`
	Prefix    string `mapstructure:"prefix"     yaml:"prefix"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint"`
	Region    string `mapstructure:"region"     yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"    yaml:"use_ssl"`
}

// Sentinel errors for configuration validation.
var (
	// ErrUnsupportedDestination indicates a destination outside {local, s3}.
	ErrUnsupportedDestination = errors.New("destination must be one of: local, s3")
	// ErrMissingLocalFolder indicates the local destination has no folder.
	ErrMissingLocalFolder = errors.New("local.folder is required for the local destination")
	// ErrMissingS3Bucket indicates the s3 destination has no bucket.
	ErrMissingS3Bucket = errors.New("s3.bucket is required for the s3 destination")
	// ErrInvalidCompression indicates an unsupported compression scheme.
	ErrInvalidCompression = errors.New("compression must be one of: gzip, lz4, none")
	// ErrInvalidBackendTimeout indicates a negative backend timeout.
	ErrInvalidBackendTimeout = errors.New("backend_timeout must be non-negative")
	// ErrInvalidBackendRetries indicates a negative retry count.
	ErrInvalidBackendRetries = errors.New("backend_retries must be non-negative")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("log_level must be one of: debug, info, warn, error")
)

// Validate checks Config invariants and returns the first error found.
// All configuration errors are fatal before any message is processed.
func (c *Config) Validate() error {
	switch c.Destination {
	case DestinationLocal:
		if c.Local.Folder == "" {
			return ErrMissingLocalFolder
		}
	case DestinationS3:
		if c.S3.Bucket == "" {
			return ErrMissingS3Bucket
		}
	default:
		return ErrUnsupportedDestination
	}

	switch c.Compression {
	case "gzip", "lz4", "none":
	default:
		return ErrInvalidCompression
	}

	if c.BackendTimeout < 0 {
		return ErrInvalidBackendTimeout
	}

	if c.BackendRetries < 0 {
		return ErrInvalidBackendRetries
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}
