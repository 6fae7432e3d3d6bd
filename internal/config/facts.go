package config

import "time"

// Default configuration values.
const (
	// DefaultDestination selects the local filesystem backend.
	DefaultDestination = DestinationLocal
	// DefaultAddRecordMetadata enables the metadata injector.
	DefaultAddRecordMetadata = true
	// DefaultCompression is the artifact compression scheme.
	DefaultCompression = "gzip"
	// DefaultBackendTimeout bounds every backend operation.
	DefaultBackendTimeout = 30 * time.Second
	// DefaultBackendRetries is the number of additional attempts for retryable backend failures.
	DefaultBackendRetries = 3
	// DefaultLogLevel is the stderr log level.
	DefaultLogLevel = "info"
	// DefaultLocalFolder is the local destination root.
	DefaultLocalFolder = "output"
	// DefaultS3UseSSL enables TLS for object-store connections.
	DefaultS3UseSSL = true
)
