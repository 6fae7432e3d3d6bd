// Package sink provides the destination backend capability: opening
// write-only artifact streams at logical paths on a local filesystem or an
// S3-compatible object store, plus the compression codecs that wrap them.
package sink

import (
	"context"
	"errors"
)

// Sentinel errors shared by all backends.
var (
	// ErrPathConflict indicates an artifact path already exists and the
	// backend cannot overwrite it safely.
	ErrPathConflict = errors.New("destination path already exists")
	// ErrBackendTimeout indicates a backend operation exceeded its bounded
	// timeout.
	ErrBackendTimeout = errors.New("backend operation timed out")
	// ErrStreamClosed indicates a write or close on an already-closed
	// artifact stream.
	ErrStreamClosed = errors.New("artifact stream already closed")
)

// Backend opens write-only byte streams at logical, slash-separated paths.
// Intermediate path segments are created on demand. Implementations must
// never silently overwrite an existing path.
type Backend interface {
	// Open creates a new artifact stream at path. Opening an existing path
	// fails with ErrPathConflict.
	Open(ctx context.Context, path string) (Stream, error)

	// Exists reports whether an artifact already occupies path.
	Exists(ctx context.Context, path string) (bool, error)
}

// Stream is one open output artifact: append-only, written sequentially,
// closed exactly once.
type Stream interface {
	// Write appends bytes to the artifact.
	Write(p []byte) (int, error)

	// Flush hands all buffered bytes to the backend's durable write path.
	Flush() error

	// Close flushes and releases the backend handle. A second Close
	// returns ErrStreamClosed.
	Close() error

	// Path returns the logical path the stream was opened at.
	Path() string
}
