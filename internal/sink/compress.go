package sink

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Compression selects the artifact serialization+compression scheme. The
// scheme determines the artifact extension.
type Compression string

// Supported compression schemes.
const (
	// CompressionGzip produces .singer.gz artifacts (the default, matching
	// the layout consumed by tap-singer-jsonl).
	CompressionGzip Compression = "gzip"
	// CompressionLZ4 produces .singer.lz4 artifacts.
	CompressionLZ4 Compression = "lz4"
	// CompressionNone produces uncompressed .singer artifacts.
	CompressionNone Compression = "none"
)

// ErrUnknownCompression indicates an unsupported compression scheme name.
var ErrUnknownCompression = errors.New("unknown compression scheme")

// ParseCompression maps a configuration string to a Compression value.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionGzip, CompressionLZ4, CompressionNone:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// Ext returns the artifact filename extension for the scheme, including the
// leading dot.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".singer.gz"
	case CompressionLZ4:
		return ".singer.lz4"
	default:
		return ".singer"
	}
}

// flushWriter is the subset of the gzip and lz4 writer APIs the compressed
// stream relies on.
type flushWriter interface {
	io.WriteCloser
	Flush() error
}

// compressedStream layers a compression codec over a backend stream.
type compressedStream struct {
	inner Stream
	codec flushWriter
}

// Compress wraps stream with the given scheme. CompressionNone returns the
// stream unchanged.
func Compress(stream Stream, scheme Compression) Stream {
	switch scheme {
	case CompressionGzip:
		return &compressedStream{inner: stream, codec: gzip.NewWriter(stream)}
	case CompressionLZ4:
		return &compressedStream{inner: stream, codec: lz4.NewWriter(stream)}
	default:
		return stream
	}
}

func (c *compressedStream) Write(p []byte) (int, error) {
	return c.codec.Write(p)
}

// Flush drains the codec and then the backend stream, so every byte written
// so far is on the backend's durable write path.
func (c *compressedStream) Flush() error {
	codecErr := c.codec.Flush()
	if codecErr != nil {
		return fmt.Errorf("flush codec: %w", codecErr)
	}

	return c.inner.Flush()
}

func (c *compressedStream) Close() error {
	codecErr := c.codec.Close()
	if codecErr != nil {
		// Still release the backend handle.
		_ = c.inner.Close()

		return fmt.Errorf("close codec: %w", codecErr)
	}

	return c.inner.Close()
}

func (c *compressedStream) Path() string {
	return c.inner.Path()
}
