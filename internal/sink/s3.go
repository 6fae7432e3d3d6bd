package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultS3Endpoint is used when no explicit endpoint is configured.
const defaultS3Endpoint = "s3.amazonaws.com"

// ErrEmptyBucket indicates an s3 backend configured without a bucket.
var ErrEmptyBucket = errors.New("s3 backend requires a bucket")

// S3Options configures the object-store backend.
type S3Options struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Timeout bounds every backend operation, including the final upload
	// drain on Close. Zero means no bound.
	Timeout time.Duration

	// Retries is the number of additional attempts for retryable failures.
	Retries int
}

// S3 is the object-store destination, backed by any S3-compatible service.
// Each open stream pipes bytes to an uploader goroutine, so writes are
// handed to the backend's write path as they happen rather than staged on
// local disk.
type S3 struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
	retries int
}

// NewS3 creates an s3 backend. Credentials fall back to the conventional
// AWS environment variables when not configured explicitly.
func NewS3(opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, ErrEmptyBucket
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}

	var creds *credentials.Credentials
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		retries: opts.Retries,
	}, nil
}

// Open starts a streaming upload to the object key derived from path. The
// upload runs until Close, so it is detached from the caller's context
// cancellation; Close applies the configured timeout instead.
func (s *S3) Open(ctx context.Context, path string) (Stream, error) {
	key := s.key(path)
	reader, writer := io.Pipe()

	done := make(chan error, 1)

	uploadCtx := context.WithoutCancel(ctx)

	go func() {
		_, putErr := s.client.PutObject(uploadCtx, s.bucket, key, reader, -1, minio.PutObjectOptions{
			ContentType: contentTypeFor(path),
		})
		// Unblock a writer that is mid-Write when the upload dies.
		_ = reader.CloseWithError(putErr)

		done <- putErr
	}()

	return &s3Stream{
		writer:  writer,
		done:    done,
		path:    path,
		timeout: s.timeout,
	}, nil
}

// Exists reports whether the object key derived from path is present.
// Retryable service errors are retried with backoff before escalating.
func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	key := s.key(path)

	var found bool

	statErr := withRetry(ctx, s.retries, func() error {
		opCtx, cancel := s.bound(ctx)
		defer cancel()

		_, err := s.client.StatObject(opCtx, s.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			found = true

			return nil
		}

		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			found = false

			return nil
		}

		return err
	})
	if statErr != nil {
		if errors.Is(statErr, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: stat %s", ErrBackendTimeout, key)
		}

		return false, fmt.Errorf("stat object: %w", statErr)
	}

	return found, nil
}

func (s *S3) key(path string) string {
	if s.prefix == "" {
		return path
	}

	return strings.TrimSuffix(s.prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (s *S3) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.timeout)
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".lz4"):
		return "application/x-lz4"
	default:
		return "application/x-ndjson"
	}
}

// s3Stream is one in-flight streaming upload.
type s3Stream struct {
	writer  *io.PipeWriter
	done    chan error
	path    string
	timeout time.Duration
	closed  bool
}

// Write hands bytes to the uploader, bounded by the configured timeout.
// A write stuck on a stalled upload poisons the stream: partial bytes may
// already be on the wire, so the upload cannot be resumed.
func (s *s3Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}

	if s.timeout <= 0 {
		return s.writer.Write(p)
	}

	type writeResult struct {
		n   int
		err error
	}

	results := make(chan writeResult, 1)

	go func() {
		n, err := s.writer.Write(p)
		results <- writeResult{n: n, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.n, res.err
	case <-timer.C:
		writeErr := fmt.Errorf("%w: write %s", ErrBackendTimeout, s.path)
		_ = s.writer.CloseWithError(writeErr)

		return 0, writeErr
	}
}

// Flush is a no-op: every Write is already handed to the uploader through
// the pipe, which is the backend's write path.
func (s *s3Stream) Flush() error {
	if s.closed {
		return ErrStreamClosed
	}

	return nil
}

// Close finishes the upload and waits for the backend to acknowledge it,
// bounded by the configured timeout.
func (s *s3Stream) Close() error {
	if s.closed {
		return ErrStreamClosed
	}

	s.closed = true

	closeErr := s.writer.Close()
	if closeErr != nil {
		return fmt.Errorf("close upload pipe: %w", closeErr)
	}

	var timeoutCh <-chan time.Time

	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()

		timeoutCh = timer.C
	}

	select {
	case uploadErr := <-s.done:
		if uploadErr != nil {
			return fmt.Errorf("finish upload: %w", uploadErr)
		}

		return nil
	case <-timeoutCh:
		return fmt.Errorf("%w: upload %s", ErrBackendTimeout, s.path)
	}
}

func (s *s3Stream) Path() string {
	return s.path
}
