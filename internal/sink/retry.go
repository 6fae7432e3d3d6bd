package sink

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
)

// retryBaseDelay is the first backoff interval.
const retryBaseDelay = 250 * time.Millisecond

// retryMaxDelay caps the backoff interval.
const retryMaxDelay = 5 * time.Second

// withRetry runs op, retrying up to retries additional times with doubling
// backoff when the failure is retryable. Non-retryable failures escalate
// immediately.
func withRetry(ctx context.Context, retries int, op func() error) error {
	delay := retryBaseDelay

	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) || attempt == retries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return lastErr
}

// retryable reports whether the backend explicitly signalled a recoverable
// condition: throttling, server-side 5xx, or a transient network failure.
func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "SlowDown" || resp.Code == "RequestTimeout" {
		return true
	}

	return resp.StatusCode >= http.StatusInternalServerError
}
