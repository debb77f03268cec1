package providers

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-2xx provider response. Status decides retryability;
// RetryAfter, when set, overrides the backoff delay.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is transient: rate limits and
// server-side errors retry, client errors do not.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value in seconds form.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig bounds RetryDo. MaxAttempts counts the first try.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff and jitter. Non-retryable HTTP
// errors and context cancellation return immediately; the last error is
// returned once attempts are exhausted.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt, lastErr)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

func backoffDelay(cfg RetryConfig, attempt int, lastErr error) time.Duration {
	if httpErr, ok := lastErr.(*HTTPError); ok && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	delay := cfg.BaseDelay << (attempt - 1)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// up to 25% jitter to spread synchronized retries
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}
