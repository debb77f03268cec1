package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: http.StatusServiceUnavailable}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		return "", &HTTPError{Status: http.StatusUnauthorized}
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error retried %d times", calls)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(3), func() (int, error) {
		calls++
		return 0, &HTTPError{Status: http.StatusTooManyRequests}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryDo(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: http.StatusInternalServerError}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: tt.status}
		if e.Retryable() != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, e.Retryable(), tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("2"); d != 2*time.Second {
		t.Errorf("ParseRetryAfter(2) = %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("ParseRetryAfter(empty) = %v", d)
	}
	if d := ParseRetryAfter("soon"); d != 0 {
		t.Errorf("ParseRetryAfter(garbage) = %v", d)
	}
}
