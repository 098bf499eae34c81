package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   RetryClass
	}{
		{"rate limit status", errors.New("429"), http.StatusTooManyRequests, RetryClassRetryable},
		{"server error status", errors.New("boom"), http.StatusBadGateway, RetryClassRetryable},
		{"unauthorized status", errors.New("nope"), http.StatusUnauthorized, RetryClassNonRetryable},
		{"bad request status", errors.New("bad"), http.StatusBadRequest, RetryClassNonRetryable},
		{"rate limit text", errors.New("rate limit exceeded, slow down"), 0, RetryClassRetryable},
		{"connection refused text", errors.New("dial tcp: connection refused"), 0, RetryClassRetryable},
		{"timeout text", errors.New("context deadline exceeded"), 0, RetryClassMaybe},
		{"invalid key text", errors.New("invalid api key provided"), 0, RetryClassNonRetryable},
		{"unclassified", errors.New("something odd"), 0, RetryClassNonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProviderError(tt.err, tt.status); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassOfUnwrapsProviderError(t *testing.T) {
	wrapped := WrapProviderError(errors.New("boom"), http.StatusServiceUnavailable, "")
	if got := ClassOf(wrapped); got != RetryClassRetryable {
		t.Errorf("got %s, want retryable", got)
	}
	if got := ClassOf(errors.New("plain")); got != RetryClassNonRetryable {
		t.Errorf("plain error class = %s, want non-retryable", got)
	}
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	resp, err := retryProviderCall(context.Background(), fastPolicy(), func(context.Context) (LLMResponse, error) {
		attempts++
		if attempts < 3 {
			return LLMResponse{}, WrapProviderError(errors.New("overloaded"), http.StatusServiceUnavailable, "")
		}
		return LLMResponse{FinishReason: "stop"}, nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("lost response: %+v", resp)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	_, err := retryProviderCall(context.Background(), fastPolicy(), func(context.Context) (LLMResponse, error) {
		attempts++
		return LLMResponse{}, WrapProviderError(errors.New("invalid api key"), http.StatusUnauthorized, "")
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("non-retryable error was retried %d times", attempts-1)
	}
	if IsRetryExhausted(err) {
		t.Error("non-retryable failure mislabeled as exhaustion")
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	_, err := retryProviderCall(context.Background(), fastPolicy(), func(context.Context) (LLMResponse, error) {
		attempts++
		return LLMResponse{}, WrapProviderError(errors.New("overloaded"), http.StatusServiceUnavailable, "")
	}, nil)
	if !IsRetryExhausted(err) {
		t.Fatalf("got %v, want retry exhaustion", err)
	}
	if attempts != 4 {
		t.Errorf("got %d attempts, want 4 (1 + 3 retries)", attempts)
	}
}

func TestRetryMaybeClassGetsReducedBudget(t *testing.T) {
	attempts := 0
	_, err := retryProviderCall(context.Background(), fastPolicy(), func(context.Context) (LLMResponse, error) {
		attempts++
		return LLMResponse{}, WrapProviderError(errors.New("request timeout"), 0, "")
	}, nil)
	if !IsRetryExhausted(err) {
		t.Fatalf("got %v, want retry exhaustion", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3 (maybe class caps at 2 retries)", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy()
	policy.InitialDelay = time.Hour // force the sleep to be the exit path
	policy.MaxDelay = time.Hour

	done := make(chan error, 1)
	go func() {
		_, err := retryProviderCall(ctx, policy, func(context.Context) (LLMResponse, error) {
			return LLMResponse{}, WrapProviderError(errors.New("overloaded"), http.StatusServiceUnavailable, "")
		}, nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	policy := fastPolicy()
	policy.MaxDelay = 10 * time.Second

	err := WrapProviderError(errors.New("rate limit"), http.StatusTooManyRequests, "3")
	if d := backoffDelay(policy, 0, err); d != 3*time.Second {
		t.Errorf("got delay %v, want 3s from Retry-After", d)
	}

	// Retry-After above the cap is clamped.
	err = WrapProviderError(errors.New("rate limit"), http.StatusTooManyRequests, "999")
	if d := backoffDelay(policy, 0, err); d != policy.MaxDelay {
		t.Errorf("got delay %v, want cap %v", d, policy.MaxDelay)
	}

	// No hint falls back to exponential backoff.
	err = WrapProviderError(errors.New("overloaded"), http.StatusServiceUnavailable, "")
	d0 := backoffDelay(policy, 0, err)
	d2 := backoffDelay(policy, 2, err)
	if d2 <= d0 {
		t.Errorf("backoff not increasing: attempt0=%v attempt2=%v", d0, d2)
	}
}
