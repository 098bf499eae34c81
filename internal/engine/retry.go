package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for provider calls.
type RetryPolicy struct {
	MaxRetries   int           // maximum retry attempts (0 = no retries)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // delay cap
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add random jitter to delays
}

// DefaultRetryPolicy returns the default provider retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryProviderCall executes fn with exponential backoff. Non-retryable
// errors return immediately; "maybe" class errors get at most two attempts.
// onRetry, if set, is called before each sleep.
func retryProviderCall(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (LLMResponse, error), onRetry func(attempt int, delay time.Duration, err error)) (LLMResponse, error) {
	attempt := 0
	for {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}

		class := ClassOf(err)
		if class == RetryClassNonRetryable {
			return LLMResponse{}, err
		}
		if attempt >= policy.MaxRetries {
			return LLMResponse{}, &RetryExhaustedError{Err: err, Attempts: attempt}
		}
		if class == RetryClassMaybe && attempt >= 2 {
			return LLMResponse{}, &RetryExhaustedError{Err: err, Attempts: attempt}
		}

		delay := backoffDelay(policy, attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return LLMResponse{}, fmt.Errorf("cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
		attempt++
	}
}

// backoffDelay computes the delay for a retry attempt, honoring Retry-After
// when the provider supplied one.
func backoffDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if ra := retryAfterOf(err); ra > 0 {
		if ra > policy.MaxDelay {
			return policy.MaxDelay
		}
		return ra
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		// Up to 25% random jitter to avoid thundering herds.
		delay += delay * 0.25 * rand.Float64()
	}
	return time.Duration(delay)
}

// retryAfterOf extracts a Retry-After hint from a classified provider
// error. Returns 0 when absent or unparseable.
func retryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.RetryAfter == "" {
		return 0
	}
	var seconds int
	if _, scanErr := fmt.Sscanf(pe.RetryAfter, "%d", &seconds); scanErr == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, parseErr := time.Parse(time.RFC1123, pe.RetryAfter); parseErr == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
