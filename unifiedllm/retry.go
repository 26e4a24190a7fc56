package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
// Durations are expressed in seconds.
type RetryPolicy struct {
	MaxAttempts int     // total attempts, including the first
	BaseDelay   float64 // delay before the second attempt
	Factor      float64 // exponential backoff factor
	MaxDelay    float64 // upper bound for any single delay
	Jitter      float64 // uniform random extra in [0, Jitter)
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   1.0,
		Factor:      2.0,
		MaxDelay:    30.0,
		Jitter:      0.5,
	}
}

// Delay calculates the wait after failed attempt n (1-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay * math.Pow(p.Factor, float64(attempt-1))
	if p.Jitter > 0 {
		delay += rand.Float64() * p.Jitter
	}
	delay = math.Min(delay, p.MaxDelay)
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn with the configured retry policy.
//
// Only retryable errors are retried. A fatal error is returned as
// *FatalCallError after the first failure, an unclassified error is returned
// unchanged, and running out of attempts yields *TransientCallError wrapping
// the last failure. Cancellation of ctx while waiting or during an attempt
// yields *AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := max(policy.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, abortError(ctx, err)
		}

		switch Classify(err) {
		case ClassFatal:
			return zero, &FatalCallError{Cause: err}
		case ClassUnknown:
			return zero, err
		}

		if attempt >= maxAttempts {
			return zero, &TransientCallError{Attempts: attempt, Cause: err}
		}

		// Honor Retry-After on rate limit errors, capped at MaxDelay.
		delay := policy.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter != nil {
			retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
			delay = min(retryDelay, time.Duration(policy.MaxDelay*float64(time.Second)))
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, abortError(ctx, err)
		case <-time.After(delay):
		}
	}
}

func abortError(ctx context.Context, last error) error {
	var ab *AbortError
	if errors.As(last, &ab) {
		return ab
	}
	return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
}
