package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverErr() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad gateway"}, StatusCode: 502, Retryable: true}}
}

// scripted fails with errs in order, then succeeds with "ok".
type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) attempt(context.Context) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "ok", nil
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 1, Factor: 2, MaxDelay: 60}
	for n, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		assert.Equal(t, want, p.Delay(n+1), "attempt %d", n+1)
	}
	assert.Equal(t, time.Second, p.Delay(0), "attempts below one use the base delay")

	capped := RetryPolicy{BaseDelay: 1, Factor: 2, MaxDelay: 5, Jitter: 0.5}
	assert.Equal(t, 5*time.Second, capped.Delay(10))

	jittered := RetryPolicy{BaseDelay: 1, Factor: 2, MaxDelay: 60, Jitter: 0.5}
	for range 100 {
		d := jittered.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2500*time.Millisecond)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 1.0, p.BaseDelay)
	assert.Equal(t, 2.0, p.Factor)
	assert.Equal(t, 30.0, p.MaxDelay)
	assert.Equal(t, 0.5, p.Jitter)
}

func TestRetryOutcomes(t *testing.T) {
	authErr := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "invalid key"}, StatusCode: 401}}
	unknown := errors.New("boom")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		check     func(t *testing.T, result string, err error)
	}{
		{
			name:      "succeeds first time",
			wantCalls: 1,
			check: func(t *testing.T, result string, err error) {
				require.NoError(t, err)
				assert.Equal(t, "ok", result)
			},
		},
		{
			name:      "recovers after transient failures",
			errs:      []error{serverErr(), &NetworkError{SDKError: SDKError{Message: "reset"}}},
			wantCalls: 3,
			check: func(t *testing.T, result string, err error) {
				require.NoError(t, err)
				assert.Equal(t, "ok", result)
			},
		},
		{
			name:      "fatal error is not retried",
			errs:      []error{authErr},
			wantCalls: 1,
			check: func(t *testing.T, _ string, err error) {
				var fatal *FatalCallError
				require.ErrorAs(t, err, &fatal)
				assert.ErrorIs(t, err, authErr)
			},
		},
		{
			name:      "unknown error propagates unchanged",
			errs:      []error{unknown},
			wantCalls: 1,
			check: func(t *testing.T, _ string, err error) {
				assert.Same(t, unknown, err)
			},
		},
		{
			name:      "attempts run out",
			errs:      []error{serverErr(), serverErr(), serverErr(), serverErr()},
			wantCalls: 3,
			check: func(t *testing.T, _ string, err error) {
				var transient *TransientCallError
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, 3, transient.Attempts)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scripted{errs: tt.errs}
			result, err := Retry(context.Background(), fastPolicy(3), s.attempt)
			tt.check(t, result, err)
			assert.Equal(t, tt.wantCalls, s.calls)
		})
	}
}

func TestRetryReportsEachRetry(t *testing.T) {
	policy := fastPolicy(3)
	var attempts []int
	policy.OnRetry = func(_ error, attempt int, _ time.Duration) { attempts = append(attempts, attempt) }

	s := &scripted{errs: []error{serverErr(), serverErr(), serverErr()}}
	_, err := Retry(context.Background(), policy, s.attempt)
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryAfterIsCappedAtMaxDelay(t *testing.T) {
	wait := 120.0
	limited := &RateLimitError{ProviderError: ProviderError{
		SDKError: SDKError{Message: "slow down"}, StatusCode: 429, Retryable: true, RetryAfter: &wait,
	}}
	policy := fastPolicy(3)
	policy.MaxDelay = 0.01
	var delays []time.Duration
	policy.OnRetry = func(_ error, _ int, d time.Duration) { delays = append(delays, d) }

	s := &scripted{errs: []error{limited, limited, limited}}
	_, err := Retry(context.Background(), policy, s.attempt)

	var transient *TransientCallError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, delays)

	s = &scripted{errs: []error{limited}}
	result, err := Retry(context.Background(), policy, s.attempt)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, s.calls)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 1, Factor: 1, MaxDelay: 1}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	s := &scripted{errs: []error{serverErr(), serverErr()}}
	_, err := Retry(ctx, policy, s.attempt)

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 1, s.calls)
}
