package client

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testPolicy returns a policy with sub-millisecond waits so tests stay fast.
func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        8 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Logger:            zerolog.Nop(),
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy(zerolog.Nop())

	if p.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", p.MaxAttempts)
	}
	if p.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", p.InitialBackoff)
	}
	if p.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", p.MaxBackoff)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", p.BackoffMultiplier)
	}
}

func TestExecute_Success(t *testing.T) {
	callCount := 0
	err := testPolicy(10).Execute(context.Background(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("calls = %d, want 1", callCount)
	}
}

func TestExecute_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := testPolicy(10).Execute(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return &APIError{StatusCode: 503, Class: ErrorClassServer}
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("calls = %d, want 3", callCount)
	}
}

func TestExecute_ExhaustsAtMaxAttempts(t *testing.T) {
	callCount := 0
	apiErr := &APIError{StatusCode: 502, Class: ErrorClassServer, Stream: "products"}
	err := testPolicy(10).Execute(context.Background(), func() error {
		callCount++
		return apiErr
	})

	if callCount != 10 {
		t.Errorf("calls = %d, want exactly 10", callCount)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Execute() error = %v, want ErrRetryExhausted", err)
	}

	// The original error surfaces unchanged under the wrapper.
	var got *APIError
	if !errors.As(err, &got) || got != apiErr {
		t.Errorf("Execute() error = %v, want original APIError preserved", err)
	}
}

func TestExecute_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	err := testPolicy(10).Execute(context.Background(), func() error {
		callCount++
		return &APIError{StatusCode: 404, Class: ErrorClassClient}
	})

	if callCount != 1 {
		t.Errorf("calls = %d, want 1 (no retry for client errors)", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("client errors must not report ErrRetryExhausted")
	}
}

func TestExecute_UnclassifiedErrorNoRetry(t *testing.T) {
	callCount := 0
	authErr := errors.New("auth response malformed")
	err := testPolicy(10).Execute(context.Background(), func() error {
		callCount++
		return authErr
	})

	if callCount != 1 {
		t.Errorf("calls = %d, want 1", callCount)
	}
	if !errors.Is(err, authErr) {
		t.Errorf("Execute() error = %v, want original auth error", err)
	}
}

func TestExecute_NetworkErrorRetried(t *testing.T) {
	callCount := 0
	netErr := &url.Error{Op: "Get", URL: "https://api.easyecom.io", Err: errors.New("read timeout")}
	err := testPolicy(3).Execute(context.Background(), func() error {
		callCount++
		return netErr
	})

	if callCount != 3 {
		t.Errorf("calls = %d, want 3", callCount)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Execute() error = %v, want ErrRetryExhausted", err)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := testPolicy(10)
	policy.InitialBackoff = 100 * time.Millisecond

	callCount := 0
	err := policy.Execute(ctx, func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return &APIError{StatusCode: 503, Class: ErrorClassServer}
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Execute() error = %v, want ErrContextCancelled", err)
	}
	if callCount != 1 {
		t.Errorf("calls = %d, want 1 (cancelled before second attempt)", callCount)
	}
}

func TestExecute_ExponentialBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    40 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Logger:            zerolog.Nop(),
	}

	var timestamps []time.Time
	_ = policy.Execute(context.Background(), func() error {
		timestamps = append(timestamps, time.Now())
		return &APIError{StatusCode: 503, Class: ErrorClassServer}
	})

	if len(timestamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(timestamps))
	}

	// Jitter is ±20%, so the first wait lands in [32ms, 48ms] and the
	// second in [64ms, 96ms]. Allow slack for scheduler noise.
	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	if firstDelay < 30*time.Millisecond || firstDelay > 120*time.Millisecond {
		t.Errorf("first delay %v outside expected range", firstDelay)
	}
	if secondDelay < 60*time.Millisecond || secondDelay > 240*time.Millisecond {
		t.Errorf("second delay %v outside expected range", secondDelay)
	}
}

func TestExecute_MaxBackoffCap(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff:    time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 10.0,
	}

	backoff := policy.InitialBackoff
	for i := 0; i < 3; i++ {
		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	if backoff != policy.MaxBackoff {
		t.Errorf("backoff = %v, want capped at %v", backoff, policy.MaxBackoff)
	}
}
