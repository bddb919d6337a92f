package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy encapsulates the retry/backoff contract for transient API
// failures. It is independent of HTTP so it can be tested in isolation.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64

	// Logger receives retry warnings. Zero value logs nowhere useful, so
	// callers normally pass a component logger.
	Logger zerolog.Logger
}

// DefaultRetryPolicy returns the policy used against the EasyEcom API:
// up to 10 attempts with exponential backoff and jitter. The vendor rate
// limits aggressively, so the ceiling is generous.
func DefaultRetryPolicy(logger zerolog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Logger:            logger,
	}
}

// Execute runs fn until it succeeds, fails with a non-retriable error, or
// exhausts MaxAttempts. Waits grow exponentially with ±20% jitter to avoid
// synchronized retry storms. The last error is surfaced unchanged, wrapped
// with ErrRetryExhausted once attempts run out.
func (p RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				p.Logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		class := Classify(err)
		if !retriableClass(class) {
			return lastErr
		}

		if attempt >= p.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		p.Logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			p.Logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(string(Classify(lastErr))).Inc()
	p.Logger.Error().
		Err(lastErr).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, p.MaxAttempts, lastErr)
}
