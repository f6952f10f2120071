package utils

import (
	"context"
	"math"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// BackoffFactor multiplies the delay after each attempt. Zero selects
	// linear backoff: InitialDelay × attempt.
	BackoffFactor float64
	// Retryable filters errors worth another attempt. Nil retries all.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// LinearRetryConfig waits base, 2×base, 3×base... between attempts.
func LinearRetryConfig(attempts int, base time.Duration) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: base}
}

// Retry executes fn until it succeeds, attempts run out or ctx is done.
// fn receives the 1-based attempt number.
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	_, _, err := RetryWithResult(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// RetryWithResult is Retry for functions returning a value. It also
// reports how many attempts were made.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, attempt, err
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			return zero, attempt, lastErr
		}
		if err := Sleep(ctx, CalculateBackoff(cfg, attempt)); err != nil {
			return zero, attempt, err
		}
	}
	return zero, cfg.MaxAttempts, lastErr
}

// RetryLinear runs fn up to attempts times with linear backoff.
func RetryLinear[T any](ctx context.Context, attempts int, base time.Duration, fn func(attempt int) (T, error)) (T, int, error) {
	return RetryWithResult(ctx, LinearRetryConfig(attempts, base), fn)
}

// CalculateBackoff returns the delay after the given 1-based attempt.
func CalculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	var delay float64
	if cfg.BackoffFactor == 0 {
		delay = float64(cfg.InitialDelay) * float64(attempt)
	} else {
		delay = float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
