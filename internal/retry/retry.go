// Package retry provides bounded retry loops with fixed or exponential delays.
//
// The target resolver polls for a workload that may still be starting, so the
// common case is a fixed delay between a small number of attempts:
//
//	cfg := retry.Config{
//	    MaxAttempts:    30,
//	    InitialBackoff: time.Second,
//	}
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return lookup()
//	}, nil)
//
// Setting Multiplier above 1 turns the delay into an exponential backoff
// capped at MaxBackoff.
//
// # Context Cancellation
//
// All retry operations respect context cancellation. If the context is canceled
// during a delay, the loop exits immediately with the context error.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
//
// The zero value is not usable; MaxAttempts must be set.
type Config struct {
	// MaxAttempts is the maximum number of calls to fn. Must be greater than 0.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// Multiplier grows the delay after each failed attempt.
	// Values <= 1 keep the delay fixed at InitialBackoff.
	Multiplier float64

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration

	// OnRetry, when set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ShouldRetryFunc determines if an error should trigger a retry.
// If nil is passed to Do, all errors are retried.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, the attempts are exhausted, shouldRetry
// rejects an error, or ctx is canceled.
//
// There is no delay before the first attempt. When all attempts fail the
// returned error wraps the last error from fn.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Backoff returns the delay applied before the given attempt (1-based retry index).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	backoff := cfg.InitialBackoff
	if cfg.Multiplier > 1 {
		backoff = time.Duration(math.Pow(cfg.Multiplier, float64(attempt-1)) * float64(cfg.InitialBackoff))
	}

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	return backoff
}
