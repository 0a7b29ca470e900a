// Package retry is a bounded backoff helper for IO boundaries: checkpoint
// writes and upstream API calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry marks an error as worth another attempt. Wrap it (errors.Join or
// a custom Unwrap) to request a retry from Do.
var ErrRetry = errors.New("retry")

// Backoff blocks until the next attempt may run, or returns early with the
// context error.
type Backoff func(context.Context) error

// Static waits a fixed interval between attempts.
func Static(interval time.Duration) Backoff {
	return Exponential(interval, 1)
}

// Exponential waits initial, then initial*multiplier, and so on. Each call
// advances the interval.
func Exponential(initial time.Duration, multiplier float64) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * multiplier)
			return nil
		}
	}
}

// Do calls f up to attempts times, backing off between tries. Only errors
// marked with ErrRetry trigger another attempt; anything else, and context
// cancellation, return immediately. Exhausting the attempts returns the
// last error wrapped with the attempt count.
func Do[T any](ctx context.Context, attempts int, b Backoff, f func() (T, error)) (T, error) {
	var last T
	if attempts <= 0 {
		return last, fmt.Errorf("attempts must be positive, got %d", attempts)
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := b(ctx); err != nil {
				return last, err
			}
		}
		last, lastErr = f()
		if lastErr == nil {
			return last, nil
		}
		if !errors.Is(lastErr, ErrRetry) {
			return last, lastErr
		}
	}
	return last, fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
