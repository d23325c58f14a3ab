// Package retry provides the two higher-order retry policies shared by
// every worker role (spec.md §4.1.1): fixed-interval and exponential with a
// global wall-clock deadline. Both re-raise the terminal error unchanged
// once exhausted.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/louisb0/talos/internal/platform/metrics"
)

// Op is an operation to retry. ctx is threaded through so the op can honor
// cancellation even mid-backoff.
type Op func(ctx context.Context) error

// Retryable classifies an error as one this policy should retry.
type Retryable func(error) bool

// Fixed retries op up to attempts times with a constant delay between
// attempts, retrying only errors retryable accepts. Non-retryable errors
// re-raise immediately.
func Fixed(ctx context.Context, component string, attempts int, delay time.Duration, retryable Retryable, op Op) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		metrics.RetriesTotal.WithLabelValues(component, "fixed").Inc()
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Exponential retries op with exponential backoff bounded by [minDelay,
// maxDelay], ceasing after deadline has elapsed since the first attempt
// (not after a fixed attempt count), retrying only errors retryable
// accepts.
func Exponential(ctx context.Context, component string, minDelay, maxDelay, deadline time.Duration, retryable Retryable, op Op) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minDelay
	bo.MaxInterval = maxDelay
	bo.MaxElapsedTime = deadline
	bo.Multiplier = 2.0

	bctx := backoff.WithContext(bo, ctx)

	var lastErr error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			// permanent: stop retrying, propagate unchanged below
			return backoff.Permanent(lastErr)
		}
		if attempt > 1 {
			metrics.RetriesTotal.WithLabelValues(component, "exponential").Inc()
		}
		return lastErr
	}, bctx)

	if err == nil {
		return nil
	}
	// backoff.Retry wraps permanent errors; unwrap back to the original.
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Unwrap()
	}
	return lastErr
}
