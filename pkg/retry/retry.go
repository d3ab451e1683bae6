// Package retry repeats a whole attempt a bounded number of times with a
// fixed pause between attempts.
package retry

import (
	"context"
	"time"

	"github.com/rexliu/vsockpep/pkg/core"
)

// Policy describes how often to try and how long to wait in between.
type Policy struct {
	// MaxAttempts is the total number of attempts; values below 1 mean 1.
	MaxAttempts int
	// Interval is the fixed pause between attempts.
	Interval time.Duration
	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable decides whether a failure is worth another attempt. Nil
	// uses core.IsRetryable.
	Retryable func(error) bool
}

// Once is a single best-effort attempt; callers handle retry themselves.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Fixed retries up to attempts times, pausing interval between attempts.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns how many attempts ran and the last
// error observed. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = core.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || !retryable(lastErr) {
			return attempt, lastErr
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return attempt, lastErr
		}
	}
	return attempts, lastErr
}

// Value is Do for attempts that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var result T
	attempts, err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, attempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
