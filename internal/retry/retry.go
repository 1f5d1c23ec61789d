// Package retry provides bounded exponential backoff for transient
// failures: remote ledger operations and external-process readiness polls.
//
// Every wait is cancellable through the context, and exhausting the budget
// returns an explicit ErrTimeout wrapping the last attempt's error, with no
// fixed retry counters buried in helpers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout indicates the retry budget was exhausted. The last attempt's
// error is wrapped and reachable with errors.Unwrap.
var ErrTimeout = errors.New("retry budget exhausted")

// Policy bounds a retry loop.
type Policy struct {
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxAttempts limits the number of attempts. Zero means attempts are
	// bounded by MaxElapsed only.
	MaxAttempts int

	// MaxElapsed bounds the total time spent, including waits. Zero means
	// time is bounded by MaxAttempts only.
	MaxElapsed time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for transient network failures:
// five attempts, 250ms initial delay doubling up to 4s.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		MaxAttempts:  5,
	}
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is
// cancelled. A non-retryable error is returned immediately.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts == 0 && p.MaxElapsed == 0 {
		return fmt.Errorf("retry policy must bound attempts or elapsed time")
	}

	start := time.Now()
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			break
		}
		if p.MaxElapsed > 0 && time.Since(start)+delay > p.MaxElapsed {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("%w after %s: %w", ErrTimeout, time.Since(start).Round(time.Millisecond), lastErr)
}
