// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned once every attempt has failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Backoff describes a bounded exponential schedule. The delay before attempt
// n (n >= 2) is Base * 2^(n-2), capped at Max.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before the given attempt. The first attempt never waits.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 || b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 2; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The attempt number passed to fn starts at 1.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if delay := b.Delay(attempt); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	cause := lastErr
	if r, ok := lastErr.(*retryableError); ok {
		cause = r.err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, cause)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err so that Do tries again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
