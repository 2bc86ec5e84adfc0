package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a bounded exponential backoff.
// The first attempt is immediate; attempt n (n >= 2) waits
// Backoff * 2^(n-2) first, giving 0.5s, 1s, 2s for the default backoff.
type Policy struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// Backoff is the wait before the first retry.
	Backoff time.Duration
}

// Attempts returns the total number of attempts, Retries + 1.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 || p.Backoff <= 0 {
		return 0
	}
	return p.Backoff << (retry - 1)
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
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

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// are exhausted, or ctx is done. It returns the number of attempts made and
// the last error, with any Permanent wrapper removed.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := Wait(ctx, p.Delay(attempt-1)); err != nil {
				return attempt - 1, interrupted(err, lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, interrupted(err, lastErr)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return attempt, pe.err
		}
		lastErr = err
	}

	return attempts, lastErr
}

// interrupted combines a context error with the last attempt error so
// that both remain visible to errors.Is.
func interrupted(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last attempt: %w)", ctxErr, lastErr)
}
