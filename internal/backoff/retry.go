package backoff

import (
	"context"
	"errors"
)

// ErrExhausted is returned once maxAttempts have all failed.
var ErrExhausted = errors.New("backoff: retry attempts exhausted")

// Outcome carries the result of a Do call alongside how many attempts
// it actually took, so callers that log attempt counts (provider retry
// logging, subagent retry telemetry) don't need a second return value
// threaded through.
type Outcome[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// Do runs fn under policy p, retrying up to maxAttempts times and
// sleeping between failures. fn's attempt argument is 1-indexed.
// Context cancellation is checked before every attempt and during
// every inter-attempt sleep.
func Do[T any](ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) (T, error)) (Outcome[T], error) {
	var out Outcome[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return out, err
		}

		value, err := fn(attempt)
		if err == nil {
			out.Value = value
			return out, nil
		}
		out.LastError = err

		if attempt < maxAttempts {
			if sleepErr := SleepAttempt(ctx, p, attempt); sleepErr != nil {
				return out, sleepErr
			}
		}
	}
	return out, ErrExhausted
}

// Retry is Do for operations with no success value.
func Retry(ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) error) error {
	_, err := Do(ctx, p, maxAttempts, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}
