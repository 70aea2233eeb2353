package backoff

import (
	"context"
	"time"
)

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
// d <= 0 returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// SleepAttempt sleeps for Policy's computed delay at the given attempt.
func SleepAttempt(ctx context.Context, p Policy, attempt int) error {
	return Sleep(ctx, NextDelay(p, attempt))
}
