package provider

import (
	"context"
	"time"

	"github.com/nexuscore/agentcore/internal/backoff"
)

// retrier holds shared retry configuration for LLM providers. Backoff
// timing itself is delegated to internal/backoff rather than
// hand-rolled here, so provider retries, subagent empty-response
// retries, and actor restart supervision all scale the same way.
type retrier struct {
	name   string
	policy backoff.Policy
	max    int
}

func newRetrier(name string, maxRetries int, retryDelay time.Duration) retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return retrier{
		name: name,
		max:  maxRetries,
		policy: backoff.Policy{
			Initial: retryDelay,
			Max:     retryDelay * time.Duration(maxRetries),
			Factor:  2,
			Jitter:  0.1,
		},
	}
}

// Retry executes op while isRetryable(err) holds, sleeping between
// attempts per b's policy. Delay computation and the inter-attempt
// sleep are delegated to internal/backoff rather than hand-rolled.
func (b *retrier) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.max {
			break
		}
		if sleepErr := backoff.Sleep(ctx, backoff.NextDelay(b.policy, attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}
