// Package backoff computes exponential-backoff-with-jitter delays. It
// backs three call sites in this tree: provider retries
// (internal/provider/retry.go), subagent empty-response retries
// (internal/agent), and actor restart supervision (internal/registry):
// one policy shape, three callers, so drift between their backoff
// curves isn't a per-caller bug to chase down separately.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy is delay(attempt) = min(Max, Initial*Factor^(attempt-1)),
// plus up to Jitter*delay of extra randomization. Attempt numbers are
// 1-indexed; attempt <= 1 is treated as attempt 1.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// Standard is the general-purpose policy: 100ms initial, 30s cap,
// doubling, 10% jitter. Used by provider call retries.
func Standard() Policy {
	return Policy{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// Restart scales a Policy between an actor's declared MinBackoff and
// MaxBackoff bounds, doubling each attempt with heavier 50% jitter so
// a thundering herd of restarting actors doesn't resynchronize.
func Restart(min, max time.Duration) Policy {
	if max <= 0 {
		max = min
	}
	return Policy{Initial: min, Max: max, Factor: 2, Jitter: 0.5}
}

// Delay computes the delay for attempt using r (expected in [0,1)) as
// the jitter source, split out from NextDelay so tests can supply a
// deterministic r instead of sampling math/rand.
func Delay(p Policy, attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	withJitter := base + base*p.Jitter*r
	total := math.Min(float64(p.Max), withJitter)
	if total < 0 {
		total = 0
	}
	return time.Duration(math.Round(total))
}

// NextDelay computes Delay using the package's jitter source. The
// randomness here is for load spreading, not security, hence math/rand.
func NextDelay(p Policy, attempt int) time.Duration {
	return Delay(p, attempt, rand.Float64()) // #nosec G404 -- jitter only, not security sensitive
}
