// Package registry implements this runtime's process-local actor
// registry: every long-lived component (agent, provider, scheduler,
// each channel) is spawned under a well-known name, resolved only by
// that name, and never by a handle passed through call chains. Name
// lookup is what breaks the agent↔scheduler↔agent cyclic dependency at
// compile time while leaving it cyclic at runtime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuscore/agentcore/internal/backoff"
)

// ErrNotFound is returned by Resolve when no actor is registered under
// the requested name.
var ErrNotFound = errors.New("registry: name not found")

// RestartMode selects how supervision reacts to an actor's Run loop
// returning an error.
type RestartMode string

const (
	// RestartNever leaves failure handling to the containing process.
	RestartNever RestartMode = "never"
	// RestartOnFailure restarts the actor with exponential backoff
	// between MinBackoff and MaxBackoff, up to MaxRestarts within a
	// rolling window equal to MaxBackoff*MaxRestarts.
	RestartOnFailure RestartMode = "on-failure"
)

// RestartPolicy is the supervision contract for one actor.
type RestartPolicy struct {
	Mode        RestartMode
	MaxRestarts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRestartPolicy is used by actors that don't specify one: "never",
// leaving the decision to the containing process.
var DefaultRestartPolicy = RestartPolicy{Mode: RestartNever}

// ChannelRestartPolicy is the supervision channels run under:
// on-failure, max 10 restarts, 1s..60s backoff.
var ChannelRestartPolicy = RestartPolicy{
	Mode:        RestartOnFailure,
	MaxRestarts: 10,
	MinBackoff:  time.Second,
	MaxBackoff:  60 * time.Second,
}

// Runner is implemented by actors with a blocking event loop (e.g.
// channel adapters). Registry supervises Run per the actor's restart
// policy; Run returning nil is a clean shutdown and is never restarted.
type Runner interface {
	Run(ctx context.Context) error
}

// Starter is implemented by actors with an on_start hook, invoked once
// synchronously during Spawn before the actor is published under its name.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is implemented by actors with cleanup to run when the process
// shuts down or when the actor is deregistered after restart exhaustion.
type Stopper interface {
	OnStop(ctx context.Context) error
}

type entry struct {
	name    string
	target  any
	policy  RestartPolicy
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Registry is the name→actor table. It is a single-writer map with
// read-mostly access: registration takes the write lock;
// Resolve takes a read lock and returns immediately.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Spawn constructs an actor, runs its OnStart hook if present, registers
// it under name, and, if it implements Runner, starts its supervised
// event loop in a background goroutine. It returns once OnStart has
// completed (or immediately if the actor has none).
func (r *Registry) Spawn(ctx context.Context, name string, target any, policy RestartPolicy) error {
	if target == nil {
		return fmt.Errorf("registry: spawn %q: nil target", name)
	}
	if s, ok := target.(Starter); ok {
		if err := s.OnStart(ctx); err != nil {
			return fmt.Errorf("registry: spawn %q: on_start: %w", name, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e := &entry{name: name, target: target, policy: policy, cancel: cancel, stopped: make(chan struct{})}

	r.mu.Lock()
	r.entries[name] = e
	r.mu.Unlock()

	if runner, ok := target.(Runner); ok {
		go r.supervise(runCtx, e, runner)
	}
	return nil
}

// Deregister removes an actor's name from the registry, runs its OnStop
// hook if present, and cancels its supervised run context.
func (r *Registry) Deregister(ctx context.Context, name string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	if s, ok := e.target.(Stopper); ok {
		_ = s.OnStop(ctx)
	}
}

// Resolve looks up the actor registered under name and type-asserts it
// to T. It fails with ErrNotFound when unregistered.
func Resolve[T any](r *Registry, name string) (T, error) {
	var zero T
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	target, ok := e.target.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %q is not a %T", name, zero)
	}
	return target, nil
}

// MustResolve is Resolve with a pre-validated name, used in contexts
// (tests, wiring) where a missing actor is a programmer error.
func MustResolve[T any](r *Registry, name string) T {
	v, err := Resolve[T](r, name)
	if err != nil {
		panic(err)
	}
	return v
}

// CancelFunc cancels a pending Delayed call. Calling it after the call
// has already started executing has no effect; best-effort only
//
type CancelFunc func()

// Delayed arms a timer that invokes fn after d, addressed by name so the
// caller never needs to hold a direct reference to the target; this is
// the sole primitive the scheduler uses to arm timers against itself.
// fn receives nothing; callers close over what they need and are
// expected to re-Resolve any peer by name inside fn rather than
// capturing a handle, preserving name-based references.
func (r *Registry) Delayed(d time.Duration, fn func()) CancelFunc {
	if d < 0 {
		d = 0
	}
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

func (r *Registry) supervise(ctx context.Context, e *entry, runner Runner) {
	defer close(e.stopped)

	restartPolicy := backoff.Restart(e.policy.MinBackoff, e.policy.MaxBackoff)
	restarts := 0
	windowStart := time.Now()

	for {
		err := runner.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		if e.policy.Mode != RestartOnFailure {
			r.Deregister(ctx, e.name)
			return
		}

		// Each restart re-runs the on_start hook; a failing hook
		// consumes a restart attempt and goes back around the backoff
		// without ever reaching Run.
		restarted := false
		for !restarted {
			if time.Since(windowStart) > e.policy.MaxBackoff*time.Duration(e.policy.MaxRestarts) {
				restarts = 0
				windowStart = time.Now()
			}
			restarts++
			if restarts > e.policy.MaxRestarts {
				r.Deregister(ctx, e.name)
				return
			}

			if sleepErr := backoff.SleepAttempt(ctx, restartPolicy, restarts); sleepErr != nil {
				return
			}

			if s, ok := e.target.(Starter); ok {
				if startErr := s.OnStart(ctx); startErr != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Default().Warn("actor on_start failed during restart",
						"actor", e.name, "attempt", restarts, "error", startErr)
					continue
				}
			}
			restarted = true
		}
	}
}
