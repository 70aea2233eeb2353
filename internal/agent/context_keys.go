package agent

import (
	"context"

	"github.com/nexuscore/agentcore/internal/tools/policy"
	"github.com/nexuscore/agentcore/pkg/models"
)

type contextKey int

const (
	sessionContextKey contextKey = iota
	toolPolicyContextKey
)

// WithSession attaches the active session to ctx so tools can recover
// the calling chat's identity.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the session attached by WithSession, or
// nil if none was attached.
func SessionFromContext(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionContextKey).(*models.Session)
	return session
}

type toolPolicyValue struct {
	resolver *policy.Resolver
	policy   *policy.Policy
}

// WithToolPolicy scopes the set of tools a subagent (or any nested
// call) may invoke for the remainder of ctx, the mechanism behind
// spawning a subagent with a restricted tool subset.
func WithToolPolicy(ctx context.Context, resolver *policy.Resolver, p *policy.Policy) context.Context {
	return context.WithValue(ctx, toolPolicyContextKey, toolPolicyValue{resolver: resolver, policy: p})
}

func toolPolicyFromContext(ctx context.Context) (*policy.Resolver, *policy.Policy) {
	v, ok := ctx.Value(toolPolicyContextKey).(toolPolicyValue)
	if !ok {
		return nil, nil
	}
	return v.resolver, v.policy
}
