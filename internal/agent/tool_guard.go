package agent

import (
	"strings"

	"github.com/nexuscore/agentcore/internal/config"
	"github.com/nexuscore/agentcore/internal/tools/policy"
	"github.com/nexuscore/agentcore/pkg/models"
)

// ToolResultGuard redacts and truncates tool output before it re-enters
// a session's history, so a leaked secret or an oversized dump never
// gets persisted or replayed back to the provider (the "do not retry"
// sentinel lives one layer up in the loop's compaction pass).
type ToolResultGuard struct {
	cfg config.ToolResultGuardConfig
}

// NewToolResultGuard builds a guard from its config section. A guard
// built from a zero-value config is inert: active() reports false and
// Apply is a no-op, which keeps callers from needing a nil check.
func NewToolResultGuard(cfg config.ToolResultGuardConfig) ToolResultGuard {
	return ToolResultGuard{cfg: cfg}
}

func (g ToolResultGuard) active() bool {
	return g.cfg.Enabled
}

// Apply redacts denylisted tool names entirely and truncates long
// output for everything else.
func (g ToolResultGuard) Apply(toolName string, result models.ToolResult, resolver *policy.Resolver) models.ToolResult {
	if !g.active() {
		return result
	}
	name := toolName
	if resolver != nil {
		name = resolver.CanonicalName(toolName)
	}
	for _, denied := range g.cfg.Denylist {
		if denied == name {
			text := g.cfg.RedactionText
			if text == "" {
				text = "[redacted]"
			}
			result.Content = text
			return result
		}
	}
	if g.cfg.MaxChars > 0 && len(result.Content) > g.cfg.MaxChars {
		suffix := g.cfg.TruncateSuffix
		if suffix == "" {
			suffix = "\n...[truncated]"
		}
		result.Content = result.Content[:g.cfg.MaxChars] + suffix
	}
	for _, pattern := range g.cfg.RedactPatterns {
		if pattern == "" {
			continue
		}
		text := g.cfg.RedactionText
		if text == "" {
			text = "[redacted]"
		}
		result.Content = strings.ReplaceAll(result.Content, pattern, text)
	}
	return result
}
