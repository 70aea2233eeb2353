// Package provider defines the LLM backend contract used by the agent
// loop and the concrete Anthropic/OpenAI adapters that
// implement it. The loop never imports an SDK directly (it only ever
// sees this interface), so a new backend is a new file in this package,
// never a change to internal/agent.
package provider

import (
	"context"

	"github.com/nexuscore/agentcore/pkg/models"
)

// Provider is a chat-completions backend. Chat and ChatStream are the
// only two entry points the tool loop needs: one-shot
// completion with tool declarations, and a token stream without tools
// for the loop's final, tool-free turn.
type Provider interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// DefaultModel returns the model string to use when a call site
	// doesn't override it.
	DefaultModel() string

	// Chat sends the full message history and tool declarations and
	// returns a single completion. tools may be nil.
	Chat(ctx context.Context, messages []models.ChatMessage, tools []ToolSpec, model string) (models.Response, error)

	// ChatStream sends the full message history with no tool
	// declarations and streams content deltas. The channel is closed
	// when the stream ends or ctx is cancelled.
	ChatStream(ctx context.Context, messages []models.ChatMessage, model string) (<-chan models.StreamChunk, error)
}

// ToolSpec is a tool declaration offered to the provider, matching
// the shared declared-tool shape: name, description, and a JSON-schema
// parameters object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}
