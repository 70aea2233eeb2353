package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscore/agentcore/internal/provider/tape"
	"github.com/nexuscore/agentcore/internal/sessions"
	"github.com/nexuscore/agentcore/pkg/models"
)

// echoTool returns its "text" argument verbatim, used across the loop
// scenarios below.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes text back" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &args)
	return &ToolResult{Content: args.Text}, nil
}

func newTestSession(t *testing.T, store sessions.Store, key string) *models.Session {
	t.Helper()
	session := &models.Session{Key: key}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func drain(ch <-chan *ResponseChunk) []*ResponseChunk {
	var out []*ResponseChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

// TestProcessStream_SimpleTurnNoTools covers the simplest turn: a fresh
// session, one non-tool-calling completion, a single-iteration turn.
func TestProcessStream_SimpleTurnNoTools(t *testing.T) {
	p := tape.NewScripted("test-model", tape.Step{
		Response: models.Response{Content: "hello"},
	})
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	rt := NewRuntime(p, NewToolRegistry(), store, DefaultLoopConfig())
	out, err := rt.ProcessStream(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process stream: %v", err)
	}

	chunks := drain(out)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks (token, done), got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Kind != ChunkToken || chunks[0].Text != "hello" {
		t.Fatalf("expected token %q, got %+v", "hello", chunks[0])
	}
	if chunks[1].Kind != ChunkDone {
		t.Fatalf("expected done chunk, got %+v", chunks[1])
	}

	reloaded, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if len(reloaded.Messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(reloaded.Messages))
	}
	if reloaded.Messages[0].Role != models.RoleUser || reloaded.Messages[0].Content != "hi" {
		t.Fatalf("unexpected first persisted message: %+v", reloaded.Messages[0])
	}
	if reloaded.Messages[1].Role != models.RoleAssistant || reloaded.Messages[1].Content != "hello" {
		t.Fatalf("unexpected second persisted message: %+v", reloaded.Messages[1])
	}
}

// TestProcess_ReturnsConcatenatedText exercises Process's
// token-concatenation wrapper over ProcessStream.
func TestProcess_ReturnsConcatenatedText(t *testing.T) {
	p := tape.NewScripted("test-model", tape.Step{
		Response: models.Response{Content: "hello"},
	})
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	rt := NewRuntime(p, NewToolRegistry(), store, DefaultLoopConfig())
	text, err := rt.Process(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected %q, got %q", "hello", text)
	}
}

// TestProcessStream_ToolCallThenStreamedFinal covers one
// native tool call, then a streaming final answer once hadToolCalls is
// true.
func TestProcessStream_ToolCallThenStreamedFinal(t *testing.T) {
	p := tape.NewScripted("test-model",
		tape.Step{
			Response: models.Response{
				HasToolCalls: true,
				ToolCalls: []models.ToolCall{
					{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "x"}},
				},
			},
		},
		tape.Step{StreamDeltas: []string{"ok"}},
	)
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	registry := NewToolRegistry()
	registry.Register(echoTool{})

	rt := NewRuntime(p, registry, store, DefaultLoopConfig())
	out, err := rt.ProcessStream(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process stream: %v", err)
	}

	chunks := drain(out)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Kind != ChunkToolCall || chunks[0].ToolName != "echo" {
		t.Fatalf("chunk 0: expected tool_call echo, got %+v", chunks[0])
	}
	if chunks[1].Kind != ChunkToolResult || chunks[1].Text != "x" || chunks[1].ToolName != "echo" {
		t.Fatalf("chunk 1: expected tool_result x, got %+v", chunks[1])
	}
	if chunks[2].Kind != ChunkToken || chunks[2].Text != "ok" {
		t.Fatalf("chunk 2: expected token ok, got %+v", chunks[2])
	}
	if chunks[3].Kind != ChunkDone {
		t.Fatalf("chunk 3: expected done, got %+v", chunks[3])
	}

	reloaded, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	n := len(reloaded.Messages)
	if n < 3 {
		t.Fatalf("expected at least 3 messages, got %d", n)
	}
	assistantMsg := reloaded.Messages[n-3]
	toolMsg := reloaded.Messages[n-2]
	finalMsg := reloaded.Messages[n-1]
	if assistantMsg.Role != models.RoleAssistant || len(assistantMsg.ToolCalls) != 1 || assistantMsg.ToolCalls[0].ID != "c1" {
		t.Fatalf("unexpected assistant(tool_calls) record: %+v", assistantMsg)
	}
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "c1" || toolMsg.Content != "x" {
		t.Fatalf("unexpected tool record: %+v", toolMsg)
	}
	if finalMsg.Role != models.RoleAssistant || finalMsg.Content != "ok" {
		t.Fatalf("unexpected final assistant record: %+v", finalMsg)
	}
}

// TestProcessStream_DSMLFallback covers the fallback path: no native
// tool_calls, but the content carries a DSML invoke block.
func TestProcessStream_DSMLFallback(t *testing.T) {
	dsmlContent := "<|DSML|invoke name=\"echo\"><|DSML|parameter name=\"text\">hi</|DSML|parameter>"
	p := tape.NewScripted("test-model",
		tape.Step{Response: models.Response{Content: dsmlContent}},
		tape.Step{StreamDeltas: []string{"done"}},
	)
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	registry := NewToolRegistry()
	registry.Register(echoTool{})

	rt := NewRuntime(p, registry, store, DefaultLoopConfig())
	out, err := rt.ProcessStream(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process stream: %v", err)
	}

	chunks := drain(out)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Kind != ChunkToolCall || chunks[0].ToolName != "echo" {
		t.Fatalf("chunk 0: expected synthesized tool_call echo, got %+v", chunks[0])
	}
	if chunks[1].Kind != ChunkToolResult || chunks[1].Text != "hi" {
		t.Fatalf("chunk 1: expected tool_result hi, got %+v", chunks[1])
	}
}

// TestProcessStream_EmptyResponseRetriesThenExhausts asserts that at
// most the configured number of empty completions is tolerated before
// the fallback sentinel terminates the turn.
func TestProcessStream_EmptyResponseRetriesThenExhausts(t *testing.T) {
	p := tape.NewScripted("test-model",
		tape.Step{Response: models.Response{}},
		tape.Step{Response: models.Response{}},
	)
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	cfg := DefaultLoopConfig()
	cfg.EmptyResponseRetries = 1
	rt := NewRuntime(p, NewToolRegistry(), store, cfg)

	out, err := rt.ProcessStream(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process stream: %v", err)
	}
	chunks := drain(out)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Kind != ChunkToken || chunks[0].Text != exhaustedSentinel {
		t.Fatalf("expected exhausted sentinel, got %+v", chunks[0])
	}
	if p.Calls() != 2 {
		t.Fatalf("expected exactly 2 provider calls (1 retry), got %d", p.Calls())
	}
}

// TestProcessStream_ToolExecutionErrorContinuesLoop covers the
// "tool execution error: captured, stringified, loop continues".
func TestProcessStream_ToolExecutionErrorContinuesLoop(t *testing.T) {
	p := tape.NewScripted("test-model",
		tape.Step{
			Response: models.Response{
				HasToolCalls: true,
				ToolCalls: []models.ToolCall{
					{ID: "c1", Name: "missing", Arguments: map[string]any{}},
				},
			},
		},
		tape.Step{StreamDeltas: []string{"recovered"}},
	)
	store := sessions.NewMemoryStore()
	session := newTestSession(t, store, "cli:direct")

	rt := NewRuntime(p, NewToolRegistry(), store, DefaultLoopConfig())
	out, err := rt.ProcessStream(context.Background(), session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("process stream: %v", err)
	}
	chunks := drain(out)
	var toolResult *ResponseChunk
	for _, c := range chunks {
		if c.Kind == ChunkToolResult {
			toolResult = c
		}
	}
	if toolResult == nil {
		t.Fatalf("expected a tool_result chunk, got %+v", chunks)
	}
	if toolResult.Text == "" {
		t.Fatalf("expected non-empty error preview")
	}
}
