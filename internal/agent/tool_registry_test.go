package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeTool struct {
	name    string
	schema  string
	calls   int
	lastArg json.RawMessage
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "a fake tool" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls++
	t.lastArg = params
	return &ToolResult{Content: "ok"}, nil
}

func TestToolRegistry_RegisterGetExecute(t *testing.T) {
	reg := NewToolRegistry()
	tool := &fakeTool{name: "echo"}
	reg.Register(tool)

	got, ok := reg.Get("echo")
	if !ok || got.Name() != "echo" {
		t.Fatalf("expected to find registered tool, got ok=%v got=%v", ok, got)
	}

	result, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError || result.Content != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool to be called once, got %d", tool.calls)
	}
}

func TestToolRegistry_ExecuteUnknownToolReturnsErrorResult(t *testing.T) {
	reg := NewToolRegistry()
	result, err := reg.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("expected nil error (tool-not-found is surfaced via ToolResult), got %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "tool not found") {
		t.Fatalf("expected a tool-not-found error result, got %+v", result)
	}
}

func TestToolRegistry_ExecuteRejectsOversizedName(t *testing.T) {
	reg := NewToolRegistry()
	longName := strings.Repeat("a", MaxToolNameLength+1)
	result, err := reg.Execute(context.Background(), longName, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "maximum length") {
		t.Fatalf("expected a name-too-long error result, got %+v", result)
	}
}

func TestToolRegistry_ExecuteValidatesParamsAgainstSchema(t *testing.T) {
	reg := NewToolRegistry()
	tool := &fakeTool{
		name: "search",
		schema: `{
			"type": "object",
			"properties": {"query": {"type": "string"}},
			"required": ["query"]
		}`,
	}
	reg.Register(tool)

	result, err := reg.Execute(context.Background(), "search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected a validation error result for missing required field, got %+v", result)
	}
	if tool.calls != 0 {
		t.Fatalf("tool must not run when validation fails, got %d calls", tool.calls)
	}

	result, err = reg.Execute(context.Background(), "search", json.RawMessage(`{"query":"go"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success once required field is present, got %+v", result)
	}
	if tool.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", tool.calls)
	}
}

func TestToolRegistry_ToolWithoutSchemaIsUnconstrained(t *testing.T) {
	reg := NewToolRegistry()
	tool := &fakeTool{name: "noop"}
	reg.Register(tool)

	result, err := reg.Execute(context.Background(), "noop", json.RawMessage(`{"anything":"goes"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected no validation error for a schema-less tool, got %+v", result)
	}
}

func TestToolRegistry_UnregisterRemovesTool(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&fakeTool{name: "echo"})
	reg.Unregister("echo")

	if _, ok := reg.Get("echo"); ok {
		t.Fatalf("expected tool to be removed")
	}
}

func TestToolRegistry_AsLLMToolsReturnsAllRegistered(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&fakeTool{name: "a"})
	reg.Register(&fakeTool{name: "b"})

	tools := reg.AsLLMTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
}

func TestMatchToolPattern(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"mcp:*", "mcp:github:search", true},
		{"mcp:*", "shell", false},
		{"files.*", "files.read", true},
		{"files.*", "files", false},
		{"shell", "shell", true},
		{"shell", "shell2", false},
	}
	for _, c := range cases {
		if got := matchToolPattern(c.pattern, c.name); got != c.want {
			t.Errorf("matchToolPattern(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}
