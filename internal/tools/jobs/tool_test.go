package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nexuscore/agentcore/internal/agent"
	jobstore "github.com/nexuscore/agentcore/internal/jobs"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error)
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) Description() string      { return "fake" }
func (f *fakeTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return f.execute(ctx, params)
}

func newTestTool(t *testing.T, inner *fakeTool) (*Tool, jobstore.Store) {
	t.Helper()
	registry := agent.NewToolRegistry()
	if inner != nil {
		registry.Register(inner)
	}
	executor := agent.NewToolExecutor(registry, agent.DefaultToolExecConfig())
	store := jobstore.NewMemoryStore()
	return NewTool(executor, store), store
}

func run(t *testing.T, tool *Tool, input string) *agent.ToolResult {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result
}

func waitForStatus(t *testing.T, store jobstore.Store, id string, want jobstore.Status) *jobstore.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestJobsTool_RunAndStatus(t *testing.T) {
	echo := &fakeTool{name: "echo", execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return &agent.ToolResult{Content: p.Text}, nil
	}}
	tool, store := newTestTool(t, echo)

	result := run(t, tool, `{"action":"run","tool":"echo","params":{"text":"hi"}}`)
	if result.IsError {
		t.Fatalf("run failed: %s", result.Content)
	}
	var queued struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(result.Content), &queued); err != nil {
		t.Fatalf("decode run result: %v", err)
	}

	job := waitForStatus(t, store, queued.ID, jobstore.StatusSucceeded)
	if job.Result == nil || job.Result.Content != "hi" {
		t.Fatalf("unexpected job result: %+v", job.Result)
	}

	status := run(t, tool, `{"action":"status","id":"`+queued.ID+`"}`)
	if status.IsError {
		t.Fatalf("status failed: %s", status.Content)
	}
	if !strings.Contains(status.Content, `"succeeded"`) || !strings.Contains(status.Content, `"hi"`) {
		t.Fatalf("status missing fields: %s", status.Content)
	}
}

func TestJobsTool_FailedToolRecorded(t *testing.T) {
	boom := &fakeTool{name: "boom", execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
		return &agent.ToolResult{Content: "exploded", IsError: true}, nil
	}}
	tool, store := newTestTool(t, boom)

	result := run(t, tool, `{"action":"run","tool":"boom"}`)
	var queued struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(result.Content), &queued); err != nil {
		t.Fatalf("decode run result: %v", err)
	}

	job := waitForStatus(t, store, queued.ID, jobstore.StatusFailed)
	if job.Error != "exploded" {
		t.Fatalf("error = %q, want %q", job.Error, "exploded")
	}
}

func TestJobsTool_List(t *testing.T) {
	echo := &fakeTool{name: "echo", execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
		return &agent.ToolResult{Content: "ok"}, nil
	}}
	tool, store := newTestTool(t, echo)

	first := run(t, tool, `{"action":"run","tool":"echo"}`)
	var queued struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(first.Content), &queued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForStatus(t, store, queued.ID, jobstore.StatusSucceeded)

	list := run(t, tool, `{"action":"list"}`)
	if list.IsError {
		t.Fatalf("list failed: %s", list.Content)
	}
	if !strings.Contains(list.Content, queued.ID) {
		t.Fatalf("list missing job %s: %s", queued.ID, list.Content)
	}
}

func TestJobsTool_ErrorPaths(t *testing.T) {
	tool, _ := newTestTool(t, nil)

	cases := []struct {
		name  string
		input string
	}{
		{"missing action", `{}`},
		{"unknown action", `{"action":"bogus"}`},
		{"run without tool", `{"action":"run"}`},
		{"run unknown tool", `{"action":"run","tool":"nope"}`},
		{"run itself", `{"action":"run","tool":"jobs"}`},
		{"status without id", `{"action":"status"}`},
		{"status unknown id", `{"action":"status","id":"missing"}`},
		{"cancel without id", `{"action":"cancel"}`},
		{"invalid json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := run(t, tool, tc.input)
			if !result.IsError {
				t.Fatalf("expected error result, got: %s", result.Content)
			}
		})
	}
}
