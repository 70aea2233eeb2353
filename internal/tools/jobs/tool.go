// Package jobs exposes async tool execution to the LLM: queue a slow
// tool call as a background job, keep talking, and collect the result
// on a later turn.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/agentcore/internal/agent"
	jobstore "github.com/nexuscore/agentcore/internal/jobs"
)

// Tool queues and inspects background tool jobs.
type Tool struct {
	executor *agent.ToolExecutor
	store    jobstore.Store
}

// NewTool builds the jobs tool around an executor and a job store.
func NewTool(executor *agent.ToolExecutor, store jobstore.Store) *Tool {
	return &Tool{executor: executor, store: store}
}

func (t *Tool) Name() string { return "jobs" }

func (t *Tool) Description() string {
	return "Run a tool in the background (run), then check on it later (status/list/cancel)."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["run", "status", "list", "cancel"]},
			"tool": {"type": "string", "description": "Tool name to run in the background (run action)."},
			"params": {"type": "object", "description": "Parameters for the background tool (run action)."},
			"id": {"type": "string", "description": "Job id (status/cancel actions)."},
			"limit": {"type": "integer"},
			"offset": {"type": "integer"}
		},
		"required": ["action"]
	}`)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Action string          `json:"action"`
		Tool   string          `json:"tool"`
		Params json.RawMessage `json:"params"`
		ID     string          `json:"id"`
		Limit  int             `json:"limit"`
		Offset int             `json:"offset"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "run":
		name := strings.TrimSpace(input.Tool)
		if name == "" {
			return errResult("tool is required"), nil
		}
		if name == t.Name() {
			return errResult("jobs cannot queue itself"), nil
		}
		args := input.Params
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		job, err := t.executor.ExecuteAsync(ctx, name, args, t.store)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"status": "queued",
			"id":     job.ID,
			"tool":   job.ToolName,
		}), nil

	case "status":
		id := strings.TrimSpace(input.ID)
		if id == "" {
			return errResult("id is required"), nil
		}
		job, err := t.store.Get(ctx, id)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return jsonResult(jobView(job)), nil

	case "list":
		list, err := t.store.List(ctx, input.Limit, input.Offset)
		if err != nil {
			return errResult(err.Error()), nil
		}
		views := make([]map[string]any, 0, len(list))
		for _, job := range list {
			views = append(views, jobView(job))
		}
		return jsonResult(map[string]any{"jobs": views}), nil

	case "cancel":
		id := strings.TrimSpace(input.ID)
		if id == "" {
			return errResult("id is required"), nil
		}
		if err := t.store.Cancel(ctx, id); err != nil {
			return errResult(err.Error()), nil
		}
		return jsonResult(map[string]any{"status": "cancelled", "id": id}), nil

	default:
		return errResult("unsupported action"), nil
	}
}

func jobView(job *jobstore.Job) map[string]any {
	view := map[string]any{
		"id":         job.ID,
		"tool":       job.ToolName,
		"status":     string(job.Status),
		"created_at": job.CreatedAt.Format(time.RFC3339),
	}
	if job.Error != "" {
		view["error"] = job.Error
	}
	if job.Result != nil {
		view["result"] = job.Result.Content
	}
	return view
}

func errResult(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
