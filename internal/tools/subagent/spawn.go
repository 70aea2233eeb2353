// Package subagent spawns short-lived, tool-restricted Runtime turns
// that a parent conversation can delegate research or multi-step work
// to without blocking its own loop.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscore/agentcore/internal/agent"
	"github.com/nexuscore/agentcore/internal/tools/policy"
	"github.com/nexuscore/agentcore/pkg/models"
)

// SubAgent is the tracked state of one spawned delegation.
type SubAgent struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent_id"`
	SessionKey   string    `json:"session_key"`
	Name         string    `json:"name"`
	Task         string    `json:"task"`
	Status       string    `json:"status"` // running, completed, failed, cancelled
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Result       string    `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	AllowedTools []string  `json:"allowed_tools,omitempty"`
	DeniedTools  []string  `json:"denied_tools,omitempty"`

	cancel context.CancelFunc
}

// Manager tracks in-flight sub-agent delegations and runs each one
// against its own Runtime under SubagentLoopConfig's tighter limits.
type Manager struct {
	mu          sync.RWMutex
	agents      map[string]*SubAgent
	runtime     *agent.Runtime
	maxActive   int
	activeCount int64
	announcer   func(ctx context.Context, parentSessionKey, msg string) error
}

// NewManager builds a Manager that runs every delegated task through
// runtime. runtime should already be configured with
// agent.SubagentLoopConfig() rather than the main agent's config.
func NewManager(runtime *agent.Runtime, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &Manager{
		agents:    make(map[string]*SubAgent),
		runtime:   runtime,
		maxActive: maxActive,
	}
}

// SetAnnouncer installs the function used to tell the parent chat a
// sub-agent has been spawned. Best-effort: a failing announcer never
// blocks the spawn.
func (m *Manager) SetAnnouncer(fn func(ctx context.Context, parentSessionKey, msg string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcer = fn
}

// Spawn starts a new sub-agent in the background and returns
// immediately with its tracking record.
func (m *Manager) Spawn(ctx context.Context, parentID, parentSessionKey, name, task string, allowedTools, deniedTools []string) (*SubAgent, error) {
	if atomic.LoadInt64(&m.activeCount) >= int64(m.maxActive) {
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	// Ids are 8 hex chars: enough to address a handful of concurrent
	// delegations, short enough for the LLM to echo back reliably.
	id := uuid.NewString()[:8]
	sa := &SubAgent{
		ID:           id,
		ParentID:     parentID,
		SessionKey:   parentSessionKey + "/sub/" + id,
		Name:         name,
		Task:         task,
		Status:       "running",
		CreatedAt:    time.Now(),
		AllowedTools: allowedTools,
		DeniedTools:  deniedTools,
		cancel:       cancel,
	}

	m.mu.Lock()
	m.agents[sa.ID] = sa
	announcer := m.announcer
	m.mu.Unlock()

	atomic.AddInt64(&m.activeCount, 1)

	if announcer != nil {
		announcement := fmt.Sprintf("spawning sub-agent %q for: %s", name, task)
		_ = announcer(ctx, parentSessionKey, announcement)
	}

	go m.runSubAgent(runCtx, sa)

	return sa, nil
}

// runSubAgent drives one delegated turn through the shared Runtime
// against a throwaway, unpersisted session.
func (m *Manager) runSubAgent(ctx context.Context, sa *SubAgent) {
	defer atomic.AddInt64(&m.activeCount, -1)

	session := &models.Session{
		Key:       sa.SessionKey,
		CreatedAt: sa.CreatedAt,
		UpdatedAt: sa.CreatedAt,
	}
	msg := &models.Message{
		Channel: models.ChannelSystem,
		ChatID:  sa.SessionKey,
		Content: sa.Task,
	}

	if len(sa.AllowedTools) > 0 || len(sa.DeniedTools) > 0 {
		resolver := policy.NewResolver()
		toolPolicy := &policy.Policy{Allow: sa.AllowedTools, Deny: sa.DeniedTools}
		ctx = agent.WithToolPolicy(ctx, resolver, toolPolicy)
	}

	result, err := m.runtime.Process(ctx, session, msg)
	if err != nil {
		m.completeSubAgent(sa.ID, "", err.Error())
		m.announceCompletion(sa, &RunOutcome{Status: "error", Error: err.Error()}, "")
		return
	}
	m.completeSubAgent(sa.ID, result, "")
	m.announceCompletion(sa, &RunOutcome{Status: "ok"}, result)
}

// announceCompletion reports a finished run back to the parent chat
// through the announcer, which looks the main agent up by name and
// delivers the wrapped result. A cancelled run stays silent; so does a
// run with no announcer wired.
func (m *Manager) announceCompletion(sa *SubAgent, outcome *RunOutcome, reply string) {
	m.mu.Lock()
	announcer := m.announcer
	cancelled := sa.Status == "cancelled"
	runtime := sa.CompletedAt.Sub(sa.CreatedAt)
	m.mu.Unlock()
	if announcer == nil || cancelled {
		return
	}

	content := BuildTriggerMessage(TriggerMessageParams{
		Label:   sa.Name,
		Task:    sa.Task,
		Outcome: outcome,
		Reply:   reply,
		Runtime: runtime,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := announcer(ctx, parentKeyOf(sa), content); err != nil {
		slog.Default().Warn("subagent announce failed", "id", sa.ID, "error", err)
	}
}

// parentKeyOf recovers the parent session key from the child's derived
// key ("<parent>/sub/<id>").
func parentKeyOf(sa *SubAgent) string {
	if idx := strings.Index(sa.SessionKey, "/sub/"); idx > 0 {
		return sa.SessionKey[:idx]
	}
	return sa.SessionKey
}

func (m *Manager) completeSubAgent(id, result, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.agents[id]
	if !ok {
		return
	}
	if sa.Status == "cancelled" {
		return
	}

	sa.CompletedAt = time.Now()
	if errMsg != "" {
		sa.Status = "failed"
		sa.Error = errMsg
	} else {
		sa.Status = "completed"
		sa.Result = result
	}
}

// Get returns a sub-agent by ID.
func (m *Manager) Get(id string) (*SubAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sa, ok := m.agents[id]
	return sa, ok
}

// List returns every sub-agent spawned by parentID.
func (m *Manager) List(parentID string) []*SubAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SubAgent
	for _, sa := range m.agents {
		if sa.ParentID == parentID {
			result = append(result, sa)
		}
	}
	return result
}

// Cancel stops a running sub-agent's context and marks it cancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if sa.Status != "running" {
		return fmt.Errorf("sub-agent not running: %s", sa.Status)
	}

	if sa.cancel != nil {
		sa.cancel()
	}
	sa.Status = "cancelled"
	sa.CompletedAt = time.Now()
	sa.Error = "cancelled"
	return nil
}

// ActiveCount returns the number of sub-agents currently running.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}

var spawnSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "A short name for the sub-agent (e.g. 'researcher', 'coder')"},
		"task": {"type": "string", "description": "The task for the sub-agent to complete"},
		"allowed_tools": {"type": "array", "items": {"type": "string"}, "description": "Tools the sub-agent may use (omit for all)"},
		"denied_tools": {"type": "array", "items": {"type": "string"}, "description": "Tools the sub-agent must not use"}
	},
	"required": ["name", "task"]
}`)

// SpawnTool lets the main agent delegate a task to a sub-agent.
type SpawnTool struct {
	manager *Manager
}

// NewSpawnTool builds the spawn_subagent tool.
func NewSpawnTool(manager *Manager) *SpawnTool { return &SpawnTool{manager: manager} }

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a specific task. Returns the sub-agent ID for tracking."
}

func (t *SpawnTool) Schema() json.RawMessage { return spawnSchema }

func (t *SpawnTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		Name         string   `json:"name"`
		Task         string   `json:"task"`
		AllowedTools []string `json:"allowed_tools"`
		DeniedTools  []string `json:"denied_tools"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: "invalid input: " + err.Error(), IsError: true}, nil
	}
	if params.Name == "" || params.Task == "" {
		return &agent.ToolResult{Content: "name and task are required", IsError: true}, nil
	}

	parentID, parentKey := "", ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentKey = session.Key
		parentID = session.Key
	}

	sa, err := t.manager.Spawn(ctx, parentID, parentKey, params.Name, params.Task, params.AllowedTools, params.DeniedTools)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf(
		"Sub-agent %q spawned with ID: %s\nTask: %s\nUse subagent_status to check progress.",
		params.Name, sa.ID, params.Task,
	)}, nil
}

var statusSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "Sub-agent ID to check (omit to list all)"}
	}
}`)

// StatusTool reports on one or all sub-agents spawned by the caller.
type StatusTool struct {
	manager *Manager
}

// NewStatusTool builds the subagent_status tool.
func NewStatusTool(manager *Manager) *StatusTool { return &StatusTool{manager: manager} }

func (t *StatusTool) Name() string { return "subagent_status" }

func (t *StatusTool) Description() string {
	return "Check the status of a sub-agent or list all sub-agents."
}

func (t *StatusTool) Schema() json.RawMessage { return statusSchema }

func (t *StatusTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: "invalid input: " + err.Error(), IsError: true}, nil
	}

	if params.ID != "" {
		sa, ok := t.manager.Get(params.ID)
		if !ok {
			return &agent.ToolResult{Content: "sub-agent not found: " + params.ID, IsError: true}, nil
		}
		result := fmt.Sprintf("Sub-agent: %s (%s)\nStatus: %s\nTask: %s\n", sa.Name, sa.ID, sa.Status, sa.Task)
		if sa.Status == "completed" {
			result += fmt.Sprintf("Result: %s\n", sa.Result)
		}
		if sa.Status == "failed" {
			result += fmt.Sprintf("Error: %s\n", sa.Error)
		}
		return &agent.ToolResult{Content: result}, nil
	}

	parentID := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.Key
	}

	agents := t.manager.List(parentID)
	if len(agents) == 0 {
		return &agent.ToolResult{Content: "No sub-agents found."}, nil
	}

	result := fmt.Sprintf("Active sub-agents: %d/%d\n\n", t.manager.ActiveCount(), t.manager.maxActive)
	for _, sa := range agents {
		result += fmt.Sprintf("- %s (%s): %s - %s\n", sa.Name, sa.ID, sa.Status, truncate(sa.Task, 50))
	}
	return &agent.ToolResult{Content: result}, nil
}

var cancelSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "Sub-agent ID to cancel"}
	},
	"required": ["id"]
}`)

// CancelTool stops a running sub-agent.
type CancelTool struct {
	manager *Manager
}

// NewCancelTool builds the subagent_cancel tool.
func NewCancelTool(manager *Manager) *CancelTool { return &CancelTool{manager: manager} }

func (t *CancelTool) Name() string { return "subagent_cancel" }

func (t *CancelTool) Description() string { return "Cancel a running sub-agent." }

func (t *CancelTool) Schema() json.RawMessage { return cancelSchema }

func (t *CancelTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: "invalid input: " + err.Error(), IsError: true}, nil
	}
	if params.ID == "" {
		return &agent.ToolResult{Content: "id is required", IsError: true}, nil
	}
	if err := t.manager.Cancel(params.ID); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Sub-agent %s cancelled.", params.ID)}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
