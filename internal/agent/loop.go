package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	agentctx "github.com/nexuscore/agentcore/internal/agent/context"
	"github.com/nexuscore/agentcore/internal/backoff"
	"github.com/nexuscore/agentcore/internal/dsml"
	"github.com/nexuscore/agentcore/internal/provider"
	"github.com/nexuscore/agentcore/internal/registry"
	"github.com/nexuscore/agentcore/internal/sessions"
	"github.com/nexuscore/agentcore/internal/tools/policy"
	"github.com/nexuscore/agentcore/pkg/models"
)

// defaultProviderActorName is the registry name Runtime resolves its
// provider under when built with NewRuntimeFromRegistry.
const defaultProviderActorName = "provider"

// exhaustedSentinel is what the loop yields when a turn produces no
// prose at all: either max_iterations is exhausted on tool calls, or
// process_text never saw a token.
const exhaustedSentinel = "I've completed processing but have no response to give."

// emptyResponsePolicy bounds subagent empty-response retry backoff at
// 10s.
var emptyResponsePolicy = backoff.Restart(200*time.Millisecond, 10*time.Second)

// ChunkKind identifies one element of a ProcessStream response:
// token, tool_call, tool_result, or done.
type ChunkKind string

const (
	ChunkToken      ChunkKind = "token"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
	ChunkDone       ChunkKind = "done"
)

// ResponseChunk is one streamed element of a turn.
type ResponseChunk struct {
	Kind     ChunkKind
	Text     string
	ToolName string
	Error    error
}

// LoopConfig configures one Runtime's tool-calling loop.
type LoopConfig struct {
	// MaxIterations bounds the provider round-trips per turn.
	MaxIterations int

	// EmptyResponseRetries is how many consecutive empty (no tool
	// calls, no content) completions are tolerated before the turn
	// concludes. Default 1.
	EmptyResponseRetries int

	// MaxContextMessages is the compaction budget passed to
	// internal/agent/context.Compact. Default 30 for the
	// main agent, 25 for subagents, set per Runtime rather than globally.
	MaxContextMessages int

	// MaxToolResultChars is the per-result truncation budget.
	// Default 3000 for the main agent, 2000 for subagents.
	MaxToolResultChars int

	// GroupToolBlocksOnCompaction selects CompactGrouped over Compact,
	// the subagent compaction variant.
	GroupToolBlocksOnCompaction bool

	// EmptyResponseBackoff, when set, is applied with jitter between
	// empty-response retries, capped at 10s. The main agent leaves this
	// unset and retries immediately.
	EmptyResponseBackoff bool

	// ToolTimeout bounds a single tool execution, surfaced as a tool
	// failure rather than a loop failure. Default 60s.
	ToolTimeout time.Duration
}

// DefaultLoopConfig is the main-agent configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:        25,
		EmptyResponseRetries: 1,
		MaxContextMessages:   agentctx.DefaultMaxContextMessages,
		MaxToolResultChars:   agentctx.DefaultMaxToolResultChars,
	}
}

// SubagentLoopConfig is the tighter configuration subagents run under
// (tighter iteration and context limits, grouped-block compaction,
// jittered empty-response backoff).
func SubagentLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:               15,
		EmptyResponseRetries:        1,
		MaxContextMessages:          agentctx.SubagentMaxContextMessages,
		MaxToolResultChars:          agentctx.SubagentMaxToolResultChars,
		GroupToolBlocksOnCompaction: true,
		EmptyResponseBackoff:        true,
	}
}

func (c LoopConfig) sanitized() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.EmptyResponseRetries < 0 {
		c.EmptyResponseRetries = 0
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = agentctx.DefaultMaxContextMessages
	}
	if c.MaxToolResultChars <= 0 {
		c.MaxToolResultChars = agentctx.DefaultMaxToolResultChars
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 60 * time.Second
	}
	return c
}

// Runtime drives the provider/tool tool-calling loop for one agent
// identity: turn preamble, the tool-calling loop, streaming
// switch-over, DSML fallback, compaction. A Runtime is safe to reuse across turns
// and across session keys; session-level serialization is the caller's
// responsibility.
type Runtime struct {
	provider     provider.Provider
	registry     *ToolRegistry
	executor     *ToolExecutor
	sessions     sessions.Store
	config       LoopConfig
	guard        ToolResultGuard
	systemPrompt string
	defaultModel string
	resolver     *policy.Resolver
}

// NewRuntime builds a Runtime bound to one provider, tool registry, and
// session store. Tool dispatch runs through a ToolExecutor configured
// with the loop's per-tool timeout, so every call the loop
// makes gets the same timeout/retry/observability wrapping a
// concurrent subagent fan-out would.
func NewRuntime(p provider.Provider, tools *ToolRegistry, store sessions.Store, config LoopConfig) *Runtime {
	config = config.sanitized()
	execCfg := DefaultToolExecConfig()
	execCfg.PerToolTimeout = config.ToolTimeout
	execCfg.Concurrency = 1
	return &Runtime{
		provider: p,
		registry: tools,
		executor: NewToolExecutor(tools, execCfg),
		sessions: store,
		config:   config,
		resolver: policy.NewResolver(),
	}
}

// NewRuntimeFromRegistry builds a Runtime by resolving its provider
// from the process-local actor registry once, at construction; the
// loop is built around one resolved provider, not a handle threaded in
// from main. providerName defaults to
// "provider". Re-spawning a different provider under the same name
// later requires building a new Runtime; this constructor resolves
// once rather than on every turn, since providers aren't expected to
// be swapped out mid-process.
func NewRuntimeFromRegistry(reg *registry.Registry, providerName string, tools *ToolRegistry, store sessions.Store, config LoopConfig) (*Runtime, error) {
	if strings.TrimSpace(providerName) == "" {
		providerName = defaultProviderActorName
	}
	p, err := registry.Resolve[provider.Provider](reg, providerName)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve provider actor %q: %w", providerName, err)
	}
	return NewRuntime(p, tools, store, config), nil
}

// SetSystemPrompt sets the assembled system prompt document.
// Composition of the document (identity, workspace notes, memory,
// tool index) happens one layer up; Runtime only needs the
// final string.
func (r *Runtime) SetSystemPrompt(prompt string) { r.systemPrompt = prompt }

// SetDefaultModel sets the model string used when a caller doesn't
// override it.
func (r *Runtime) SetDefaultModel(model string) { r.defaultModel = model }

// SetToolResultGuard installs a result guard applied to every tool
// output before it is appended to history.
func (r *Runtime) SetToolResultGuard(g ToolResultGuard) { r.guard = g }

// Process runs process_stream internally and concatenates Token
// chunks until Done, returning the completion-without-response
// sentinel if no Token was ever seen.
func (r *Runtime) Process(ctx context.Context, session *models.Session, msg *models.Message) (string, error) {
	chunks, err := r.ProcessStream(ctx, session, msg)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	saw := false
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Kind == ChunkToken && chunk.Text != "" {
			saw = true
			sb.WriteString(chunk.Text)
		}
	}
	if !saw {
		return exhaustedSentinel, nil
	}
	return sb.String(), nil
}

// ProcessStream runs one turn and streams its chunks. The returned
// channel is always closed, terminated either by
// a ChunkDone or, on unrecoverable error, a chunk carrying Error.
func (r *Runtime) ProcessStream(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if session == nil {
		return nil, fmt.Errorf("agent: process: session is required")
	}
	if msg == nil {
		return nil, fmt.Errorf("agent: process: message is required")
	}

	out := make(chan *ResponseChunk, 8)
	go r.run(ctx, session, msg, out)
	return out, nil
}

func (r *Runtime) run(ctx context.Context, session *models.Session, msg *models.Message, out chan<- *ResponseChunk) {
	defer close(out)

	resolver, toolPolicy := toolPolicyFromContext(ctx)
	if resolver == nil {
		resolver = r.resolver
	}

	tools := r.registry.AsLLMTools()
	tools = filterToolsByPolicy(resolver, toolPolicy, tools)
	toolSpecs := make([]provider.ToolSpec, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Schema(), &params)
		toolSpecs = append(toolSpecs, provider.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}

	messages := r.buildMessages(session, msg)
	model := r.defaultModel

	hadToolCalls := false
	emptyResponses := 0

	for iteration := 0; iteration < r.config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			out <- &ResponseChunk{Error: ctx.Err()}
			return
		}

		if hadToolCalls && iteration > 0 {
			stream, err := r.provider.ChatStream(ctx, messages, model)
			if err != nil {
				out <- &ResponseChunk{Error: err}
				return
			}
			anyDelta := false
			for chunk := range stream {
				if chunk.Delta == "" {
					continue
				}
				anyDelta = true
				out <- &ResponseChunk{Kind: ChunkToken, Text: chunk.Delta}
			}
			if anyDelta {
				out <- &ResponseChunk{Kind: ChunkDone}
				r.persist(ctx, session, messages)
				return
			}
		}

		resp, err := r.provider.Chat(ctx, messages, toolSpecs, model)
		if err != nil {
			out <- &ResponseChunk{Error: err}
			return
		}

		var toolCalls []models.ToolCall
		if resp.HasToolCalls {
			toolCalls = resp.ToolCalls
		}
		content := models.NormalizeContent(resp.Content)

		if len(toolCalls) == 0 {
			if calls := dsml.Parse(content); len(calls) > 0 {
				toolCalls = dsmlToToolCalls(calls)
			} else {
				if content == "" {
					emptyResponses++
					if emptyResponses <= r.config.EmptyResponseRetries {
						if r.config.EmptyResponseBackoff {
							if sleepErr := backoff.SleepAttempt(ctx, emptyResponsePolicy, emptyResponses); sleepErr != nil {
								out <- &ResponseChunk{Error: sleepErr}
								return
							}
						}
						continue
					}
					out <- &ResponseChunk{Kind: ChunkToken, Text: exhaustedSentinel}
					out <- &ResponseChunk{Kind: ChunkDone}
					r.persist(ctx, session, messages)
					return
				}
				out <- &ResponseChunk{Kind: ChunkToken, Text: content}
				out <- &ResponseChunk{Kind: ChunkDone}
				r.persist(ctx, session, messages)
				return
			}
		}

		hadToolCalls = true
		emptyResponses = 0
		messages = append(messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   content,
			Timestamp: now(),
			ToolCalls: toolCalls,
		})
		messages = r.compact(messages)

		for _, tc := range toolCalls {
			out <- &ResponseChunk{Kind: ChunkToolCall, ToolName: tc.Name}

			result := r.executeTool(ctx, tc, resolver)
			messages = append(messages, models.ChatMessage{
				Role:       models.RoleTool,
				Content:    result,
				Timestamp:  now(),
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
			out <- &ResponseChunk{Kind: ChunkToolResult, ToolName: tc.Name, Text: preview(result, 200)}
		}
		messages = r.compact(messages)
	}

	out <- &ResponseChunk{Kind: ChunkToken, Text: exhaustedSentinel}
	out <- &ResponseChunk{Kind: ChunkDone}
	r.persist(ctx, session, messages)
}

// executeTool runs one tool call, catching execution errors into the
// conventional "Error: …" content, then applies the
// result guard and the length-bounded truncation in
// that order.
func (r *Runtime) executeTool(ctx context.Context, tc models.ToolCall, resolver *policy.Resolver) string {
	params := tc.Input
	if len(params) == 0 {
		var err error
		params, err = json.Marshal(tc.Arguments)
		if err != nil {
			params = json.RawMessage(`{}`)
		}
	}

	result, execErr := r.executor.ExecuteSingle(ctx, tc.Name, params)
	var mr models.ToolResult
	if execErr != nil {
		mr = models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: "Error: " + execErr.Error(), IsError: true}
	} else {
		mr = models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: result.Content, IsError: result.IsError}
	}

	mr = guardToolResult(r.guard, tc.Name, mr, resolver)
	return agentctx.TruncateToolResult(mr.Content, r.config.MaxToolResultChars)
}

// buildMessages assembles the list sent to the provider: system
// prompt, truncated history, then the incoming user turn.
func (r *Runtime) buildMessages(session *models.Session, msg *models.Message) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(session.Messages)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: r.systemPrompt, Timestamp: now()})
	messages = append(messages, session.Messages...)

	content := msg.Content
	if len(msg.Media) > 0 {
		content = content + "\n\n[attached media: " + strings.Join(msg.Media, ", ") + "]"
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: content, Timestamp: now()})

	return r.compact(messages)
}

func (r *Runtime) compact(messages []models.ChatMessage) []models.ChatMessage {
	if r.config.GroupToolBlocksOnCompaction {
		return agentctx.CompactGrouped(messages, r.config.MaxContextMessages)
	}
	return agentctx.Compact(messages, r.config.MaxContextMessages)
}

// persist writes the turn's updated history back onto the session.
// messages[0] is the per-turn system prompt, rebuilt fresh on every
// call from Runtime's own state rather than persisted, so only the
// rest (first user turn onward) becomes the session's saved record.
func (r *Runtime) persist(ctx context.Context, session *models.Session, messages []models.ChatMessage) {
	session.Messages = messages[1:]
	session.UpdatedAt = now()
	if r.sessions == nil {
		return
	}
	_ = r.sessions.Update(ctx, session)
}

func dsmlToToolCalls(calls []dsml.Call) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			args[k] = v
		}
		out = append(out, models.ToolCall{ID: c.ID, Name: c.Name, Arguments: args})
	}
	return out
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func now() time.Time { return time.Now() }
