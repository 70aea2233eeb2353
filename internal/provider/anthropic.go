package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/agentcore/pkg/models"
)

// AnthropicConfig configures an Anthropic-backed Provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// Anthropic wraps the Claude Messages API behind the Provider interface.
type Anthropic struct {
	retrier
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic builds an Anthropic provider from config.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: anthropic: missing api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{
		retrier:   newRetrier("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *Anthropic) Name() string         { return "anthropic" }
func (p *Anthropic) DefaultModel() string { return p.model }

func (p *Anthropic) Chat(ctx context.Context, messages []models.ChatMessage, tools []ToolSpec, model string) (models.Response, error) {
	if model == "" {
		model = p.model
	}
	system, msgs, err := convertMessages(messages)
	if err != nil {
		return models.Response{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	var resp *anthropic.Message
	err = p.Retry(ctx, IsRetryable, func() error {
		r, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return NewError("anthropic", model, callErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return models.Response{FinishReason: "error", Content: err.Error()}, err
	}

	return toResponse(resp), nil
}

func (p *Anthropic) ChatStream(ctx context.Context, messages []models.ChatMessage, model string) (<-chan models.StreamChunk, error) {
	if model == "" {
		model = p.model
	}
	system, msgs, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan models.StreamChunk)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					select {
					case out <- models.StreamChunk{Delta: text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func convertMessages(messages []models.ChatMessage) (string, []anthropic.MessageParam, error) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return system, out, nil
}

func convertTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: t.Parameters["properties"],
			Required:   toStringSlice(t.Parameters["required"]),
		}, t.Name))
	}
	return out
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toResponse(msg *anthropic.Message) models.Response {
	var text string
	var calls []models.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if text != "" {
				text += "\n"
			}
			text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			calls = append(calls, models.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	finish := string(msg.StopReason)
	if finish == "" {
		finish = "stop"
	}
	return models.Response{
		Content:      text,
		ToolCalls:    calls,
		HasToolCalls: len(calls) > 0,
		FinishReason: finish,
	}
}
