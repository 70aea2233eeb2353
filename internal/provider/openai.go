package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscore/agentcore/pkg/models"
)

// OpenAIConfig configures an OpenAI-compatible Provider (also used for
// any Chat-Completions-compatible gateway by overriding BaseURL).
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAI wraps the Chat Completions API behind the Provider interface.
type OpenAI struct {
	retrier
	client *openai.Client
	model  string
}

// NewOpenAI builds an OpenAI provider from config.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: openai: missing api key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{
		retrier: newRetrier("openai", cfg.MaxRetries, cfg.RetryDelay),
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
	}, nil
}

func (p *OpenAI) Name() string         { return "openai" }
func (p *OpenAI) DefaultModel() string { return p.model }

func (p *OpenAI) Chat(ctx context.Context, messages []models.ChatMessage, tools []ToolSpec, model string) (models.Response, error) {
	if model == "" {
		model = p.model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOAMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = convertOATools(tools)
	}

	var resp openai.ChatCompletionResponse
	err := p.Retry(ctx, IsRetryable, func() error {
		r, callErr := p.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return NewError("openai", model, callErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return models.Response{FinishReason: "error", Content: err.Error()}, err
	}
	return toOAResponse(resp), nil
}

func (p *OpenAI) ChatStream(ctx context.Context, messages []models.ChatMessage, model string) (<-chan models.StreamChunk, error) {
	if model == "" {
		model = p.model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOAMessages(messages),
		Stream:   true,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, NewError("openai", model, err)
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- models.StreamChunk{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func convertOAMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.MarshalArguments(),
					},
				})
			}
			out = append(out, msg)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func convertOATools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOAResponse(resp openai.ChatCompletionResponse) models.Response {
	if len(resp.Choices) == 0 {
		return models.Response{FinishReason: "error", Content: "empty choices"}
	}
	choice := resp.Choices[0]
	var calls []models.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	finish := string(choice.FinishReason)
	if finish == "" {
		finish = "stop"
	}
	return models.Response{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		HasToolCalls: len(calls) > 0,
		FinishReason: finish,
	}
}
