// Package tape provides a scripted Provider implementation so the tool
// loop can be tested deterministically without a live LLM call: a
// direct replacement for recording/replaying real provider traffic,
// scoped down to what the loop's own tests need: a fixed sequence of
// canned responses, played back one per Chat/ChatStream call.
package tape

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/agentcore/internal/provider"
	"github.com/nexuscore/agentcore/pkg/models"
)

// Step is one scripted call-and-response pair. Exactly one of Response
// or StreamDeltas should be set, matching whichever of Chat/ChatStream
// the loop is expected to invoke next.
type Step struct {
	Response     models.Response
	StreamDeltas []string
	Err          error
}

// Scripted is a Provider that plays back a fixed list of Steps in
// order, panicking (via a returned error) if called more times than
// scripted; callers should size the script to the exact number of
// loop iterations under test.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []call
	model string
}

type call struct {
	streaming bool
	messages  []models.ChatMessage
	tools     []provider.ToolSpec
}

// NewScripted returns a Scripted provider that plays steps in order.
func NewScripted(model string, steps ...Step) *Scripted {
	return &Scripted{steps: steps, model: model}
}

func (s *Scripted) Name() string         { return "tape" }
func (s *Scripted) DefaultModel() string { return s.model }

// Calls returns the recorded calls made so far, for assertions.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Scripted) next() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) >= len(s.steps) {
		return Step{}, fmt.Errorf("tape: no scripted step for call %d", len(s.calls)+1)
	}
	step := s.steps[len(s.calls)]
	return step, nil
}

func (s *Scripted) record(c call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *Scripted) Chat(ctx context.Context, messages []models.ChatMessage, tools []provider.ToolSpec, model string) (models.Response, error) {
	step, err := s.next()
	if err != nil {
		return models.Response{}, err
	}
	s.record(call{messages: messages, tools: tools})
	if step.Err != nil {
		return models.Response{FinishReason: "error"}, step.Err
	}
	return step.Response, nil
}

func (s *Scripted) ChatStream(ctx context.Context, messages []models.ChatMessage, model string) (<-chan models.StreamChunk, error) {
	step, err := s.next()
	if err != nil {
		return nil, err
	}
	s.record(call{streaming: true, messages: messages})

	out := make(chan models.StreamChunk, len(step.StreamDeltas))
	for _, d := range step.StreamDeltas {
		out <- models.StreamChunk{Delta: d}
	}
	close(out)
	return out, nil
}
