package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agentcore/internal/jobs"
	"github.com/nexuscore/agentcore/pkg/models"
)

// ExecuteAsync dispatches one tool call in the background and returns
// its tracking record immediately. The job's lifecycle lives in store;
// callers poll Get/List (or the jobs tool does it for the LLM). The
// execution itself gets the same timeout/retry wrapping as a
// synchronous call, detached from the caller's ctx so the turn that
// queued it can finish first.
func (e *ToolExecutor) ExecuteAsync(ctx context.Context, name string, input json.RawMessage, store jobs.Store) (*jobs.Job, error) {
	if store == nil {
		return nil, fmt.Errorf("agent: async execution requires a job store")
	}
	if _, ok := e.registry.Get(name); !ok {
		return nil, fmt.Errorf("agent: unknown tool %q", name)
	}

	job := &jobs.Job{
		ID:        uuid.NewString()[:8],
		ToolName:  name,
		Status:    jobs.StatusQueued,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("agent: queue async tool %q: %w", name, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if ms, ok := store.(*jobs.MemoryStore); ok {
		ms.SetCancelFunc(job.ID, cancel)
	}

	go func() {
		defer cancel()

		running := *job
		running.Status = jobs.StatusRunning
		running.StartedAt = time.Now()
		_ = store.Update(runCtx, &running)

		result, err := e.ExecuteSingle(runCtx, name, input)

		finished := running
		finished.FinishedAt = time.Now()
		switch {
		case err != nil:
			finished.Status = jobs.StatusFailed
			finished.Error = err.Error()
		case result != nil && result.IsError:
			finished.Status = jobs.StatusFailed
			finished.Error = result.Content
			finished.Result = &models.ToolResult{Name: name, Content: result.Content, IsError: true}
		default:
			finished.Status = jobs.StatusSucceeded
			if result != nil {
				finished.Result = &models.ToolResult{Name: name, Content: result.Content}
			}
		}
		// Detached context: the update must land even though runCtx may
		// already be cancelled by the job's own cancel func.
		_ = store.Update(context.WithoutCancel(runCtx), &finished)
	}()

	return job, nil
}
