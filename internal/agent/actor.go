package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/internal/cron"
	"github.com/nexuscore/agentcore/internal/registry"
	"github.com/nexuscore/agentcore/internal/sessions"
	"github.com/nexuscore/agentcore/pkg/models"
)

// Agent is the top-level external surface: process, process_stream,
// and announce. It wraps a Runtime with session lookup and
// per-chat serialization so callers never juggle Session objects or
// locks themselves.
//
// Agent never holds a direct reference to a channel adapter. Like
// every other peer in this tree it resolves "channel.<name>" from the
// process-local actor registry on demand; the registry handle is the
// only thing wired in at construction.
type Agent struct {
	id       string
	runtime  *Runtime
	sessions sessionFinder
	locker   sessions.Locker
	reg      *registry.Registry
}

// sessionFinder is the subset of sessions.Store Agent needs directly;
// kept narrow so tests can fake it without a full Store.
type sessionFinder interface {
	GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error)
}

// NewAgent builds the external-facing actor for one agent identity.
// locker may be nil, in which case turns run unserialized, fine for a
// single-process deployment with one goroutine per session key, but
// internal/sessions.LocalLocker or DBLocker should be supplied whenever
// the same session key might be processed concurrently.
// reg may be nil in tests that never deliver through a channel (e.g.
// exercising Process in isolation); Announce and the cron AgentRunner
// adapter both degrade to "produce the reply, skip delivery" when reg
// is nil or the named channel isn't registered.
func NewAgent(id string, runtime *Runtime, sessions sessionFinder, locker sessions.Locker, reg *registry.Registry) *Agent {
	return &Agent{id: id, runtime: runtime, sessions: sessions, locker: locker, reg: reg}
}

// Process handles one inbound turn end-to-end and returns the
// assistant's final text.
func (a *Agent) Process(ctx context.Context, msg *models.Message) (string, error) {
	session, unlock, err := a.acquire(ctx, msg)
	if err != nil {
		return "", err
	}
	defer unlock()

	return a.runtime.Process(ctx, session, msg)
}

// ProcessStream is the streaming counterpart of Process. The session
// lock is held until the returned
// channel is fully drained.
func (a *Agent) ProcessStream(ctx context.Context, msg *models.Message) (<-chan *ResponseChunk, error) {
	session, unlock, err := a.acquire(ctx, msg)
	if err != nil {
		return nil, err
	}

	chunks, err := a.runtime.ProcessStream(ctx, session, msg)
	if err != nil {
		unlock()
		return nil, err
	}

	out := make(chan *ResponseChunk, 8)
	go func() {
		defer close(out)
		defer unlock()
		for c := range chunks {
			out <- c
		}
	}()
	return out, nil
}

// Announce injects a synthetic system turn (typically a cron job
// firing or a subagent reporting back) and point-to-point sends the
// result through the origin channel's outbound adapter.
func (a *Agent) Announce(ctx context.Context, originChannel models.ChannelType, originChatID, content string) (string, error) {
	msg := &models.Message{
		Channel: models.ChannelSystem,
		ChatID:  originChatID,
		Content: content,
	}

	reply, err := a.Process(ctx, msg)
	if err != nil {
		return "", err
	}

	if sendErr := a.deliver(ctx, originChannel, originChatID, reply); sendErr != nil {
		return reply, sendErr
	}
	return reply, nil
}

// Run adapts Agent to cron.AgentRunner: a fired job becomes one turn
// with sender_id "cron", addressed to the payload's channel/chat pair
// or to the cli:direct session when the payload names none. The reply
// is pushed through the resolved outbound adapter only when the
// payload sets deliver and names both a channel and a chat.
func (a *Agent) Run(ctx context.Context, job *cron.Job) error {
	if job == nil || job.Message == nil {
		return fmt.Errorf("agent: cron job %v missing message payload", job)
	}

	channel := models.ChannelType("cli")
	chatID := "direct"
	if ch := strings.TrimSpace(job.Message.Channel); ch != "" {
		channel = models.ChannelType(ch)
	}
	if id := strings.TrimSpace(job.Message.ChannelID); id != "" {
		chatID = id
	}
	// Delivery needs all three: the deliver flag, a channel, and a
	// chat to address. A deliver=false job still runs its turn (and
	// persists it) without pushing anything outbound.
	deliver := job.Message.Deliver &&
		strings.TrimSpace(job.Message.Channel) != "" &&
		strings.TrimSpace(job.Message.ChannelID) != ""

	reply, err := a.Process(ctx, &models.Message{
		Channel:  channel,
		SenderID: "cron",
		ChatID:   chatID,
		Content:  job.Message.Content,
	})
	if err != nil {
		return err
	}
	if !deliver {
		return nil
	}
	return a.deliver(ctx, channel, chatID, reply)
}

// deliver resolves "channel.<name>" from the actor registry and sends
// content through its outbound adapter. A missing registry or a
// channel with no registered outbound adapter is not an error; it
// simply means this turn has nothing to deliver to (e.g. announce from
// a CLI-originated job).
func (a *Agent) deliver(ctx context.Context, channel models.ChannelType, chatID, content string) error {
	if a.reg == nil {
		return nil
	}
	outbound, err := registry.Resolve[channels.OutboundAdapter](a.reg, "channel."+string(channel))
	if err != nil {
		return nil
	}
	if sendErr := outbound.Send(ctx, &models.Message{Channel: channel, ChatID: chatID, Content: content}); sendErr != nil {
		return fmt.Errorf("agent: deliver to channel %s: %w", channel, sendErr)
	}
	return nil
}

func (a *Agent) acquire(ctx context.Context, msg *models.Message) (*models.Session, func(), error) {
	key := models.SessionKey(msg.Channel, msg.ChatID)

	unlock := func() {}
	if a.locker != nil {
		if err := a.locker.Lock(ctx, key); err != nil {
			return nil, nil, fmt.Errorf("agent: lock session %s: %w", key, err)
		}
		unlock = func() { a.locker.Unlock(key) }
	}

	session, err := a.sessions.GetOrCreate(ctx, key, a.id, msg.Channel, msg.ChatID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("agent: load session %s: %w", key, err)
	}

	return session, unlock, nil
}
