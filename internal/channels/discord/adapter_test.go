package discord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/pkg/models"
)

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for a missing token")
	}

	cfg = &Config{Token: "abc123"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Logger == nil {
		t.Fatalf("expected a default logger to be assigned")
	}
}

func TestNewAdapter_RejectsMissingToken(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Fatalf("expected an error for a missing token")
	}
}

func TestNewAdapter_Succeeds(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if a.Type() != models.ChannelDiscord {
		t.Fatalf("unexpected type: %v", a.Type())
	}
	if a.Messages() == nil {
		t.Fatalf("expected a non-nil messages channel")
	}
}

func TestAdapter_Send_NotStartedIsUnavailable(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	err = a.Send(context.Background(), &models.Message{ChatID: "chan-1", Content: "hi"})
	if err == nil {
		t.Fatalf("expected an error when the adapter isn't started")
	}
	var chErr *channels.Error
	if !errors.As(err, &chErr) || chErr.Code != channels.ErrCodeUnavailable {
		t.Fatalf("expected ErrCodeUnavailable, got %v", err)
	}
}

func TestAdapter_Stop_NotStartedIsNoop(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("expected stopping an unstarted adapter to be a no-op, got %v", err)
	}
}

func TestAdapter_HandleMessageCreate_IgnoresBotMessages(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Content:   "from a bot",
			Author:    &discordgo.User{ID: "bot-1", Bot: true},
		},
	})

	select {
	case msg := <-a.messages:
		t.Fatalf("expected bot messages to be dropped, got %+v", msg)
	default:
	}
}

func TestAdapter_HandleMessageCreate_IgnoresBlankContent(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Content:   "   ",
			Author:    &discordgo.User{ID: "user-1"},
		},
	})

	select {
	case msg := <-a.messages:
		t.Fatalf("expected blank messages to be dropped, got %+v", msg)
	default:
	}
}

func TestAdapter_HandleMessageCreate_ForwardsUserMessages(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Content:   "hello there",
			Author:    &discordgo.User{ID: "user-1"},
		},
	})

	select {
	case msg := <-a.messages:
		if msg.Channel != models.ChannelDiscord || msg.SenderID != "user-1" || msg.ChatID != "chan-1" || msg.Content != "hello there" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a message to be forwarded")
	}
}

func TestAdapter_HandleMessageCreate_DropsWhenChannelFull(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	for i := 0; i < cap(a.messages); i++ {
		a.messages <- &models.Message{Content: "filler"}
	}

	done := make(chan struct{})
	go func() {
		a.handleMessageCreate(nil, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: "chan-1",
				Content:   "overflow",
				Author:    &discordgo.User{ID: "user-1"},
			},
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected handleMessageCreate not to block when the channel is full")
	}
}

func TestAdapter_HealthCheck_NotConnected(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	health := a.HealthCheck(context.Background())
	if health.Healthy {
		t.Fatalf("expected an unconnected adapter to be unhealthy")
	}
}

func TestAdapter_Metrics_ReflectsChannelType(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc123"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if got := a.Metrics().ChannelType; got != models.ChannelDiscord {
		t.Fatalf("unexpected channel type: %v", got)
	}
}

var _ channels.FullAdapter = (*Adapter)(nil)
