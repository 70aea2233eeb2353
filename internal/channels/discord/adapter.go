// Package discord adapts github.com/bwmarrin/discordgo to the
// channels.Adapter contract: websocket session receive, plain-text send.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/pkg/models"
)

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token ("Bot <token>" is applied automatically).
	Token string

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.FullAdapter for Discord.
type Adapter struct {
	config   Config
	session  *discordgo.Session
	messages chan *models.Message
	logger   *slog.Logger
	health   *channels.BaseHealthAdapter

	mu      sync.RWMutex
	started bool
}

// NewAdapter validates config and constructs a Discord adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		messages: make(chan *models.Message, 100),
		logger:   config.Logger.With("adapter", "discord"),
		health:   channels.NewBaseHealthAdapter(models.ChannelDiscord),
	}, nil
}

// Type identifies this adapter's channel.
func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

// Start opens the Discord session and registers the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return channels.ErrInternal("adapter already started", nil)
	}

	session, err := discordgo.New("Bot " + a.config.Token)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		return channels.ErrAuthentication("failed to create discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(a.handleMessageCreate)

	if err := session.Open(); err != nil {
		a.health.SetStatus(false, err.Error())
		return channels.ErrConnection("failed to open discord session", err)
	}

	a.session = session
	a.started = true
	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the Discord session.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	err := a.session.Close()
	a.started = false
	a.health.SetStatus(false, "")
	if err != nil {
		return channels.ErrConnection("failed to close discord session", err)
	}
	a.health.RecordConnectionClosed()
	close(a.messages)
	return nil
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}
	msg := &models.Message{
		Channel:  models.ChannelDiscord,
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		Content:  m.Content,
	}
	a.health.RecordMessageReceived()
	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	default:
		a.logger.Warn("messages channel full, dropping message", "channel_id", msg.ChatID)
		a.health.RecordMessageFailed()
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

// Send delivers a plain-text message to a Discord channel.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	a.mu.RLock()
	session, started := a.session, a.started
	a.mu.RUnlock()
	if !started || session == nil {
		a.health.RecordMessageFailed()
		return channels.ErrUnavailable("adapter not connected", nil)
	}
	if _, err := session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
		a.health.RecordMessageFailed()
		return channels.ErrConnection("send message failed", err)
	}
	a.health.RecordMessageSent()
	return nil
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status { return a.health.Status() }

// HealthCheck reports the adapter's health.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return a.health.HealthCheck(ctx)
}

// Metrics returns a snapshot of adapter counters.
func (a *Adapter) Metrics() channels.MetricsSnapshot { return a.health.Metrics() }
