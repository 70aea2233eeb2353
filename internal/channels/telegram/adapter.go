// Package telegram adapts github.com/go-telegram/bot to the channels.Adapter
// contract: long-polling receive, plain-text send, and health reporting.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/pkg/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather.
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

// Adapter implements channels.FullAdapter for Telegram.
type Adapter struct {
	config   Config
	bot      *tgbot.Bot
	messages chan *models.Message
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	health   *channels.BaseHealthAdapter
}

// NewAdapter validates config and constructs a Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:   config,
		messages: make(chan *models.Message, 100),
		logger:   config.Logger.With("adapter", "telegram"),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelTelegram)
	return a, nil
}

// Type identifies this adapter's channel.
func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// Start connects the bot and begins long-polling for updates.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	b, err := tgbot.New(a.config.Token)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		return channels.ErrAuthentication("failed to create bot", err)
	}
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, a.handleUpdate)
	a.bot = b
	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.messages)
		b.Start(ctx)
	}()

	a.logger.Info("telegram adapter started")
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.health.RecordConnectionClosed()
		a.health.SetStatus(false, "")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// handleUpdate converts an inbound Telegram update and forwards it.
func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := &models.Message{
		Channel:  models.ChannelTelegram,
		SenderID: strconv.FormatInt(update.Message.From.ID, 10),
		ChatID:   strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:  update.Message.Text,
	}
	a.health.RecordMessageReceived()
	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", msg.ChatID)
		a.health.RecordMessageFailed()
	}
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

// Send delivers a plain-text message to a Telegram chat.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if a.bot == nil {
		a.health.RecordMessageFailed()
		return channels.ErrInternal("bot not initialized", nil)
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		a.health.RecordMessageFailed()
		return channels.ErrInvalidInput("invalid chat id", err)
	}
	_, err = a.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	if err != nil {
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
