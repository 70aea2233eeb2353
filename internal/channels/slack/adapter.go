// Package slack adapts github.com/slack-go/slack to the channels.Adapter
// contract: Socket Mode event receive, Block Kit send, and health
// reporting, mirroring internal/channels/telegram and
// internal/channels/discord's shape.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/pkg/models"
)

// Config holds configuration for the Slack adapter.
type Config struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string
	// AppToken is the xapp- token used to open the Socket Mode connection.
	AppToken string

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return channels.ErrConfig("bot_token is required", nil)
	}
	if strings.TrimSpace(c.AppToken) == "" {
		return channels.ErrConfig("app_token is required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.FullAdapter for Slack over Socket Mode.
type Adapter struct {
	config Config
	client *slack.Client
	socket *socketmode.Client

	messages chan *models.Message
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	health   *channels.BaseHealthAdapter

	mu        sync.RWMutex
	botUserID string
}

// NewAdapter validates config and constructs a Slack adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	return &Adapter{
		config:   config,
		client:   client,
		socket:   socketmode.New(client, socketmode.OptionDebug(false)),
		messages: make(chan *models.Message, 100),
		logger:   config.Logger.With("adapter", "slack"),
		health:   channels.NewBaseHealthAdapter(models.ChannelSlack),
	}, nil
}

// Type identifies this adapter's channel.
func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

// Start authenticates, opens the Socket Mode connection, and begins
// dispatching Events API callbacks.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	auth, err := a.client.AuthTest()
	if err != nil {
		a.health.SetStatus(false, err.Error())
		return channels.ErrAuthentication("slack auth test failed", err)
	}
	a.mu.Lock()
	a.botUserID = auth.UserID
	a.mu.Unlock()

	a.wg.Add(2)
	go a.consumeEvents(runCtx)
	go func() {
		defer a.wg.Done()
		if err := a.socket.Run(); err != nil && runCtx.Err() == nil {
			a.health.SetStatus(false, err.Error())
			a.logger.Warn("socket mode run exited", "error", err)
		}
	}()

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

// Stop cancels the Socket Mode connection and waits for both goroutines
// to exit.
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
		close(a.messages)
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

func (a *Adapter) consumeEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			if evt.Type == socketmode.EventTypeEventsAPI {
				a.handleEventsAPI(evt)
				continue
			}
			if evt.Type == socketmode.EventTypeSlashCommand || evt.Type == socketmode.EventTypeInteractive {
				if evt.Request != nil {
					a.socket.Ack(*evt.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	msgEvent, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if msgEvent.BotID != "" || (msgEvent.SubType != "" && msgEvent.SubType != "file_share") {
		return
	}

	a.mu.RLock()
	botUserID := a.botUserID
	a.mu.RUnlock()
	text := strings.TrimSpace(strings.ReplaceAll(msgEvent.Text, fmt.Sprintf("<@%s>", botUserID), ""))
	if text == "" {
		return
	}

	msg := &models.Message{
		Channel:  models.ChannelSlack,
		SenderID: msgEvent.User,
		ChatID:   msgEvent.Channel,
		Content:  text,
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

// Send posts a plain-text message as a section block to a Slack channel.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	text := slack.NewTextBlockObject(slack.MarkdownType, msg.Content, false, false)
	section := slack.NewSectionBlock(text, nil, nil)
	if _, _, err := a.client.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionBlocks(section)); err != nil {
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
