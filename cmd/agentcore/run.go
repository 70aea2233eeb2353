package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nexuscore/agentcore/internal/config"
	"github.com/nexuscore/agentcore/internal/retry"
	"github.com/nexuscore/agentcore/pkg/models"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent runtime and all enabled channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runApp(cmd.Context(), cfg)
		},
	}
}

func runApp(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Cron.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if err := a.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	metricsSrv := startMetricsServer(a, cfg)

	a.log.Info(ctx, "agentcore started",
		"channels", len(a.channels.All()),
		"cron", cfg.Cron.Enabled,
		"metrics_port", cfg.Server.MetricsPort,
	)

	if len(a.channels.All()) == 0 {
		// Cron-only deployment: nothing inbound, just run until signalled.
		<-ctx.Done()
	}

	// Inbound pump: one goroutine per turn. Per-chat ordering is the
	// agent's per-key lock, not this loop, so slow turns on one chat
	// never stall the others.
	inbound := a.channels.AggregateMessages(ctx)
	for msg := range inbound {
		if msg == nil {
			continue
		}
		if !senderAllowed(&cfg.Channels, msg) {
			a.log.Debug(ctx, "sender filtered", "channel", msg.Channel, "sender", msg.SenderID)
			continue
		}
		a.metrics.MessageCounter.WithLabelValues(string(msg.Channel), "inbound").Inc()
		go a.handleInbound(ctx, msg)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	a.close(shutdownCtx)
	a.log.Info(shutdownCtx, "agentcore stopped")
	return nil
}

func (a *app) handleInbound(ctx context.Context, msg *models.Message) {
	reply, err := a.agent.Process(ctx, msg)
	if err != nil {
		a.log.Error(ctx, "turn failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		a.metrics.ErrorCounter.WithLabelValues("agent", "turn").Inc()
		return
	}
	if reply == "" {
		return
	}

	outbound, ok := a.channels.GetOutbound(msg.Channel)
	if !ok {
		a.log.Warn(ctx, "no outbound adapter for reply", "channel", msg.Channel)
		return
	}
	res := retry.Do(ctx, retry.Exponential(3, 500*time.Millisecond, 5*time.Second), func() error {
		return outbound.Send(ctx, &models.Message{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	})
	if res.Err != nil {
		a.log.Error(ctx, "reply delivery failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "attempts", res.Attempts, "error", res.Err)
		a.metrics.ErrorCounter.WithLabelValues("channel", "send").Inc()
		return
	}
	a.metrics.MessageCounter.WithLabelValues(string(msg.Channel), "outbound").Inc()
}

// senderAllowed applies the channel's allow_from access policy.
// Filtering lives here rather than in each adapter so every platform
// gets the same semantics.
func senderAllowed(cfg *config.ChannelsConfig, msg *models.Message) bool {
	var dm, group config.ChannelPolicyConfig
	switch msg.Channel {
	case models.ChannelTelegram:
		dm, group = cfg.Telegram.DM, cfg.Telegram.Group
	case models.ChannelDiscord:
		dm, group = cfg.Discord.DM, cfg.Discord.Group
	case models.ChannelSlack:
		dm, group = cfg.Slack.DM, cfg.Slack.Group
	default:
		return true
	}
	return policyAllows(dm, msg.SenderID) || policyAllows(group, msg.SenderID)
}

func policyAllows(p config.ChannelPolicyConfig, senderID string) bool {
	switch p.Policy {
	case "", "open":
		return true
	case "disabled":
		return false
	case "allowlist":
		for _, allowed := range p.AllowFrom {
			if allowed == "*" || allowed == senderID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func startMetricsServer(a *app, cfg *config.Config) *http.Server {
	if cfg.Server.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error(context.Background(), "metrics server", "error", err)
		}
	}()
	return srv
}
