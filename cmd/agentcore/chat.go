package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nexuscore/agentcore/internal/agent"
	"github.com/nexuscore/agentcore/internal/config"
	tooldisplay "github.com/nexuscore/agentcore/internal/tools"
	"github.com/nexuscore/agentcore/pkg/models"
)

func newChatCommand() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent interactively from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runChat(cmd, cfg, chatID)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat-id", "direct", "session chat id to use")
	return cmd
}

func runChat(cmd *cobra.Command, cfg *config.Config, chatID string) error {
	ctx := cmd.Context()

	// Local chat never needs platform adapters; leave them disabled so
	// a missing bot token doesn't block the REPL.
	cfg.Channels = config.ChannelsConfig{}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if cfg.Cron.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	width := 80
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
		fmt.Printf("agentcore %s, session cli:%s (ctrl-d to exit)\n", version, chatID)
		fmt.Println(strings.Repeat("─", min(width, 80)))
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		chunks, err := a.agent.ProcessStream(ctx, &models.Message{
			Channel:  models.ChannelCLI,
			SenderID: "user",
			ChatID:   chatID,
			Content:  line,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		printed := false
		for chunk := range chunks {
			switch chunk.Kind {
			case agent.ChunkToken:
				fmt.Print(chunk.Text)
				printed = true
			case agent.ChunkToolCall:
				display := tooldisplay.ResolveToolDisplay(chunk.ToolName, nil, "")
				fmt.Println(tooldisplay.FormatToolSummary(display))
			case agent.ChunkToolResult:
				// Tool output is visible to the model, not the user;
				// keep the terminal quiet unless debugging.
			case agent.ChunkDone:
			}
		}
		if printed {
			fmt.Println()
		}
	}
	return scanner.Err()
}
