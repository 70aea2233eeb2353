package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexuscore/agentcore/internal/config"
	"github.com/nexuscore/agentcore/internal/cron"
)

type check struct {
	name string
	ok   bool
	note string
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := runChecks(cmd)
			failed := 0
			for _, c := range checks {
				mark := "ok"
				if !c.ok {
					mark = "FAIL"
					failed++
				}
				fmt.Printf("%-4s %-24s %s\n", mark, c.name, c.note)
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func runChecks(cmd *cobra.Command) []check {
	var checks []check

	cfg, err := config.Load(configPath)
	if err != nil {
		return append(checks, check{"config", false, err.Error()})
	}
	checks = append(checks, check{"config", true, configPath})

	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if pc, ok := cfg.LLM.Providers[name]; !ok {
		checks = append(checks, check{"llm provider", false, fmt.Sprintf("no providers entry for %q", name)})
	} else if strings.TrimSpace(pc.APIKey) == "" {
		checks = append(checks, check{"llm provider", false, name + ": api_key is empty"})
	} else {
		checks = append(checks, check{"llm provider", true, name})
	}

	if err := os.MkdirAll(cfg.Session.DataDir, 0o755); err != nil {
		checks = append(checks, check{"session store", false, err.Error()})
	} else {
		probe := filepath.Join(cfg.Session.DataDir, ".doctor")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			checks = append(checks, check{"session store", false, "not writable: " + err.Error()})
		} else {
			os.Remove(probe)
			checks = append(checks, check{"session store", true, cfg.Session.DataDir})
		}
	}

	store := cron.NewFileJobStore(cfg.Cron.StorePath)
	if jobs, err := store.Load(cmd.Context()); err != nil {
		checks = append(checks, check{"cron store", false, err.Error()})
	} else {
		checks = append(checks, check{"cron store", true, fmt.Sprintf("%s (%d job(s))", cfg.Cron.StorePath, len(jobs))})
	}

	if info, err := os.Stat(cfg.Workspace.Path); err != nil || !info.IsDir() {
		checks = append(checks, check{"workspace", false, cfg.Workspace.Path + " is not a directory"})
	} else {
		checks = append(checks, check{"workspace", true, cfg.Workspace.Path})
	}

	for _, ch := range []struct {
		name    string
		enabled bool
		token   string
	}{
		{"telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.BotToken},
		{"discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.BotToken},
		{"slack", cfg.Channels.Slack.Enabled, cfg.Channels.Slack.BotToken},
	} {
		if !ch.enabled {
			continue
		}
		if strings.TrimSpace(ch.token) == "" {
			checks = append(checks, check{"channel " + ch.name, false, "enabled but bot_token is empty"})
		} else {
			checks = append(checks, check{"channel " + ch.name, true, "configured"})
		}
	}

	return checks
}
