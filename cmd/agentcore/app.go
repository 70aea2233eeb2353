package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexuscore/agentcore/internal/agent"
	"github.com/nexuscore/agentcore/internal/channels"
	"github.com/nexuscore/agentcore/internal/channels/discord"
	slackadapter "github.com/nexuscore/agentcore/internal/channels/slack"
	"github.com/nexuscore/agentcore/internal/channels/telegram"
	"github.com/nexuscore/agentcore/internal/config"
	"github.com/nexuscore/agentcore/internal/cron"
	jobstore "github.com/nexuscore/agentcore/internal/jobs"
	"github.com/nexuscore/agentcore/internal/observability"
	"github.com/nexuscore/agentcore/internal/provider"
	"github.com/nexuscore/agentcore/internal/registry"
	"github.com/nexuscore/agentcore/internal/sessions"
	crontool "github.com/nexuscore/agentcore/internal/tools/cron"
	exectools "github.com/nexuscore/agentcore/internal/tools/exec"
	"github.com/nexuscore/agentcore/internal/tools/files"
	jobstool "github.com/nexuscore/agentcore/internal/tools/jobs"
	"github.com/nexuscore/agentcore/internal/tools/message"
	"github.com/nexuscore/agentcore/internal/tools/subagent"
	"github.com/nexuscore/agentcore/internal/tools/websearch"
	"github.com/nexuscore/agentcore/pkg/models"
)

// app holds the assembled runtime: every long-lived actor, spawned
// into one process-local registry and resolved by name from
// there on.
type app struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics

	reg      *registry.Registry
	store    sessions.Store
	agent    *agent.Agent
	runtime  *agent.Runtime
	channels *channels.Registry

	scheduler *cron.Scheduler
	jobs      *cron.PersistentJobs
	subagents *subagent.Manager

	shutdownTracer func(context.Context) error
}

// buildApp wires the full actor topology leaves-first: provider, then
// agent, then scheduler and channels, then subagents.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.log = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	a.metrics = observability.NewMetrics()

	_, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcore",
		ServiceVersion: version,
		Endpoint:       os.Getenv("AGENTCORE_OTLP_ENDPOINT"),
	})
	a.shutdownTracer = shutdown

	store, err := sessions.NewFileStore(cfg.Session.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.store = store
	locker := sessions.NewLocalLocker(cfg.Session.LockTimeout)

	a.reg = registry.New()

	prov, model, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if err := a.reg.Spawn(ctx, "provider", prov, registry.DefaultRestartPolicy); err != nil {
		return nil, err
	}

	tools := agent.NewToolRegistry()
	registerWorkspaceTools(tools, cfg)

	loopCfg := agent.DefaultLoopConfig()
	if cfg.Tools.Execution.MaxIterations > 0 {
		loopCfg.MaxIterations = cfg.Tools.Execution.MaxIterations
	}
	if cfg.Tools.Execution.Timeout > 0 {
		loopCfg.ToolTimeout = cfg.Tools.Execution.Timeout
	}
	a.runtime, err = agent.NewRuntimeFromRegistry(a.reg, "provider", tools, store, loopCfg)
	if err != nil {
		return nil, err
	}
	a.runtime.SetDefaultModel(model)
	a.runtime.SetToolResultGuard(agent.NewToolResultGuard(cfg.Tools.Execution.ResultGuard))

	a.agent = agent.NewAgent(cfg.Session.DefaultAgentID, a.runtime, store, locker, a.reg)
	if err := a.reg.Spawn(ctx, "agent", a.agent, registry.DefaultRestartPolicy); err != nil {
		return nil, err
	}

	// Subagents run the same loop under tighter budgets with a strict
	// tool subset: workspace tools only, never message/spawn/cron.
	subTools := agent.NewToolRegistry()
	registerWorkspaceTools(subTools, cfg)
	subRuntime, err := agent.NewRuntimeFromRegistry(a.reg, "provider", subTools, store, agent.SubagentLoopConfig())
	if err != nil {
		return nil, err
	}
	subRuntime.SetDefaultModel(model)
	a.subagents = subagent.NewManager(subRuntime, cfg.Tools.Subagents.MaxActive)
	a.subagents.SetAnnouncer(func(ctx context.Context, parentSessionKey, msg string) error {
		ag, err := registry.Resolve[*agent.Agent](a.reg, "agent")
		if err != nil {
			return err
		}
		channel, chatID := splitSessionKey(parentSessionKey)
		_, err = ag.Announce(ctx, channel, chatID, msg)
		return err
	})

	a.scheduler, err = cron.NewScheduler(cfg.Cron,
		cron.WithLogger(a.log.Slog().With("component", "cron")),
		cron.WithActorRegistry(a.reg),
		cron.WithAgentActorName("agent"),
	)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	a.jobs = cron.NewPersistentJobs(a.scheduler, cron.NewFileJobStore(cfg.Cron.StorePath))
	if err := a.jobs.LoadInto(ctx); err != nil {
		a.log.Warn(ctx, "cron store load failed, starting with config jobs only", "error", err)
	}
	if err := a.reg.Spawn(ctx, "scheduler", a.scheduler, registry.DefaultRestartPolicy); err != nil {
		return nil, err
	}

	ct := crontool.NewTool(a.scheduler)
	ct.SetRegistrar(a.jobs)
	tools.Register(ct)
	tools.Register(message.NewTool("message", a.reg, store, cfg.Session.DefaultAgentID))

	// Async tool jobs: in-memory by default, Postgres when state must
	// survive restarts.
	var toolJobStore jobstore.Store
	if dsn := os.Getenv("AGENTCORE_JOBS_DSN"); dsn != "" {
		pg, err := jobstore.NewPostgresStoreFromDSN(dsn, nil)
		if err != nil {
			return nil, fmt.Errorf("open job store: %w", err)
		}
		toolJobStore = pg
	} else {
		toolJobStore = jobstore.NewMemoryStore()
	}
	asyncCfg := agent.DefaultToolExecConfig()
	asyncCfg.PerToolTimeout = loopCfg.ToolTimeout
	tools.Register(jobstool.NewTool(agent.NewToolExecutor(tools, asyncCfg), toolJobStore))
	tools.Register(subagent.NewSpawnTool(a.subagents))
	tools.Register(subagent.NewStatusTool(a.subagents))
	tools.Register(subagent.NewCancelTool(a.subagents))

	a.runtime.SetSystemPrompt(buildSystemPrompt(cfg.Workspace, tools))
	subRuntime.SetSystemPrompt(buildSystemPrompt(cfg.Workspace, subTools))

	a.channels = channels.NewRegistry()
	if err := a.buildChannels(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// buildChannels constructs each enabled adapter and registers it twice:
// in the channel registry (lifecycle + inbound aggregation) and in the
// actor registry under "channel.<name>" so the agent, scheduler, and
// message tool can resolve its outbound surface by name.
func (a *app) buildChannels(ctx context.Context) error {
	logger := a.log.Slog()

	if a.cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:  a.cfg.Channels.Telegram.BotToken,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		a.channels.Register(adapter)
		if err := a.reg.Spawn(ctx, "channel.telegram", adapter, registry.ChannelRestartPolicy); err != nil {
			return err
		}
	}
	if a.cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:  a.cfg.Channels.Discord.BotToken,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		a.channels.Register(adapter)
		if err := a.reg.Spawn(ctx, "channel.discord", adapter, registry.ChannelRestartPolicy); err != nil {
			return err
		}
	}
	if a.cfg.Channels.Slack.Enabled {
		adapter, err := slackadapter.NewAdapter(slackadapter.Config{
			BotToken: a.cfg.Channels.Slack.BotToken,
			AppToken: a.cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("slack adapter: %w", err)
		}
		a.channels.Register(adapter)
		if err := a.reg.Spawn(ctx, "channel.slack", adapter, registry.ChannelRestartPolicy); err != nil {
			return err
		}
	}
	return nil
}

// close tears the process down in reverse dependency order.
func (a *app) close(ctx context.Context) {
	if a.channels != nil {
		if err := a.channels.StopAll(ctx); err != nil {
			a.log.Warn(ctx, "channel shutdown", "error", err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.log.Warn(ctx, "scheduler shutdown", "error", err)
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.log.Warn(ctx, "tracer shutdown", "error", err)
		}
	}
}

// buildProvider constructs the configured LLM provider, falling back
// through llm.fallback_chain when the default fails to construct.
// Returns the provider and its default model.
func buildProvider(cfg config.LLMConfig) (provider.Provider, string, error) {
	tried := make([]string, 0, 1+len(cfg.FallbackChain))
	candidates := append([]string{cfg.DefaultProvider}, cfg.FallbackChain...)

	var lastErr error
	for _, name := range candidates {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		pc, ok := cfg.Providers[name]
		if !ok {
			lastErr = fmt.Errorf("llm.providers missing entry %q", name)
			tried = append(tried, name)
			continue
		}
		p, err := newProvider(name, pc)
		if err != nil {
			lastErr = err
			tried = append(tried, name)
			continue
		}
		return p, pc.DefaultModel, nil
	}
	return nil, "", fmt.Errorf("no usable LLM provider (tried %s): %w", strings.Join(tried, ", "), lastErr)
}

func newProvider(name string, pc config.LLMProviderConfig) (provider.Provider, error) {
	switch name {
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxTokens:    pc.MaxTokens,
		})
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", name)
	}
}

// registerWorkspaceTools installs the filesystem, shell, and web tools
// shared by the main agent and subagents.
func registerWorkspaceTools(tools *agent.ToolRegistry, cfg *config.Config) {
	fc := files.Config{Workspace: cfg.Workspace.Path}
	tools.Register(files.NewReadTool(fc))
	tools.Register(files.NewWriteTool(fc))
	tools.Register(files.NewEditTool(fc))
	tools.Register(files.NewApplyPatchTool(fc))

	manager := exectools.NewManager(cfg.Workspace.Path)
	tools.Register(exectools.NewExecTool("exec", manager))
	tools.Register(exectools.NewProcessTool(manager))

	if cfg.Tools.WebSearch.Enabled {
		tools.Register(websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:     cfg.Tools.WebSearch.URL,
			BraveAPIKey:    cfg.Tools.WebSearch.BraveAPIKey,
			DefaultBackend: websearch.SearchBackend(cfg.Tools.WebSearch.Provider),
		}))
	}
	if cfg.Tools.WebFetch.Enabled {
		tools.Register(websearch.NewWebFetchTool(&websearch.FetchConfig{
			MaxChars: cfg.Tools.WebFetch.MaxChars,
		}))
	}
}

// buildSystemPrompt assembles the agent's system prompt document from
// the workspace: identity, workspace notes, a memory block, and a
// tool index, in that order.
func buildSystemPrompt(ws config.WorkspaceConfig, tools *agent.ToolRegistry) string {
	var b strings.Builder

	for _, name := range []string{ws.IdentityFile, ws.SoulFile, ws.AgentsFile, ws.UserFile} {
		appendWorkspaceFile(&b, ws.Path, name)
	}
	appendWorkspaceFile(&b, ws.Path, ws.MemoryFile)
	appendWorkspaceFile(&b, ws.Path, ws.ToolsFile)

	b.WriteString("## Tools\n\n")
	for _, tool := range tools.AsLLMTools() {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}

	prompt := b.String()
	if ws.MaxChars > 0 && len(prompt) > ws.MaxChars {
		prompt = prompt[:ws.MaxChars]
	}
	return prompt
}

func appendWorkspaceFile(b *strings.Builder, root, name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil || len(data) == 0 {
		return
	}
	b.Write(data)
	b.WriteString("\n\n")
}

// splitSessionKey undoes models.SessionKey: "<channel>:<chat_id>".
func splitSessionKey(key string) (models.ChannelType, string) {
	channel, chatID, ok := strings.Cut(key, ":")
	if !ok {
		return models.ChannelCLI, key
	}
	return models.ChannelType(channel), chatID
}
