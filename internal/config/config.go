package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for the agent orchestration core.
// It is intentionally trimmed to the components this core owns: the actor
// registry has no config surface of its own, but everything it wires
// (session store, workspace assembly, channel adapters, the provider, tool
// execution, and the cron scheduler) does.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Channels  ChannelsConfig  `yaml:"channels"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Cron      CronConfig      `yaml:"cron"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the process's own listen ports (health/metrics and
// any control surface the cmd wiring exposes).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// WorkspaceConfig configures assembly of the agent's system prompt document
// (identity, workspace notes, a memory block, and a tool index).
type WorkspaceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	MaxChars     int    `yaml:"max_chars"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// CronConfig seeds the scheduler's store with jobs declared in config,
// alongside whatever jobs the `cron` tool adds at runtime.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`

	// StorePath is where tool-registered jobs persist between restarts
	// (a single JSON document, written atomically after every mutation).
	StorePath string `yaml:"store_path"`
}

// CronJobConfig defines a scheduled job. It doubles as the on-disk record
// for internal/cron's persisted JobStore, so every field also
// carries a json tag alongside its yaml one.
type CronJobConfig struct {
	ID       string             `yaml:"id" json:"id"`
	Name     string             `yaml:"name" json:"name"`
	Type     string             `yaml:"type" json:"type"`
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Schedule CronScheduleConfig `yaml:"schedule" json:"schedule"`
	Message  *CronMessageConfig `yaml:"message,omitempty" json:"message,omitempty"`
	Webhook  *CronWebhookConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Custom   *CronCustomConfig  `yaml:"custom,omitempty" json:"custom,omitempty"`
	Retry    CronRetryConfig    `yaml:"retry" json:"retry"`

	// DeleteAfterRun removes a one-shot ("at") job once it has fired,
	// instead of leaving it behind disabled.
	DeleteAfterRun bool `yaml:"delete_after_run" json:"delete_after_run,omitempty"`
}

// CronScheduleConfig defines when a job runs: a one-shot time, a
// periodic interval, or a crontab expression.
type CronScheduleConfig struct {
	Cron     string        `yaml:"cron" json:"cron,omitempty"`
	Every    time.Duration `yaml:"every" json:"every,omitempty"`
	At       string        `yaml:"at" json:"at,omitempty"`
	Timezone string        `yaml:"timezone" json:"timezone,omitempty"`
}

// CronMessageConfig defines an agent-turn job payload.
// Either Content or a Template rendered against Data/now/date/time may
// supply the turn's text; Tools is only valid on "agent" jobs, never on
// plain "message" jobs (enforced by the scheduler when building the job).
type CronMessageConfig struct {
	Channel   string         `yaml:"channel" json:"channel"`
	ChannelID string         `yaml:"channel_id" json:"channel_id"`
	Content   string         `yaml:"content" json:"content,omitempty"`
	Template  string         `yaml:"template" json:"template,omitempty"`
	Data      map[string]any `yaml:"data" json:"data,omitempty"`
	Tools     []string       `yaml:"tools" json:"tools,omitempty"`

	// Deliver sends the agent's reply out through Channel/ChannelID.
	// Without it the turn still runs (and lands in the session log) but
	// nothing is pushed to the platform.
	Deliver bool `yaml:"deliver" json:"deliver,omitempty"`
}

// CronWebhookConfig defines a webhook job payload, a config-only extension
// the scheduler's Payload variant does not need to understand; cmd wiring
// translates it into an agent_turn payload that calls the http tool.
type CronWebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body    string            `yaml:"body" json:"body,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
	Auth    *CronWebhookAuth  `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// CronWebhookAuth configures authentication for a webhook job.
type CronWebhookAuth struct {
	Type   string `yaml:"type" json:"type"`
	Token  string `yaml:"token" json:"token,omitempty"`
	User   string `yaml:"user" json:"user,omitempty"`
	Pass   string `yaml:"pass" json:"pass,omitempty"`
	Header string `yaml:"header" json:"header,omitempty"`
}

// CronCustomConfig dispatches a job to a handler registered at runtime via
// cron.Scheduler.RegisterCustomHandler, for jobs whose behavior doesn't fit
// message/agent/webhook (e.g. a job that prunes old sessions).
type CronCustomConfig struct {
	Handler string         `yaml:"handler" json:"handler"`
	Args    map[string]any `yaml:"args" json:"args,omitempty"`
}

// CronRetryConfig controls retry/backoff for a failed job run.
type CronRetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries,omitempty"`
	Backoff    time.Duration `yaml:"backoff" json:"backoff,omitempty"`
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff,omitempty"`
}

// LoggingConfig configures the structured logger (internal/observability).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file (YAML, JSON, or JSON5 by
// extension), resolving $include directives and applying environment
// variable expansion, defaults, and validation in that order.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(cfg)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Cron.StorePath == "" {
		cfg.Cron.StorePath = "cron_jobs.json"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "main"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "sessions"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if cfg.SlackScope == "" {
		cfg.SlackScope = "thread"
	}
	if cfg.DiscordScope == "" {
		cfg.DiscordScope = "thread"
	}
	applySessionScopeDefaults(&cfg.Scoping)
}

func applySessionScopeDefaults(cfg *SessionScopeConfig) {
	if cfg.DMScope == "" {
		cfg.DMScope = "main"
	}
	if cfg.Reset.Mode == "" {
		cfg.Reset.Mode = "never"
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
	if cfg.SoulFile == "" {
		cfg.SoulFile = "SOUL.md"
	}
	if cfg.UserFile == "" {
		cfg.UserFile = "USER.md"
	}
	if cfg.IdentityFile == "" {
		cfg.IdentityFile = "IDENTITY.md"
	}
	if cfg.ToolsFile == "" {
		cfg.ToolsFile = "TOOLS.md"
	}
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = "MEMORY.md"
	}
}

// DefaultWorkspaceConfig returns a workspace config with defaults applied.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

func applyToolsDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Tools.Execution.Timeout == 0 {
		cfg.Tools.Execution.Timeout = 60 * time.Second
	}
	if cfg.Tools.Subagents.MaxActive == 0 {
		cfg.Tools.Subagents.MaxActive = 3
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
}

// ConfigValidationError reports one or more configuration problems found by
// validateConfig.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if !validScope(cfg.Session.SlackScope) {
		issues = append(issues, "session.slack_scope must be \"thread\" or \"channel\"")
	}
	if !validScope(cfg.Session.DiscordScope) {
		issues = append(issues, "session.discord_scope must be \"thread\" or \"channel\"")
	}
	if cfg.Session.LockTimeout < 0 {
		issues = append(issues, "session.lock_timeout must be >= 0")
	}
	if !validDMScope(cfg.Session.Scoping.DMScope) {
		issues = append(issues, "session.scoping.dm_scope must be \"main\", \"per-peer\", or \"per-channel-peer\"")
	}
	if !validResetMode(cfg.Session.Scoping.Reset.Mode) {
		issues = append(issues, "session.scoping.reset.mode must be \"never\", \"daily\", \"idle\", or \"daily+idle\"")
	}
	if cfg.Session.Scoping.Reset.AtHour < 0 || cfg.Session.Scoping.Reset.AtHour > 23 {
		issues = append(issues, "session.scoping.reset.at_hour must be between 0 and 23")
	}
	if cfg.Session.Scoping.Reset.IdleMinutes < 0 {
		issues = append(issues, "session.scoping.reset.idle_minutes must be >= 0")
	}
	for convType, resetCfg := range cfg.Session.Scoping.ResetByType {
		if !validConversationType(convType) {
			issues = append(issues, fmt.Sprintf("session.scoping.reset_by_type key %q must be \"dm\", \"group\", or \"thread\"", convType))
		}
		if !validResetMode(resetCfg.Mode) {
			issues = append(issues, fmt.Sprintf("session.scoping.reset_by_type[%s].mode must be \"never\", \"daily\", \"idle\", or \"daily+idle\"", convType))
		}
	}
	for channel, resetCfg := range cfg.Session.Scoping.ResetByChannel {
		if !validResetMode(resetCfg.Mode) {
			issues = append(issues, fmt.Sprintf("session.scoping.reset_by_channel[%s].mode must be \"never\", \"daily\", \"idle\", or \"daily+idle\"", channel))
		}
	}
	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if provider := strings.ToLower(strings.TrimSpace(cfg.Tools.WebSearch.Provider)); provider != "" {
		switch provider {
		case "searxng", "brave", "duckduckgo":
		default:
			issues = append(issues, "tools.websearch.provider must be \"searxng\", \"brave\", or \"duckduckgo\"")
		}
	}
	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if cfg.Tools.Subagents.MaxActive < 0 {
		issues = append(issues, "tools.subagents.max_active must be >= 0")
	}

	if cfg.Cron.Enabled {
		for i, job := range cfg.Cron.Jobs {
			if strings.TrimSpace(job.ID) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].id is required", i))
			}
			if strings.TrimSpace(job.Type) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].type is required", i))
			}
			if strings.TrimSpace(job.Schedule.Cron) == "" && job.Schedule.Every == 0 && strings.TrimSpace(job.Schedule.At) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].schedule is required", i))
			}
			switch strings.ToLower(strings.TrimSpace(job.Type)) {
			case "webhook":
				if job.Webhook == nil || strings.TrimSpace(job.Webhook.URL) == "" {
					issues = append(issues, fmt.Sprintf("cron.jobs[%d].webhook.url is required for webhook jobs", i))
				}
			case "message", "agent":
			default:
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].type must be message, agent, or webhook", i))
			}
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

func validScope(scope string) bool {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "thread", "channel":
		return true
	default:
		return false
	}
}

func validDMScope(scope string) bool {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "main", "per-peer", "per-channel-peer":
		return true
	default:
		return false
	}
}

func validResetMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "never", "daily", "idle", "daily+idle":
		return true
	default:
		return false
	}
}

func validConversationType(convType string) bool {
	switch strings.ToLower(strings.TrimSpace(convType)) {
	case "dm", "group", "thread":
		return true
	default:
		return false
	}
}
