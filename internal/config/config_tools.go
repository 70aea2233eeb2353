package config

import "time"

type ToolsConfig struct {
	WebSearch WebSearchConfig     `yaml:"websearch"`
	WebFetch  WebFetchConfig      `yaml:"web_fetch"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Subagents SubagentsConfig     `yaml:"subagents"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool, optionally scoped by channel.
type ToolPolicyRule struct {
	Tool     string   `yaml:"tool"`
	Action   string   `yaml:"action"`   // "allow" | "deny"
	Channels []string `yaml:"channels"` // optional channel filters
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations int                   `yaml:"max_iterations"`
	Parallelism   int                   `yaml:"parallelism"`
	Timeout       time.Duration         `yaml:"timeout"`
	MaxAttempts   int                   `yaml:"max_attempts"`
	RetryBackoff  time.Duration         `yaml:"retry_backoff"`
	ResultGuard   ToolResultGuardConfig `yaml:"result_guard"`
}

// ToolResultGuardConfig controls redaction of tool results before persistence.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"` // Applies builtin secret detection patterns
}

// SubagentsConfig bounds background worker fan-out.
type SubagentsConfig struct {
	// MaxActive caps concurrently running subagents per process.
	MaxActive int `yaml:"max_active"`
}

type WebSearchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	URL         string `yaml:"url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

type WebFetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}
