package config

import "time"

// ProviderConfig defines how to reach a model. Several agents can share
// one provider.
type ProviderConfig struct {
	Type           string   `json:"type"`                      // "ollama", "cli" or "mock"
	Model          string   `json:"model,omitempty"`           // Model name passed to the provider
	BaseURL        string   `json:"base_url,omitempty"`        // Ollama endpoint
	Command        string   `json:"command,omitempty"`         // CLI binary (cli only)
	Args           []string `json:"args,omitempty"`            // Args placed before the prompt (cli only)
	Format         string   `json:"format,omitempty"`          // CLI output format: text, claude-json, codex-json, goose-json
	Temperature    float64  `json:"temperature,omitempty"`     // Sampling temperature
	MaxTokens      int      `json:"max_tokens,omitempty"`      // Generation cap
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"` // Per-request timeout
	Responses      []string `json:"responses,omitempty"`       // Scripted replies (mock only)
}

// Timeout returns the request timeout, or 0 when unset.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AgentConfig defines a named agent: which provider it thinks with, its
// prompt and the tools it may call.
type AgentConfig struct {
	Provider      string   `json:"provider,omitempty"`       // Key into Providers; empty means DefaultProvider
	Description   string   `json:"description,omitempty"`    // Shown to the planner
	SystemPrompt  string   `json:"system_prompt,omitempty"`  // Role-specific system prompt
	MaxIterations int      `json:"max_iterations,omitempty"` // Think/act rounds in multi-step mode
	HistoryLimit  int      `json:"history_limit,omitempty"`  // Messages included in each prompt
	MultiStep     bool     `json:"multi_step,omitempty"`     // Feed tool results back into another think step
	Tools         []string `json:"tools,omitempty"`          // Allowed tools for this agent
}

// WorkflowsConfig holds executor defaults.
type WorkflowsConfig struct {
	MaxParallelTasks   int    `json:"max_parallel_tasks"`
	TaskTimeoutSeconds int    `json:"task_timeout_seconds"`
	RetryAttempts      int    `json:"retry_attempts"`
	RetryDelayMS       int    `json:"retry_delay_ms"`
	DefaultAgent       string `json:"default_agent"` // Planner fallback
}

// TaskTimeout returns the default per-task timeout.
func (w WorkflowsConfig) TaskTimeout() time.Duration {
	return time.Duration(w.TaskTimeoutSeconds) * time.Second
}

// RetryDelay returns the initial delay between task attempts.
func (w WorkflowsConfig) RetryDelay() time.Duration {
	return time.Duration(w.RetryDelayMS) * time.Millisecond
}

// ToolsConfig configures the built-in tools and their sandbox.
type ToolsConfig struct {
	WorkDir               string   `json:"work_dir"` // Sandbox root; empty means the current directory
	ForbiddenCommands     []string `json:"forbidden_commands,omitempty"`
	CommandTimeoutSeconds int      `json:"command_timeout_seconds"`
	WebTimeoutSeconds     int      `json:"web_timeout_seconds,omitempty"` // fetch_url and test_api; default 30
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json, auto
}

// Config is the top-level configuration.
type Config struct {
	DefaultProvider string                    `json:"default_provider"`
	Providers       map[string]ProviderConfig `json:"providers"`
	Agents          map[string]AgentConfig    `json:"agents"`
	Workflows       WorkflowsConfig           `json:"workflows"`
	Tools           ToolsConfig               `json:"tools"`
	Logging         LoggingConfig             `json:"logging"`
}

// Provider returns the provider an agent should use.
func (c *Config) Provider(agentName string) (string, ProviderConfig, bool) {
	name := c.DefaultProvider
	if a, ok := c.Agents[agentName]; ok && a.Provider != "" {
		name = a.Provider
	}
	p, ok := c.Providers[name]
	return name, p, ok
}
