package config

// DefaultConfig returns the default configuration with built-in providers and agents.
func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "ollama",
		Providers: map[string]ProviderConfig{
			"ollama": {
				Type:           "ollama",
				Model:          "gemma",
				BaseURL:        "http://localhost:11434",
				Temperature:    0.2,
				MaxTokens:      4096,
				TimeoutSeconds: 120,
			},
			"claude": {
				Type:           "cli",
				Command:        "claude",
				Format:         "claude-json",
				TimeoutSeconds: 300,
			},
			"codex": {
				Type:           "cli",
				Command:        "codex",
				Format:         "codex-json",
				TimeoutSeconds: 300,
			},
			"goose": {
				Type:           "cli",
				Command:        "goose",
				Format:         "goose-json",
				TimeoutSeconds: 300,
			},
			"mock": {
				Type: "mock",
			},
		},
		Agents: map[string]AgentConfig{
			"orchestrator": {
				Description:  "Plans a request and fans it out to the other agents",
				SystemPrompt: "You coordinate task planning and agent workflows.",
			},
			"file_agent": {
				Description:  "Reads, writes and lists files",
				SystemPrompt: "You manage files in the working directory.",
				Tools:        []string{"read_file", "write_file", "list_directory"},
			},
			"terminal_agent": {
				Description:  "Runs shell commands",
				SystemPrompt: "You run shell commands to inspect and change the working directory.",
				Tools:        []string{"run_command"},
			},
			"code_agent": {
				Description:  "Reads and writes source code",
				SystemPrompt: "You implement features and write production code.",
				Tools:        []string{"read_file", "write_file", "list_directory"},
				MultiStep:    true,
			},
			"web_agent": {
				Description:  "Fetches web pages and exercises HTTP APIs",
				SystemPrompt: "You research web content and test REST endpoints.",
				Tools:        []string{"fetch_url", "test_api"},
			},
		},
		Workflows: WorkflowsConfig{
			MaxParallelTasks:   5,
			TaskTimeoutSeconds: 300,
			RetryAttempts:      3,
			RetryDelayMS:       2000,
			DefaultAgent:       "file_agent",
		},
		Tools: ToolsConfig{
			CommandTimeoutSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
