package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names a config file that replaces the project config path.
const EnvConfigPath = "AGENTFLOW_CONFIG"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.agentflow/config.json
// Project: .agentflow/config.json (relative to cwd), or $AGENTFLOW_CONFIG
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath())
}

// GlobalPath returns ~/.agentflow/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".agentflow", "config.json"), nil
}

// ProjectPath returns $AGENTFLOW_CONFIG if set, else .agentflow/config.json.
func ProjectPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(".agentflow", "config.json")
}

// mergeConfigFile decodes a JSON config file over base. Fields absent from
// the file keep their current value; providers and agents merge per key,
// with a file entry replacing the whole entry of the same name.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}

	// Scalar sections: decode again over the base so only present keys change.
	overlay := struct {
		DefaultProvider *string          `json:"default_provider"`
		Workflows       *WorkflowsConfig `json:"workflows"`
		Tools           *ToolsConfig     `json:"tools"`
		Logging         *LoggingConfig   `json:"logging"`
	}{
		DefaultProvider: &base.DefaultProvider,
		Workflows:       &base.Workflows,
		Tools:           &base.Tools,
		Logging:         &base.Logging,
	}
	if err := json.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// Validate checks cross-references between sections.
func (c *Config) Validate() error {
	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %q is not defined", c.DefaultProvider)
	}
	for name, a := range c.Agents {
		if a.Provider == "" {
			continue
		}
		if _, ok := c.Providers[a.Provider]; !ok {
			return fmt.Errorf("agent %q references unknown provider %q", name, a.Provider)
		}
	}
	if c.Workflows.MaxParallelTasks < 0 {
		return fmt.Errorf("workflows.max_parallel_tasks must not be negative")
	}
	return nil
}
