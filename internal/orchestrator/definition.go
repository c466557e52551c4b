package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/agentflow/internal/scheduler"
)

// Duration is a time.Duration that reads "90s" style strings or a bare
// number of seconds from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// TaskSpec describes one task before it is bound into a workflow.
type TaskSpec struct {
	ID          string   `yaml:"id,omitempty"`          // Generated when empty
	Name        string   `yaml:"name,omitempty"`        // Defaults to task_<index>
	Description string   `yaml:"description,omitempty"`
	Agent       string   `yaml:"agent,omitempty"`       // Defaults to workflows.default_agent
	Input       string   `yaml:"input"`
	Priority    string   `yaml:"priority,omitempty"`    // low, normal, high, critical
	DependsOn   []string `yaml:"depends_on,omitempty"`  // Task IDs or names
	Timeout     Duration `yaml:"timeout,omitempty"`     // Defaults to workflows.task_timeout_seconds
	MaxRetries  *int     `yaml:"max_retries,omitempty"` // Defaults to workflows.retry_attempts
	Locks       []string `yaml:"locks,omitempty"`
}

// Definition is a declarative workflow file.
type Definition struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Mode        string     `yaml:"mode,omitempty"` // parallel (default) or sequential
	Tasks       []TaskSpec `yaml:"tasks"`
}

// ParseDefinition decodes a workflow definition. Unknown keys are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads and validates a workflow file. A missing name falls
// back to the file name without its extension.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if def.Name == "" {
		base := filepath.Base(path)
		def.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return def, nil
}

// Validate checks the parts of a definition that do not need the agent table.
func (d *Definition) Validate() error {
	if _, err := scheduler.ParseMode(d.Mode); err != nil {
		return err
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("workflow must define at least one task")
	}
	for i, t := range d.Tasks {
		if strings.TrimSpace(t.Input) == "" {
			return fmt.Errorf("task %d: input is required", i)
		}
		if _, err := scheduler.ParsePriority(t.Priority); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if t.MaxRetries != nil && *t.MaxRetries < 0 {
			return fmt.Errorf("task %d: max_retries must be >= 0", i)
		}
	}
	return nil
}
