package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(`
name: nightly
description: nightly maintenance
mode: parallel
tasks:
  - name: lint
    agent: code_agent
    input: run the linters
    priority: high
    timeout: 90s
    max_retries: 1
    locks: [repo]
  - name: report
    input: summarize results
    depends_on: [lint]
    timeout: 30
`))
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}

	if def.Name != "nightly" || def.Mode != "parallel" || len(def.Tasks) != 2 {
		t.Fatalf("Unexpected definition %+v", def)
	}

	lint := def.Tasks[0]
	if lint.Agent != "code_agent" || lint.Priority != "high" {
		t.Errorf("Unexpected lint task %+v", lint)
	}
	if time.Duration(lint.Timeout) != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", time.Duration(lint.Timeout))
	}
	if lint.MaxRetries == nil || *lint.MaxRetries != 1 {
		t.Errorf("Expected max_retries 1, got %v", lint.MaxRetries)
	}
	if len(lint.Locks) != 1 || lint.Locks[0] != "repo" {
		t.Errorf("Expected repo lock, got %v", lint.Locks)
	}

	report := def.Tasks[1]
	if time.Duration(report.Timeout) != 30*time.Second {
		t.Errorf("Bare integer timeout should mean seconds, got %v", time.Duration(report.Timeout))
	}
	if report.MaxRetries != nil {
		t.Errorf("Unset max_retries should stay nil, got %d", *report.MaxRetries)
	}
	if len(report.DependsOn) != 1 || report.DependsOn[0] != "lint" {
		t.Errorf("Expected dependency on lint, got %v", report.DependsOn)
	}
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "tasks:\n  - input: x\n    retries: 3\n", "failed to parse workflow YAML"},
		{"bad duration", "tasks:\n  - input: x\n    timeout: soon\n", "invalid duration"},
		{"no tasks", "name: empty\n", "at least one task"},
		{"missing input", "tasks:\n  - name: a\n", "input is required"},
		{"bad mode", "mode: random\ntasks:\n  - input: x\n", "mode"},
		{"bad priority", "tasks:\n  - input: x\n    priority: urgent\n", "task 0"},
		{"negative retries", "tasks:\n  - input: x\n    max_retries: -1\n", "max_retries must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDefinitionNameFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	if err := os.WriteFile(path, []byte("tasks:\n  - input: ship it\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if def.Name != "deploy" {
		t.Errorf("Expected name from file, got %q", def.Name)
	}
}

func TestLoadDefinitionMissingFile(t *testing.T) {
	_, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read workflow file") {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(TaskSpec{Input: "x", Timeout: Duration(2 * time.Minute)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(out), "timeout: 2m0s") {
		t.Errorf("Expected timeout as duration string, got:\n%s", out)
	}
}
