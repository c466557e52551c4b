package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &Config{
		DefaultProvider: "test",
		Providers: map[string]ProviderConfig{
			"test": {Type: "cli", Command: "test-cmd"},
		},
		Agents: map[string]AgentConfig{
			"test_agent": {Provider: "test", Tools: []string{"read_file"}},
		},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Providers["test"].Command != "test-cmd" {
		t.Errorf("Expected provider command 'test-cmd', got '%s'", loaded.Providers["test"].Command)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	original := DefaultConfig()
	original.Workflows.MaxParallelTasks = 9
	original.Agents["reviewer"] = AgentConfig{
		Provider:      "claude",
		SystemPrompt:  "You review code.",
		MaxIterations: 4,
		MultiStep:     true,
		Tools:         []string{"read_file"},
	}

	if err := Save(original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(loaded, original) {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", loaded, original)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	first := DefaultConfig()
	first.Logging.Level = "debug"
	if err := Save(first, path); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := DefaultConfig()
	second.Logging.Level = "error"
	if err := Save(second, path); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Logging.Level != "error" {
		t.Errorf("Expected level 'error' after overwrite, got %q", loaded.Logging.Level)
	}
}

func TestSaveReplacesWithoutLeftovers(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Saved config does not load: %v", err)
	}
	if loaded.DefaultProvider != DefaultConfig().DefaultProvider {
		t.Errorf("Unexpected default provider %q", loaded.DefaultProvider)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only config.json after save, found %d entries", len(entries))
	}
}
