package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	dir := t.TempDir()
	return New("release", bus, config.DefaultConfig(), filepath.Join(dir, "global.json"), filepath.Join(dir, "project.json"))
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model
}

func TestTaskLifecycle(t *testing.T) {
	m := newTestModel(t)
	now := time.Now()

	m = update(t, m, events.TaskStartedEvent{ID: "t1", Name: "lint", AgentName: "code_agent", Timestamp: now})
	m = update(t, m, events.TaskRetryingEvent{ID: "t1", Attempt: 1, Err: errors.New("flaky"), Delay: time.Second})
	m = update(t, m, events.TaskCompletedEvent{ID: "t1", Output: "all clean", Duration: 2 * time.Second})

	ts, ok := m.Tasks().Task("t1")
	if !ok {
		t.Fatal("Task t1 not tracked")
	}
	if ts.Name != "lint" || ts.AgentName != "code_agent" || ts.Status != StatusCompleted {
		t.Errorf("Unexpected task state %+v", ts)
	}
	joined := strings.Join(ts.Output, "\n")
	for _, want := range []string{"[Started on code_agent]", "Attempt 1 failed: flaky", "all clean", "[Completed in 2s]"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Output missing %q:\n%s", want, joined)
		}
	}
}

func TestCancelledTaskWithoutStart(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, events.TaskCancelledEvent{ID: "0123456789abcdef", Reason: errors.New("upstream failed")})

	ts, ok := m.Tasks().Task("0123456789abcdef")
	if !ok {
		t.Fatal("Cancelled task not tracked")
	}
	if ts.Status != StatusCancelled || ts.Name != "01234567" {
		t.Errorf("Unexpected task state %+v", ts)
	}
}

func TestFailedTask(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, events.TaskStartedEvent{ID: "t1", Name: "deploy"})
	m = update(t, m, events.TaskFailedEvent{ID: "t1", Err: errors.New("boom"), Kind: "agent"})

	ts, _ := m.Tasks().Task("t1")
	if ts.Status != StatusFailed {
		t.Errorf("Expected failed, got %q", ts.Status)
	}
	if !strings.Contains(strings.Join(ts.Output, "\n"), "[Failed (agent): boom]") {
		t.Errorf("Failure not recorded: %v", ts.Output)
	}
}

func TestWorkflowFinished(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, events.WorkflowProgressEvent{Total: 2, Completed: 1, Running: 1})
	if m.Finished() {
		t.Fatal("Should not be finished after progress")
	}

	m = update(t, m, events.WorkflowFinishedEvent{Status: "completed", Duration: time.Second})
	if !m.Finished() || m.Status() != "completed" {
		t.Errorf("Expected completed, got finished=%v status=%q", m.Finished(), m.Status())
	}
}

func TestSelectionAndFocus(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, events.TaskStartedEvent{ID: "a", Name: "first"})
	m = update(t, m, events.TaskStartedEvent{ID: "b", Name: "second"})

	if got := m.Tasks().SelectedTaskID(); got != "a" {
		t.Fatalf("Expected first task selected, got %q", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if got := m.Tasks().SelectedTaskID(); got != "b" {
		t.Errorf("Expected j to select b, got %q", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focusedPane != PaneProgress {
		t.Errorf("Expected progress pane focus, got %v", m.focusedPane)
	}

	// Keys are not routed to the task list while it is unfocused.
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if got := m.Tasks().SelectedTaskID(); got != "b" {
		t.Errorf("Unfocused pane should ignore k, got %q", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.focusedPane != PaneTasks {
		t.Errorf("Expected task pane focus, got %v", m.focusedPane)
	}
}

func TestView(t *testing.T) {
	m := newTestModel(t)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("Expected initializing view, got %q", got)
	}

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, events.TaskStartedEvent{ID: "a", Name: "lint"})
	m = update(t, m, events.WorkflowProgressEvent{Total: 1, Running: 1})

	view := m.View()
	for _, want := range []string{"release", "Tasks", "lint", "Workflow Progress", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
	if next.(Model).View() != "Goodbye!\n" {
		t.Error("Expected goodbye view")
	}
}

func TestSettingsToggle(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if !m.showSettings {
		t.Fatal("Expected settings to open")
	}
	if !strings.Contains(m.View(), "Settings") {
		t.Error("Settings view not rendered")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.showSettings {
		t.Error("Expected esc to close settings")
	}
}

func TestValidatePositiveInt(t *testing.T) {
	for _, s := range []string{"0", "-1", "abc", ""} {
		if validatePositiveInt(s) == nil {
			t.Errorf("Expected %q to be rejected", s)
		}
	}
	if err := validatePositiveInt("4"); err != nil {
		t.Errorf("Expected 4 to be accepted, got %v", err)
	}
}

func TestApplyFormToConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	pane := NewSettingsPaneModel(cfg, "", "")
	pane.defaultProvider = "claude"
	pane.maxParallel = "9"
	pane.ollamaModel = "llama3"
	pane.claudeCommand = "/opt/claude"

	pane.applyFormToConfig()

	if cfg.DefaultProvider != "claude" || cfg.Workflows.MaxParallelTasks != 9 {
		t.Errorf("Workflow settings not applied: %+v", cfg.Workflows)
	}
	if cfg.Providers["ollama"].Model != "llama3" || cfg.Providers["claude"].Command != "/opt/claude" {
		t.Errorf("Provider settings not applied: %+v", cfg.Providers)
	}
}
