package tui

import (
	"fmt"
	"slices"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/config"
)

// Save targets offered by the settings form.
const (
	SaveGlobal  = "global"
	SaveProject = "project"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget      string
	defaultProvider string
	defaultAgent    string
	maxParallel     string
	ollamaModel     string
	ollamaURL       string
	claudeCommand   string
	logLevel        string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = SaveGlobal
	m.defaultProvider = m.config.DefaultProvider
	m.defaultAgent = m.config.Workflows.DefaultAgent
	m.maxParallel = strconv.Itoa(m.config.Workflows.MaxParallelTasks)
	m.ollamaModel = m.config.Providers["ollama"].Model
	m.ollamaURL = m.config.Providers["ollama"].BaseURL
	m.claudeCommand = m.config.Providers["claude"].Command
	m.logLevel = m.config.Logging.Level
}

func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.agentflow/config.json)", SaveGlobal),
					huh.NewOption("Project (.agentflow/config.json)", SaveProject),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("defaultProvider").
				Title("Default Provider").
				Options(huh.NewOptions(sortedKeys(m.config.Providers)...)...).
				Value(&m.defaultProvider),

			huh.NewSelect[string]().
				Key("defaultAgent").
				Title("Planner Fallback Agent").
				Options(huh.NewOptions(sortedKeys(m.config.Agents)...)...).
				Value(&m.defaultAgent),

			huh.NewInput().
				Key("maxParallel").
				Title("Max Parallel Tasks").
				Value(&m.maxParallel).
				Validate(validatePositiveInt),
		).Title("Workflow Settings"),

		huh.NewGroup(
			huh.NewInput().
				Key("ollamaModel").
				Title("Ollama Model").
				Value(&m.ollamaModel).
				Placeholder("gemma"),

			huh.NewInput().
				Key("ollamaURL").
				Title("Ollama URL").
				Value(&m.ollamaURL).
				Placeholder("http://localhost:11434"),

			huh.NewInput().
				Key("claudeCommand").
				Title("Claude Command").
				Value(&m.claudeCommand).
				Placeholder("claude"),

			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.logLevel),
		).Title("Provider Settings"),
	)
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.saveTarget == SaveProject {
			targetPath = m.projectPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Changes apply to the next run; the running workflow keeps its settings.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.DefaultProvider = m.defaultProvider
	m.config.Workflows.DefaultAgent = m.defaultAgent
	if n, err := strconv.Atoi(m.maxParallel); err == nil && n > 0 {
		m.config.Workflows.MaxParallelTasks = n
	}
	m.config.Logging.Level = m.logLevel

	if ollama, ok := m.config.Providers["ollama"]; ok {
		ollama.Model = m.ollamaModel
		ollama.BaseURL = m.ollamaURL
		m.config.Providers["ollama"] = ollama
	}
	if claude, ok := m.config.Providers["claude"]; ok {
		claude.Command = m.claudeCommand
		m.config.Providers["claude"] = claude
	}
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.err = nil
	if v {
		m.saved = false
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
