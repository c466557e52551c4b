package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/events"
)

// Task display states.
const (
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const listWidth = 28

// TaskState is what the pane knows about one task.
type TaskState struct {
	TaskID    string
	Name      string
	AgentName string
	Status    string
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists tasks on the left and shows the selected task's
// output in a scrollable viewport.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // Arrival order
	selectedIdx int
	viewport    viewport.Model
	spinner     spinner.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleStatusRunning
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
		spinner:  sp,
	}
}

// Init starts the spinner.
func (m TaskPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		ts := m.ensure(msg.ID)
		ts.Name = msg.Name
		ts.AgentName = msg.AgentName
		ts.Status = StatusRunning
		ts.StartTime = msg.Timestamp
		ts.Output = append(ts.Output, fmt.Sprintf("[Started on %s]", msg.AgentName))
		m.refresh(msg.ID)

	case events.TaskRetryingEvent:
		ts := m.ensure(msg.ID)
		ts.Status = StatusRetrying
		ts.Output = append(ts.Output, fmt.Sprintf("[Attempt %d failed: %v; retrying in %v]", msg.Attempt, msg.Err, msg.Delay))
		m.refresh(msg.ID)

	case events.TaskCompletedEvent:
		ts := m.ensure(msg.ID)
		ts.Status = StatusCompleted
		ts.Duration = msg.Duration
		if msg.Output != "" {
			ts.Output = append(ts.Output, msg.Output)
		}
		ts.Output = append(ts.Output, fmt.Sprintf("[Completed in %v]", msg.Duration.Round(time.Millisecond)))
		m.refresh(msg.ID)

	case events.TaskFailedEvent:
		ts := m.ensure(msg.ID)
		ts.Status = StatusFailed
		ts.Duration = msg.Duration
		ts.Output = append(ts.Output, fmt.Sprintf("[Failed (%s): %v]", msg.Kind, msg.Err))
		m.refresh(msg.ID)

	case events.TaskCancelledEvent:
		ts := m.ensure(msg.ID)
		ts.Status = StatusCancelled
		ts.Output = append(ts.Output, fmt.Sprintf("[Cancelled: %v]", msg.Reason))
		m.refresh(msg.ID)
	}

	return m, cmd
}

// ensure returns the state for taskID, adding it on first sight. Cancelled
// tasks arrive without a start event.
func (m *TaskPaneModel) ensure(taskID string) *TaskState {
	if ts, ok := m.tasks[taskID]; ok {
		return ts
	}
	ts := &TaskState{TaskID: taskID, Name: shortID(taskID)}
	m.tasks[taskID] = ts
	m.taskOrder = append(m.taskOrder, taskID)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
	}
	return ts
}

func (m *TaskPaneModel) refresh(taskID string) {
	if m.SelectedTaskID() == taskID {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, taskID := range m.taskOrder {
		ts := m.tasks[taskID]
		name := ts.Name
		if len(name) > listWidth-6 {
			name = name[:listWidth-9] + "..."
		}

		line := fmt.Sprintf("%s %s", m.StatusIcon(ts.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m TaskPaneModel) StatusIcon(status string) string {
	switch status {
	case StatusRunning, StatusRetrying:
		return m.spinner.View()
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	case StatusCancelled:
		return StyleStatusCancelled.Render("-")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the task under the cursor, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the state recorded for taskID.
func (m TaskPaneModel) Task(taskID string) (TaskState, bool) {
	ts, ok := m.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return *ts, true
}

func (m *TaskPaneModel) updateViewportContent() {
	ts, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	header := fmt.Sprintf("%s (%s) %s\n\n", ts.Name, ts.AgentName, ts.Status)
	m.viewport.SetContent(header + strings.Join(ts.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
