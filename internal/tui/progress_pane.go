package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/events"
)

// ProgressPaneModel shows aggregate workflow counts and the final status.
type ProgressPaneModel struct {
	total     int
	completed int
	running   int
	failed    int
	cancelled int
	pending   int

	status   string // Set once the workflow finishes
	duration time.Duration
	err      error

	width   int
	height  int
	focused bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.WorkflowProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.cancelled = msg.Cancelled
		m.pending = msg.Pending

	case events.WorkflowFinishedEvent:
		m.status = msg.Status
		m.duration = msg.Duration
		m.err = msg.Err
		m.running = 0
	}
	return m, nil
}

// Finished reports whether a WorkflowFinishedEvent has arrived.
func (m ProgressPaneModel) Finished() bool { return m.status != "" }

// Status returns the final workflow status, or "" while running.
func (m ProgressPaneModel) Status() string { return m.status }

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Workflow Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Cancelled: %s\n", StyleStatusCancelled.Render(fmt.Sprint(m.cancelled)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(m.bar())
		b.WriteString("\n")
	}

	if m.Finished() {
		b.WriteString("\n")
		b.WriteString(m.statusLine())
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) bar() string {
	barWidth := max(min(m.width-14, 40), 1)
	completedWidth := (m.completed * barWidth) / m.total
	failedWidth := (m.failed * barWidth) / m.total
	cancelledWidth := (m.cancelled * barWidth) / m.total
	runningWidth := (m.running * barWidth) / m.total
	pendingWidth := barWidth - completedWidth - failedWidth - cancelledWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusCancelled.Render(strings.Repeat("x", max(0, cancelledWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return fmt.Sprintf("[%s]  %d/%d", bar, m.completed, m.total)
}

func (m ProgressPaneModel) statusLine() string {
	line := fmt.Sprintf("Workflow %s in %v", m.status, m.duration.Round(time.Millisecond))
	switch m.status {
	case "completed":
		return StyleStatusComplete.Render(line)
	case "cancelled":
		line = StyleStatusCancelled.Render(line)
	default:
		line = StyleStatusFailed.Render(line)
	}
	if m.err != nil {
		line += "\n" + m.err.Error()
	}
	return line
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
