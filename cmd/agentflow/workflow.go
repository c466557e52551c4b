package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/orchestrator"
	"github.com/aristath/agentflow/internal/scheduler"
	"github.com/aristath/agentflow/internal/tui"
)

// shutdownTimeout bounds how long the TUI gets to exit after a signal.
const shutdownTimeout = 10 * time.Second

type workflowOutcome struct {
	res *scheduler.WorkflowResult
	err error
}

func (a *app) workflowCmd() *cobra.Command {
	var (
		useTUI bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "workflow <file>",
		Short: "Run a workflow definition file",
		Long: `Run the tasks described in a YAML workflow file.

Tasks without dependencies run concurrently up to workflows.max_parallel_tasks.
A failed task cancels everything that depends on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := orchestrator.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			switch {
			case dryRun:
				return a.planWorkflow(cmd, def)
			case useTUI:
				return a.runWorkflowTUI(cmd, def)
			default:
				return a.runWorkflow(cmd, def)
			}
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show live progress in a terminal UI")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the workflow and print its execution order")
	return cmd
}

func (a *app) planWorkflow(cmd *cobra.Command, def *orchestrator.Definition) error {
	svc, closeFn, err := a.openService(cmd.Context(), nil, false)
	defer closeFn()
	if err != nil {
		return err
	}

	wf, err := svc.CreateFromDefinition(def)
	if err != nil {
		return err
	}
	order, err := wf.Validate()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow %s: %d tasks\n", wf.Name, wf.Len())
	for i, id := range order {
		t, _ := wf.Get(id)
		fmt.Fprintf(out, "%d. %s (%s)", i+1, t.Name, t.AgentName)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(out, " after %s", strings.Join(taskNames(wf, t.DependsOn), ", "))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func (a *app) runWorkflow(cmd *cobra.Command, def *orchestrator.Definition) error {
	ctx := cmd.Context()
	svc, closeFn, err := a.openService(ctx, nil, true)
	defer closeFn()
	if err != nil {
		return err
	}

	wf, err := svc.CreateFromDefinition(def)
	if err != nil {
		return err
	}
	res, err := svc.ExecuteWorkflow(ctx, wf)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), wf, res)
	return resultError(res)
}

// runWorkflowTUI runs the workflow behind a live terminal view. Quitting
// the view cancels the workflow. Confirmation prompts cannot share the
// screen, so guarded tools need --yes here.
func (a *app) runWorkflowTUI(cmd *cobra.Command, def *orchestrator.Definition) error {
	ctx := cmd.Context()
	bus := events.NewEventBus()
	defer bus.Close()

	svc, closeFn, err := a.openService(ctx, bus, false)
	defer closeFn()
	if err != nil {
		return err
	}
	wf, err := svc.CreateFromDefinition(def)
	if err != nil {
		return err
	}

	model := tui.New(wf.Name, bus, a.cfg, a.globalPath, a.projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan workflowOutcome, 1)
	go func() {
		res, err := svc.ExecuteWorkflow(runCtx, wf)
		done <- workflowOutcome{res: res, err: err}
	}()

	tuiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		tuiErr <- err
	}()

	select {
	case err := <-tuiErr:
		cancel()
		if err != nil {
			return fmt.Errorf("terminal UI: %w", err)
		}
	case <-ctx.Done():
		p.Quit()
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		select {
		case <-tuiErr:
		case <-shutdownCtx.Done():
			a.logger.Warn("terminal UI did not exit in time")
		}
	}

	outcome := <-done
	if outcome.err != nil {
		return outcome.err
	}
	printResult(cmd.OutOrStdout(), wf, outcome.res)
	return resultError(outcome.res)
}

func printResult(w io.Writer, wf *scheduler.Workflow, res *scheduler.WorkflowResult) {
	fmt.Fprintf(w, "Workflow %s %s in %v\n", wf.Name, res.Status, res.Duration.Round(time.Millisecond))
	for _, id := range res.Order {
		tr := res.TaskResults[id]
		name := id
		if t, ok := wf.Get(id); ok {
			name = t.Name
		}

		fmt.Fprintf(w, "\n[%s] %s", tr.Status, name)
		if tr.Attempts > 1 {
			fmt.Fprintf(w, " (%d attempts)", tr.Attempts)
		}
		fmt.Fprintln(w)

		text := tr.Output
		if tr.Status != scheduler.TaskCompleted {
			text = tr.ErrorMessage()
		}
		if text != "" {
			fmt.Fprintln(w, indent(text, "  "))
		}
	}
}

func resultError(res *scheduler.WorkflowResult) error {
	if res.Status == scheduler.WorkflowCompleted {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("workflow %s: %w", res.Status, res.Err)
	}
	return fmt.Errorf("workflow %s: %d tasks did not complete", res.Status, len(res.Failed()))
}

func taskNames(wf *scheduler.Workflow, ids []string) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id
		if t, ok := wf.Get(id); ok {
			names[i] = t.Name
		}
	}
	return names
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
