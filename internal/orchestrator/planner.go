package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aristath/agentflow/internal/agent"
	"github.com/aristath/agentflow/internal/llm"
	"github.com/aristath/agentflow/internal/scheduler"
)

// Plan strategies.
const (
	StrategySingle     = "single"
	StrategyParallel   = "parallel"
	StrategySequential = "sequential"
)

// PlannedTask is one step of a plan.
type PlannedTask struct {
	Agent        string   `json:"agent"`
	Input        string   `json:"input"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Plan is the model's breakdown of a request.
type Plan struct {
	Analysis    string        `json:"analysis"`
	Strategy    string        `json:"strategy"`
	Tasks       []PlannedTask `json:"tasks"`
	Explanation string        `json:"explanation,omitempty"`
}

// Planner is the meta-agent that splits a request across the other agents
// and runs the pieces as a workflow.
type Planner struct {
	svc      *Service
	client   llm.Client
	opts     llm.Options
	fallback string
	logger   *slog.Logger
}

func (s *Service) newPlanner() (*Planner, error) {
	client, opts, err := s.client(PlannerName)
	if err != nil {
		return nil, err
	}
	opts.System = s.cfg.Agents[PlannerName].SystemPrompt

	fallback := s.cfg.Workflows.DefaultAgent
	if fallback == "" || fallback == PlannerName {
		if names := s.agents.Names(); len(names) > 0 {
			fallback = names[0]
		}
	}

	return &Planner{
		svc:      s,
		client:   client,
		opts:     opts,
		fallback: fallback,
		logger:   s.logger.With("component", "planner"),
	}, nil
}

// Name implements scheduler.Agent.
func (p *Planner) Name() string { return PlannerName }

// Run plans input and executes the plan.
func (p *Planner) Run(ctx context.Context, input string) (string, error) {
	plan, err := p.Plan(ctx, input)
	if err != nil {
		return "Error: " + err.Error(), fmt.Errorf("%w: %s: %w", agent.ErrAgentFault, PlannerName, err)
	}
	p.logger.Info("plan ready", "strategy", plan.Strategy, "tasks", len(plan.Tasks), "analysis", plan.Analysis)

	if len(plan.Tasks) == 0 {
		return "Error: No tasks to execute", fmt.Errorf("plan has no tasks")
	}

	if plan.Strategy == StrategySingle {
		t := plan.Tasks[0]
		return p.svc.Run(ctx, t.Agent, t.Input)
	}

	mode := scheduler.ModeParallel
	if plan.Strategy == StrategySequential {
		mode = scheduler.ModeSequential
	}

	specs := make([]TaskSpec, len(plan.Tasks))
	for i, t := range plan.Tasks {
		specs[i] = TaskSpec{
			Name:      fmt.Sprintf("task_%d", i),
			Agent:     t.Agent,
			Input:     t.Input,
			DependsOn: t.Dependencies,
		}
	}

	wf, err := p.svc.CreateWorkflow("orchestrated_workflow", specs, mode)
	if err != nil {
		return "Error: " + err.Error(), err
	}
	res, err := p.svc.ExecuteWorkflow(ctx, wf)
	if err != nil {
		return "Error: " + err.Error(), err
	}

	out := joinOutputs(wf, res)
	if res.Status != scheduler.WorkflowCompleted {
		if res.Err != nil {
			return out, res.Err
		}
		return out, fmt.Errorf("workflow %s: %d of %d tasks did not complete", res.Status, len(res.Failed()), wf.Len())
	}
	return out, nil
}

// Plan asks the model for a plan. Model failures and unparseable replies
// fall back to a single task on the default agent; only cancellation of ctx
// is returned as an error.
func (p *Planner) Plan(ctx context.Context, input string) (Plan, error) {
	raw, err := p.client.Generate(ctx, p.buildPrompt(input), p.opts)
	if err != nil {
		if ctx.Err() != nil {
			return Plan{}, ctx.Err()
		}
		p.logger.Warn("planning failed", "error", err)
		return p.fallbackPlan(input, fmt.Sprintf("Error: %v", err)), nil
	}
	return p.parsePlan(raw, input), nil
}

func (p *Planner) parsePlan(raw, input string) Plan {
	obj, ok := agent.ExtractJSON(raw)
	if !ok {
		return p.fallbackPlan(input, "Default to single agent")
	}

	// Round-trip through JSON to get typed fields out of the generic object.
	data, err := json.Marshal(obj)
	if err != nil {
		return p.fallbackPlan(input, "Default to single agent")
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return p.fallbackPlan(input, "Default to single agent")
	}

	plan.Strategy = strings.ToLower(strings.TrimSpace(plan.Strategy))
	switch plan.Strategy {
	case StrategySingle, StrategyParallel, StrategySequential:
	default:
		plan.Strategy = StrategySingle
	}
	// Tasks never route back to the planner.
	for i := range plan.Tasks {
		if a := plan.Tasks[i].Agent; a == "" || a == PlannerName {
			plan.Tasks[i].Agent = p.fallback
		}
	}
	return plan
}

func (p *Planner) fallbackPlan(input, analysis string) Plan {
	return Plan{
		Analysis: analysis,
		Strategy: StrategySingle,
		Tasks:    []PlannedTask{{Agent: p.fallback, Input: input}},
	}
}

func (p *Planner) buildPrompt(input string) string {
	var sb strings.Builder
	sb.WriteString("You are an orchestrator. Analyze the task and create a plan.\n\nAvailable agents:\n")
	for _, name := range p.svc.agents.Names() {
		if desc := p.svc.agents.Description(name); desc != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		} else {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
	}
	fmt.Fprintf(&sb, "\nTask: %s\n\n", input)
	sb.WriteString(planInstructions)
	return sb.String()
}

const planInstructions = `Analyze if this task needs:
1. Parallel execution - multiple independent tasks can run simultaneously
2. Sequential execution - tasks must run in order
3. Single agent - one agent can handle it

Respond in JSON format:
{
    "analysis": "brief analysis of the task",
    "strategy": "parallel" or "sequential" or "single",
    "tasks": [
        {
            "agent": "agent_name",
            "input": "specific input for this agent",
            "dependencies": ["task_0"]
        }
    ],
    "explanation": "why this approach"
}

Tasks are named task_0, task_1 and so on in the order listed.`

// joinOutputs renders each task's outcome in insertion order.
func joinOutputs(wf *scheduler.Workflow, res *scheduler.WorkflowResult) string {
	parts := make([]string, 0, len(res.Order))
	for _, id := range res.Order {
		name := id
		if t, ok := wf.Get(id); ok {
			name = t.Name
		}
		tr := res.TaskResults[id]
		text := tr.Output
		if tr.Status != scheduler.TaskCompleted {
			text = "Error: " + tr.ErrorMessage()
		}
		parts = append(parts, fmt.Sprintf("Task %s: %s", name, text))
	}
	return strings.Join(parts, "\n\n")
}
