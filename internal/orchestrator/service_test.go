package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/agentflow/internal/agent"
	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/llm"
	"github.com/aristath/agentflow/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DefaultProvider = "mock"
	cfg.Tools.WorkDir = t.TempDir()
	cfg.Workflows.RetryAttempts = 0
	cfg.Workflows.RetryDelayMS = 1
	return cfg
}

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  10 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func newTestService(t *testing.T, cfg *config.Config, mock *llm.MockClient, opts ...func(*Options)) *Service {
	t.Helper()
	o := Options{
		Config:   cfg,
		Clients:  map[string]llm.Client{"mock": mock},
		LLMRetry: fastRetry(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := NewService(o)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewServiceRequiresConfig(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Fatal("Expected error without config")
	}
}

func TestServiceAgents(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	got := strings.Join(svc.Agents(), ",")
	want := "code_agent,file_agent,terminal_agent,web_agent,orchestrator"
	if got != want {
		t.Errorf("Expected agents %q, got %q", want, got)
	}
	if svc.Describe("file_agent") != "Reads, writes and lists files" {
		t.Errorf("Unexpected description %q", svc.Describe("file_agent"))
	}
	if svc.Describe(PlannerName) == "" {
		t.Error("Planner should have a description")
	}
}

func TestServiceUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents["file_agent"] = config.AgentConfig{Provider: "missing"}

	_, err := NewService(Options{Config: cfg, Clients: map[string]llm.Client{"mock": llm.NewMockClient()}})
	if err == nil || !strings.Contains(err.Error(), `unknown provider "missing"`) {
		t.Errorf("Expected unknown provider error, got %v", err)
	}
}

func TestServiceUnknownTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents["file_agent"] = config.AgentConfig{Tools: []string{"teleport"}}

	_, err := NewService(Options{Config: cfg, Clients: map[string]llm.Client{"mock": llm.NewMockClient()}})
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Errorf("Expected unknown tool error, got %v", err)
	}
}

func TestRunReadsFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.Tools.WorkDir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello from disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := llm.NewMockClient(`{"operation": "read_file", "parameters": {"file_path": "notes.txt"}}`)
	svc := newTestService(t, cfg, mock)

	out, err := svc.Run(context.Background(), "file_agent", "show me notes.txt")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "hello from disk" {
		t.Errorf("Expected file content, got %q", out)
	}
	if mock.Calls() != 1 {
		t.Errorf("Expected 1 model call, got %d", mock.Calls())
	}
}

func TestRunUnknownAgent(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	out, err := svc.Run(context.Background(), "nobody", "hi")
	if !errors.Is(err, scheduler.ErrAgentNotFound) {
		t.Errorf("Expected ErrAgentNotFound, got %v", err)
	}
	if out != "Error: unknown agent: nobody" {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestRunToolOutsideAllowList(t *testing.T) {
	mock := llm.NewMockClient(`{"operation": "run_command", "parameters": {"command": "ls"}}`)
	svc := newTestService(t, testConfig(t), mock)

	out, err := svc.Run(context.Background(), "file_agent", "list things")
	var de *agent.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DispatchError, got %v", err)
	}
	if !strings.HasPrefix(out, "Error: Tool not found: run_command") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestRunWriteNeedsConfirmation(t *testing.T) {
	reply := `{"operation": "write_file", "parameters": {"file_path": "out.txt", "content": "data"}}`

	t.Run("no confirmer", func(t *testing.T) {
		cfg := testConfig(t)
		svc := newTestService(t, cfg, llm.NewMockClient(reply))

		out, err := svc.Run(context.Background(), "file_agent", "write it")
		if err == nil {
			t.Fatal("Expected refusal without a confirmer")
		}
		if !strings.Contains(out, "requires confirmation") {
			t.Errorf("Unexpected output %q", out)
		}
		if _, statErr := os.Stat(filepath.Join(cfg.Tools.WorkDir, "out.txt")); !os.IsNotExist(statErr) {
			t.Error("File should not have been written")
		}
	})

	t.Run("approved", func(t *testing.T) {
		cfg := testConfig(t)
		qac, _ := startQA(t, 2, func(ctx context.Context, from, question string) (string, error) {
			return "yes", nil
		})
		svc := newTestService(t, cfg, llm.NewMockClient(reply), func(o *Options) { o.Confirmer = qac })

		out, err := svc.Run(context.Background(), "file_agent", "write it")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !strings.HasPrefix(out, "Wrote 4 chars to ") {
			t.Errorf("Unexpected output %q", out)
		}
		data, err := os.ReadFile(filepath.Join(cfg.Tools.WorkDir, "out.txt"))
		if err != nil || string(data) != "data" {
			t.Errorf("Expected written file, got %q, %v", data, err)
		}
	})
}

func TestCreateWorkflowDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflows.TaskTimeoutSeconds = 42
	cfg.Workflows.RetryAttempts = 2
	svc := newTestService(t, cfg, llm.NewMockClient())

	one := 5
	wf, err := svc.CreateWorkflow("wf", []TaskSpec{
		{Input: "first"},
		{Name: "custom", Agent: "code_agent", Input: "second", Priority: "high", Timeout: Duration(time.Second), MaxRetries: &one},
	}, scheduler.ModeParallel)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	tasks := wf.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}

	first := tasks[0]
	if first.Name != "task_0" || first.AgentName != "file_agent" {
		t.Errorf("Expected task_0 on file_agent, got %s on %s", first.Name, first.AgentName)
	}
	if first.Timeout != 42*time.Second || first.MaxRetries != 2 {
		t.Errorf("Expected config defaults, got timeout %v retries %d", first.Timeout, first.MaxRetries)
	}
	if first.Priority != scheduler.PriorityNormal {
		t.Errorf("Expected normal priority, got %v", first.Priority)
	}
	if len(first.DependsOn) != 0 {
		t.Errorf("Parallel mode should add no dependencies, got %v", first.DependsOn)
	}

	second := tasks[1]
	if second.Name != "custom" || second.AgentName != "code_agent" {
		t.Errorf("Unexpected second task %s on %s", second.Name, second.AgentName)
	}
	if second.Timeout != time.Second || second.MaxRetries != 5 || second.Priority != scheduler.PriorityHigh {
		t.Errorf("Spec overrides ignored: timeout %v retries %d priority %v", second.Timeout, second.MaxRetries, second.Priority)
	}
}

func TestCreateWorkflowSequentialChains(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	wf, err := svc.CreateWorkflow("chain", []TaskSpec{{Input: "a"}, {Input: "b"}, {Input: "c"}}, scheduler.ModeSequential)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	tasks := wf.Tasks()
	for i := 1; i < len(tasks); i++ {
		deps := tasks[i].DependsOn
		if len(deps) != 1 || deps[0] != tasks[i-1].ID {
			t.Errorf("Task %d should depend on task %d, got %v", i, i-1, deps)
		}
	}
}

func TestCreateWorkflowDependencyByName(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	wf, err := svc.CreateWorkflow("deps", []TaskSpec{
		{Name: "fetch", Input: "a"},
		{Name: "build", Input: "b", DependsOn: []string{"fetch"}},
	}, scheduler.ModeParallel)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	tasks := wf.Tasks()
	if got := tasks[1].DependsOn; len(got) != 1 || got[0] != tasks[0].ID {
		t.Errorf("Expected dependency on %s, got %v", tasks[0].ID, got)
	}
}

func TestCreateWorkflowUnknownDependency(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	_, err := svc.CreateWorkflow("bad", []TaskSpec{
		{Input: "a", DependsOn: []string{"ghost"}},
	}, scheduler.ModeParallel)
	if !errors.Is(err, scheduler.ErrUnknownDependency) {
		t.Errorf("Expected ErrUnknownDependency, got %v", err)
	}
}

func TestCreateWorkflowBadPriority(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	_, err := svc.CreateWorkflow("bad", []TaskSpec{{Input: "a", Priority: "urgent"}}, scheduler.ModeParallel)
	if err == nil {
		t.Error("Expected error for unknown priority")
	}
}

func TestExecuteWorkflow(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	finished := bus.Subscribe(events.TopicWorkflow, 64)

	mock := llm.NewMockClient(`{"finalAnswer": "done"}`)
	svc := newTestService(t, testConfig(t), mock, func(o *Options) { o.Bus = bus })

	wf, err := svc.CreateWorkflow("fanout", []TaskSpec{
		{Agent: "file_agent", Input: "a"},
		{Agent: "terminal_agent", Input: "b"},
		{Agent: "code_agent", Input: "c"},
	}, scheduler.ModeParallel)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	res, err := svc.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}
	if res.Status != scheduler.WorkflowCompleted {
		t.Fatalf("Expected completed, got %v (%v)", res.Status, res.Err)
	}
	for _, tr := range res.Successful() {
		if tr.Output != "done" {
			t.Errorf("Task %s: expected %q, got %q", tr.TaskID, "done", tr.Output)
		}
	}
	if mock.Calls() != 3 {
		t.Errorf("Expected 3 model calls, got %d", mock.Calls())
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-finished:
			if fe, ok := ev.(events.WorkflowFinishedEvent); ok {
				if fe.WorkflowID != wf.ID || fe.Status != "completed" {
					t.Errorf("Unexpected finish event %+v", fe)
				}
				return
			}
		case <-deadline:
			t.Fatal("No WorkflowFinishedEvent published")
		}
	}
}

func TestCreateFromDefinition(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())

	def, err := ParseDefinition([]byte(`
name: release
description: cut a release
mode: sequential
tasks:
  - input: tag it
  - input: publish it
`))
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}

	wf, err := svc.CreateFromDefinition(def)
	if err != nil {
		t.Fatalf("CreateFromDefinition failed: %v", err)
	}
	if wf.Name != "release" || wf.Description != "cut a release" {
		t.Errorf("Unexpected workflow %q / %q", wf.Name, wf.Description)
	}
	tasks := wf.Tasks()
	if len(tasks) != 2 || len(tasks[1].DependsOn) != 1 {
		t.Errorf("Expected a two-task chain, got %d tasks", len(tasks))
	}
}

func TestPlannerParallel(t *testing.T) {
	plan := `Here is my plan:
{"analysis": "two independent parts", "strategy": "parallel", "tasks": [
  {"agent": "file_agent", "input": "part one"},
  {"agent": "terminal_agent", "input": "part two"}
]}`
	mock := llm.NewMockClient(plan, `{"finalAnswer": "sub done"}`)
	svc := newTestService(t, testConfig(t), mock)

	out, err := svc.Run(context.Background(), PlannerName, "do both things")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := "Task task_0: sub done\n\nTask task_1: sub done"
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}

	prompts := mock.Prompts()
	if len(prompts) != 3 {
		t.Fatalf("Expected one planning and two task prompts, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], "- file_agent: Reads, writes and lists files") {
		t.Errorf("Planner prompt should list agents: %q", prompts[0])
	}
}

func TestPlannerSequentialReportsFailure(t *testing.T) {
	plan := `{"strategy": "sequential", "tasks": [
  {"agent": "ghost_agent", "input": "first"},
  {"agent": "file_agent", "input": "second"}
]}`
	svc := newTestService(t, testConfig(t), llm.NewMockClient(plan, `{"finalAnswer": "ok"}`))

	out, err := svc.Run(context.Background(), PlannerName, "two steps")
	if err == nil {
		t.Fatal("Expected failure for unknown agent")
	}
	if !strings.HasPrefix(out, "Task task_0: Error: ") {
		t.Errorf("Expected first task error, got %q", out)
	}
	if !strings.Contains(out, "Task task_1: Error: ") {
		t.Errorf("Dependent task should be reported as not run, got %q", out)
	}
}

func TestPlannerFallsBackOnProse(t *testing.T) {
	mock := llm.NewMockClient("I think you should just read the file.", `{"finalAnswer": "fallback ran"}`)
	svc := newTestService(t, testConfig(t), mock)

	out, err := svc.Run(context.Background(), PlannerName, "read the file")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "fallback ran" {
		t.Errorf("Expected single fallback task output, got %q", out)
	}

	prompts := mock.Prompts()
	if len(prompts) != 2 || !strings.Contains(prompts[1], "You are file_agent") {
		t.Errorf("Fallback should run on the default agent, prompts: %q", prompts)
	}
}

func TestPlannerNeverDelegatesToItself(t *testing.T) {
	plan := `{"strategy": "single", "tasks": [{"agent": "orchestrator", "input": "again"}]}`
	mock := llm.NewMockClient(plan, `{"finalAnswer": "handled"}`, plan, plan)
	svc := newTestService(t, testConfig(t), mock)

	out, err := svc.Run(context.Background(), PlannerName, "loop forever")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "handled" {
		t.Errorf("Expected the default agent's output, got %q", out)
	}
	prompts := mock.Prompts()
	if len(prompts) != 2 || !strings.Contains(prompts[1], "You are file_agent") {
		t.Errorf("Expected one planning call then file_agent, prompts: %q", prompts)
	}
}

func TestPlannerFallbackSkipsPlanner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflows.DefaultAgent = PlannerName
	svc := newTestService(t, cfg, llm.NewMockClient())

	if svc.planner.fallback == PlannerName {
		t.Fatal("Planner fallback must not be the planner")
	}
}

func TestPlannerEmptyPlan(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient(`{"strategy": "parallel", "tasks": []}`))

	out, err := svc.Run(context.Background(), PlannerName, "nothing")
	if err == nil || out != "Error: No tasks to execute" {
		t.Errorf("Expected empty plan error, got %q, %v", out, err)
	}
}

func TestParsePlan(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient())
	p := svc.planner

	tests := []struct {
		name         string
		raw          string
		wantStrategy string
		wantAgent    string
		wantTasks    int
	}{
		{"fenced", "```json\n{\"strategy\": \"Parallel\", \"tasks\": [{\"agent\": \"code_agent\", \"input\": \"x\"}]}\n```", StrategyParallel, "code_agent", 1},
		{"unknown strategy", `{"strategy": "swarm", "tasks": [{"agent": "code_agent", "input": "x"}]}`, StrategySingle, "code_agent", 1},
		{"missing agent", `{"strategy": "sequential", "tasks": [{"input": "x"}, {"input": "y"}]}`, StrategySequential, "file_agent", 2},
		{"not json", "no plan here", StrategySingle, "file_agent", 1},
		{"wrong shape", `{"strategy": "parallel", "tasks": "all of them"}`, StrategySingle, "file_agent", 1},
		{"planner as agent", `{"strategy": "parallel", "tasks": [{"agent": "orchestrator", "input": "x"}]}`, StrategyParallel, "file_agent", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.parsePlan(tt.raw, "the input")
			if plan.Strategy != tt.wantStrategy {
				t.Errorf("Expected strategy %q, got %q", tt.wantStrategy, plan.Strategy)
			}
			if len(plan.Tasks) != tt.wantTasks {
				t.Fatalf("Expected %d tasks, got %d", tt.wantTasks, len(plan.Tasks))
			}
			if plan.Tasks[0].Agent != tt.wantAgent {
				t.Errorf("Expected agent %q, got %q", tt.wantAgent, plan.Tasks[0].Agent)
			}
		})
	}
}

func TestPlannerCancelled(t *testing.T) {
	svc := newTestService(t, testConfig(t), llm.NewMockClient(`{"strategy": "single"}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, PlannerName, "anything")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
