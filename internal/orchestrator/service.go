// Package orchestrator wires configuration, models, tools and the scheduler
// into the operations front ends call: build a workflow, execute it, or run
// a single agent.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/aristath/agentflow/internal/agent"
	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/llm"
	"github.com/aristath/agentflow/internal/process"
	"github.com/aristath/agentflow/internal/scheduler"
	"github.com/aristath/agentflow/internal/tools"
)

// PlannerName is the agent name that routes to the planning meta-agent.
const PlannerName = "orchestrator"

// Options configures a Service. Only Config is required.
type Options struct {
	Config    *config.Config
	Clients   map[string]llm.Client // Provider name -> client, overriding config
	Tools     *tools.Registry       // Built from config.Tools when nil
	Processes *process.Manager      // Tracks CLI and run_command children
	Confirmer agent.Confirmer       // Approves tools flagged RequiresConfirmation
	Bus       *events.EventBus      // Receives scheduler events; may be nil
	Logger    *slog.Logger
	LLMRetry  llm.RetryConfig // Zero value means llm.DefaultRetryConfig
}

// Service exposes workflow creation and execution plus single-agent runs.
type Service struct {
	cfg       *config.Config
	agents    *agent.Registry
	executor  *scheduler.Executor
	tools     *tools.Registry
	planner   *Planner
	confirmer agent.Confirmer
	bus       *events.EventBus
	logger    *slog.Logger
	pm        *process.Manager

	breakers *llm.BreakerRegistry
	retry    llm.RetryConfig

	mu      sync.Mutex
	clients map[string]llm.Client // Provider name -> resilient client
}

// NewService builds a Service from opts.
func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retry := opts.LLMRetry
	if retry == (llm.RetryConfig{}) {
		retry = llm.DefaultRetryConfig()
	}
	pm := opts.Processes
	if pm == nil {
		pm = process.NewManager()
	}

	s := &Service{
		cfg:       cfg,
		agents:    agent.NewRegistry(),
		confirmer: opts.Confirmer,
		bus:       opts.Bus,
		logger:    logger,
		pm:        pm,
		breakers:  llm.NewBreakerRegistry(logger),
		retry:     retry,
		clients:   make(map[string]llm.Client),
	}

	for name, c := range opts.Clients {
		s.clients[name] = llm.NewResilientClient(c, s.breakers.Get(name), retry, logger)
	}

	s.tools = opts.Tools
	if s.tools == nil {
		reg, err := s.builtinTools()
		if err != nil {
			return nil, err
		}
		s.tools = reg
	}

	s.executor = scheduler.NewExecutor(scheduler.ExecutorConfig{
		MaxParallel:    cfg.Workflows.MaxParallelTasks,
		DefaultTimeout: cfg.Workflows.TaskTimeout(),
		Retry:          scheduler.RetryConfig{InitialInterval: cfg.Workflows.RetryDelay()},
		Bus:            opts.Bus,
		Logger:         logger.With("component", "executor"),
	})

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if name == PlannerName {
			continue
		}
		if err := s.registerAgent(name, cfg.Agents[name]); err != nil {
			return nil, err
		}
	}

	planner, err := s.newPlanner()
	if err != nil {
		return nil, err
	}
	s.planner = planner
	return s, nil
}

func (s *Service) builtinTools() (*tools.Registry, error) {
	root := s.cfg.Tools.WorkDir
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving tools work_dir: %w", err)
	}

	sandbox, err := tools.NewSandbox(abs, s.cfg.Tools.ForbiddenCommands)
	if err != nil {
		return nil, err
	}
	reg := tools.NewRegistry(
		tools.WithValidator(sandbox),
		tools.WithLogger(s.logger.With("component", "tools")),
	)
	err = tools.RegisterBuiltins(reg, tools.BuiltinOptions{
		Sandbox:        sandbox,
		Processes:      s.pm,
		CommandTimeout: secondsToDuration(s.cfg.Tools.CommandTimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}
	err = tools.RegisterWebTools(reg, tools.WebOptions{
		Timeout: secondsToDuration(s.cfg.Tools.WebTimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// client returns the shared resilient client for the agent's provider.
func (s *Service) client(agentName string) (llm.Client, llm.Options, error) {
	providerName, pc, ok := s.cfg.Provider(agentName)

	s.mu.Lock()
	defer s.mu.Unlock()

	opts := llm.Options{Temperature: pc.Temperature, MaxTokens: pc.MaxTokens}
	if c, cached := s.clients[providerName]; cached {
		return c, opts, nil
	}
	if !ok {
		return nil, opts, fmt.Errorf("agent %q: unknown provider %q", agentName, providerName)
	}

	inner, err := llm.New(providerName, pc, s.pm)
	if err != nil {
		return nil, opts, err
	}
	c := llm.NewResilientClient(inner, s.breakers.Get(providerName), s.retry, s.logger)
	s.clients[providerName] = c
	return c, opts, nil
}

func (s *Service) registerAgent(name string, ac config.AgentConfig) error {
	client, opts, err := s.client(name)
	if err != nil {
		return err
	}
	opts.System = ac.SystemPrompt

	dispatcher, err := s.tools.Restrict(ac.Tools)
	if err != nil {
		return fmt.Errorf("agent %q: %w", name, err)
	}

	agentLogger := s.logger.With("component", "agent")
	engine := agent.NewEngine(client, opts, agentLogger)
	agentCfg := agent.Config{
		Name:          name,
		Description:   ac.Description,
		SystemPrompt:  ac.SystemPrompt,
		MaxIterations: ac.MaxIterations,
		HistoryLimit:  ac.HistoryLimit,
		MultiStep:     ac.MultiStep,
	}

	ctor := func() (*agent.ReActAgent, error) {
		return agent.NewReActAgent(agentCfg, engine, dispatcher,
			agent.WithConfirmer(s.confirmer),
			agent.WithLogger(agentLogger),
		), nil
	}
	if err := s.agents.Register(name, ac.Description, ctor); err != nil {
		return err
	}

	s.executor.RegisterFactory(name, func() (scheduler.Agent, error) {
		return s.agents.New(name)
	})
	return nil
}

// Agents returns the names callers can pass to Run, planner included.
func (s *Service) Agents() []string {
	return append(s.agents.Names(), PlannerName)
}

// Describe returns an agent's configured description.
func (s *Service) Describe(name string) string {
	if name == PlannerName {
		return s.cfg.Agents[PlannerName].Description
	}
	return s.agents.Description(name)
}

// Tools returns the tool registry agents dispatch to.
func (s *Service) Tools() *tools.Registry { return s.tools }

// Processes returns the manager tracking spawned subprocesses.
func (s *Service) Processes() *process.Manager { return s.pm }

// CreateWorkflow builds a workflow from specs. Parallel mode adds no edges;
// sequential mode chains the specs in order. Dependencies may name a task by
// ID or by name. Unset fields take their defaults from configuration.
func (s *Service) CreateWorkflow(name string, specs []TaskSpec, mode scheduler.Mode) (*scheduler.Workflow, error) {
	tasks := make([]*scheduler.Task, len(specs))
	byName := make(map[string]string, len(specs))

	for i, spec := range specs {
		task, err := s.newTask(i, spec)
		if err != nil {
			return nil, err
		}
		tasks[i] = task
		if _, dup := byName[task.Name]; !dup {
			byName[task.Name] = task.ID
		}
	}

	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	for _, t := range tasks {
		for j, dep := range t.DependsOn {
			if !ids[dep] {
				if id, ok := byName[dep]; ok {
					t.DependsOn[j] = id
				}
			}
		}
	}

	wf, err := scheduler.Build(name, tasks, mode)
	if err != nil {
		return nil, fmt.Errorf("creating workflow %q: %w", name, err)
	}
	return wf, nil
}

// CreateFromDefinition builds the workflow a definition file describes.
func (s *Service) CreateFromDefinition(def *Definition) (*scheduler.Workflow, error) {
	mode, err := scheduler.ParseMode(def.Mode)
	if err != nil {
		return nil, err
	}
	wf, err := s.CreateWorkflow(def.Name, def.Tasks, mode)
	if err != nil {
		return nil, err
	}
	wf.Description = def.Description
	return wf, nil
}

func (s *Service) newTask(i int, spec TaskSpec) (*scheduler.Task, error) {
	priority, err := scheduler.ParsePriority(spec.Priority)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", i, err)
	}

	t := scheduler.NewTask(spec.Name, spec.Agent, spec.Input)
	if spec.ID != "" {
		t.ID = spec.ID
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("task_%d", i)
	}
	if t.AgentName == "" {
		t.AgentName = s.cfg.Workflows.DefaultAgent
	}
	t.Description = spec.Description
	t.Priority = priority
	t.DependsOn = append([]string(nil), spec.DependsOn...)
	t.Locks = append([]string(nil), spec.Locks...)

	t.Timeout = time.Duration(spec.Timeout)
	if t.Timeout <= 0 {
		t.Timeout = s.cfg.Workflows.TaskTimeout()
	}
	if t.Timeout <= 0 {
		t.Timeout = scheduler.DefaultTaskTimeout
	}

	t.MaxRetries = s.cfg.Workflows.RetryAttempts
	if spec.MaxRetries != nil {
		t.MaxRetries = *spec.MaxRetries
	}
	return t, nil
}

// ExecuteWorkflow runs wf to completion.
func (s *Service) ExecuteWorkflow(ctx context.Context, wf *scheduler.Workflow) (*scheduler.WorkflowResult, error) {
	s.logger.Info("executing workflow", "workflow", wf.ID, "name", wf.Name, "tasks", wf.Len())
	return s.executor.ExecuteWorkflow(ctx, wf)
}

// Run sends input to one agent and returns its final text. On failure the
// text is a readable "Error: ..." line and err carries the cause.
func (s *Service) Run(ctx context.Context, agentName, input string) (string, error) {
	if agentName == PlannerName {
		return s.planner.Run(ctx, input)
	}

	a, err := s.agents.New(agentName)
	if err != nil {
		return "Error: " + err.Error(), fmt.Errorf("%w: %q", scheduler.ErrAgentNotFound, agentName)
	}

	s.logger.Info("running agent", "agent", agentName, "agent_id", a.ID())
	return a.Run(ctx, input)
}

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// Events returns the bus scheduler events are published on, or nil.
func (s *Service) Events() *events.EventBus { return s.bus }
