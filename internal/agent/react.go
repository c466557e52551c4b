package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/agentflow/internal/llm"
	"github.com/aristath/agentflow/internal/tools"
)

const (
	DefaultMaxIterations = 10
	DefaultHistoryLimit  = 5
)

// ErrAgentFault marks a run that stopped because of an unexpected fault
// rather than a tool or model failure.
var ErrAgentFault = errors.New("agent fault")

// DispatchError reports that the decided operation could not be carried out:
// the tool is missing, its parameters were malformed or it reported failure.
type DispatchError struct {
	Tool   string
	Reason string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
}

// Confirmer approves tools that need a human in the loop.
type Confirmer interface {
	Confirm(ctx context.Context, agentName string, spec tools.Spec, params map[string]any) (bool, error)
}

// Config describes one agent.
type Config struct {
	Name          string
	Description   string
	SystemPrompt  string
	MaxIterations int  // Think/act rounds per run (default 10)
	HistoryLimit  int  // Messages included in each prompt (default 5)
	MultiStep     bool // Feed tool output back into another think step
}

// Option customizes a ReActAgent.
type Option func(*ReActAgent)

// WithConfirmer sets the confirmer consulted for tools that require it.
func WithConfirmer(c Confirmer) Option {
	return func(a *ReActAgent) { a.confirmer = c }
}

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *ReActAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithID fixes the agent ID instead of generating one.
func WithID(id string) Option {
	return func(a *ReActAgent) { a.id = id }
}

// ReActAgent alternates between asking the engine for a decision and
// dispatching the chosen tool.
type ReActAgent struct {
	cfg       Config
	id        string
	engine    *Engine
	tools     tools.Dispatcher
	confirmer Confirmer
	logger    *slog.Logger

	mu    sync.Mutex // Serializes Run and Reset
	state *AgentContext
}

// NewReActAgent creates an idle agent. dispatcher may be nil for an agent
// that only answers.
func NewReActAgent(cfg Config, engine *Engine, dispatcher tools.Dispatcher, opts ...Option) *ReActAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if engine == nil {
		engine = NewEngine(nil, llm.Options{System: cfg.SystemPrompt}, nil)
	}

	a := &ReActAgent{
		cfg:    cfg,
		engine: engine,
		tools:  dispatcher,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}
	a.logger = a.logger.With("agent", cfg.Name, "agent_id", a.id)
	a.state = NewAgentContext(a.id)
	return a
}

// Name returns the agent's configured name.
func (a *ReActAgent) Name() string { return a.cfg.Name }

// ID returns the instance ID.
func (a *ReActAgent) ID() string { return a.id }

// Description returns the agent's configured description.
func (a *ReActAgent) Description() string { return a.cfg.Description }

// State returns the current lifecycle state.
func (a *ReActAgent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.State
}

// Snapshot returns a copy of the agent's working state.
func (a *ReActAgent) Snapshot() *AgentContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Reset discards history and tool usage and returns the agent to idle.
func (a *ReActAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = NewAgentContext(a.id)
}

// Run drives one request to a final answer. The returned text is always
// human readable; the error is a *DispatchError when the chosen tool could
// not be carried out and wraps ErrAgentFault when the run was interrupted.
func (a *ReActAgent) Run(ctx context.Context, input string) (out string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			out, err = a.fault(fmt.Errorf("panic: %v", p))
		}
	}()

	c := a.state
	c.CurrentInput = input
	c.Add(RoleUser, input, nil)
	c.State = StateThinking

	var (
		final       string
		dispatchErr error
	)

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		d, err := a.engine.Decide(ctx, a.buildPrompt(input))
		if err != nil {
			return a.fault(err)
		}
		c.Add(RoleThought, d.Thought, map[string]string{"raw_response": d.Raw})

		if d.IsFinal() {
			final, dispatchErr = d.FinalAnswer, nil
			break
		}

		c.State = StateExecuting
		res := a.dispatch(ctx, d)
		if ctx.Err() != nil {
			return a.fault(ctx.Err())
		}

		meta := map[string]string{"tool": d.Operation}
		if res.Success {
			c.Add(RoleTool, "Tool result: "+res.Output, meta)
			final, dispatchErr = res.Output, nil
			if final == "" {
				final = "Done!"
			}
		} else {
			a.logger.Warn("tool dispatch failed", "tool", d.Operation, "error", res.Error)
			c.Add(RoleToolError, "Tool error: "+res.Error, meta)
			final = "Error: " + res.Error
			dispatchErr = &DispatchError{Tool: d.Operation, Reason: res.Error}
		}

		if !a.cfg.MultiStep {
			break
		}
		c.State = StateThinking
	}

	c.State = StateCompleted
	c.Add(RoleAssistant, final, nil)
	return final, dispatchErr
}

func (a *ReActAgent) fault(err error) (string, error) {
	a.state.State = StateError
	a.logger.Error("agent run failed", "error", err)
	return "Error: " + err.Error(), fmt.Errorf("%w: %s: %w", ErrAgentFault, a.cfg.Name, err)
}

func (a *ReActAgent) dispatch(ctx context.Context, d Decision) tools.Result {
	if d.ParamErr != nil {
		return tools.Result{Error: d.ParamErr.Error()}
	}
	if a.tools == nil {
		return tools.Failure("Tool not found: %s", d.Operation)
	}

	a.state.ToolsUsed = append(a.state.ToolsUsed, d.Operation)

	if spec, ok := a.tools.Get(d.Operation); ok && spec.RequiresConfirmation {
		if res, approved := a.confirm(ctx, spec, d.Parameters); !approved {
			return res
		}
	}
	return a.tools.Execute(ctx, d.Operation, d.Parameters)
}

// confirm parks the agent in WAITING until the confirmer answers.
func (a *ReActAgent) confirm(ctx context.Context, spec tools.Spec, params map[string]any) (tools.Result, bool) {
	if a.confirmer == nil {
		return tools.Failure("Tool %s requires confirmation and none is available", spec.Name), false
	}

	a.state.State = StateWaiting
	defer func() { a.state.State = StateExecuting }()

	ok, err := a.confirmer.Confirm(ctx, a.cfg.Name, spec, params)
	if err != nil {
		return tools.Failure("Confirmation for %s failed: %v", spec.Name, err), false
	}
	if !ok {
		return tools.Failure("Tool %s was not approved", spec.Name), false
	}
	return tools.Result{}, true
}

func (a *ReActAgent) buildPrompt(input string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, an AI assistant.\n", a.cfg.Name)
	if a.cfg.Description != "" {
		fmt.Fprintf(&sb, "%s\n", a.cfg.Description)
	}

	sb.WriteString("\nAvailable tools:\n")
	if a.tools != nil {
		for _, spec := range a.tools.Specs() {
			fmt.Fprintf(&sb, "- %s: %s\n", spec.Name, spec.Description)
			for _, p := range spec.Params {
				req := ""
				if p.Required {
					req = ", required"
				}
				fmt.Fprintf(&sb, "    %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
			}
		}
	}

	sb.WriteString("\nConversation history:\n")
	for _, m := range a.state.History(a.cfg.HistoryLimit) {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	fmt.Fprintf(&sb, "\nUser input: %s\n\n", input)
	sb.WriteString(responseInstructions)
	return sb.String()
}

const responseInstructions = `Think step by step. You MUST respond in JSON format:
{
    "thought": "your reasoning here",
    "action": "tool_name or 'answer'",
    "action_input": {"param": "value"} or "final answer text",
    "final_answer": null or "final answer if action is 'answer'"
}

If you have enough information to answer the user, use action: "answer".
Otherwise, use a tool to gather more information.

Respond ONLY with valid JSON, no other text.`
