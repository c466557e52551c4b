package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentflow/internal/events"
)

// DefaultMaxParallel is the concurrency ceiling when none is configured.
const DefaultMaxParallel = 5

// Agent turns input text into a final textual result.
type Agent interface {
	Name() string
	Run(ctx context.Context, input string) (string, error)
}

// Factory creates a fresh agent for each task that targets its name.
type Factory func() (Agent, error)

// resetter is implemented by agents that carry per-run state. Such an
// instance is never run by two tasks at once.
type resetter interface {
	Reset()
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	MaxParallel    int           // Concurrency ceiling (default 5)
	DefaultTimeout time.Duration // Used when a task has no timeout (default 300s)
	Retry          RetryConfig   // Backoff between attempts of a failed task
	Bus            *events.EventBus
	Logger         *slog.Logger
}

type registration struct {
	agent   Agent
	factory Factory
}

// Executor schedules workflow tasks onto registered agents with bounded concurrency.
type Executor struct {
	cfg    ExecutorConfig
	locks  *ResourceLockManager
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]registration // agent name -> instance or factory
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTaskTimeout
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Executor{
		cfg:    cfg,
		locks:  NewResourceLockManager(),
		logger: logger,
		agents: make(map[string]registration),
	}
}

// RegisterAgent associates an agent instance with its name. The last
// registration for a name wins.
func (e *Executor) RegisterAgent(a Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[a.Name()] = registration{agent: a}
}

// RegisterFactory associates a constructor with name. Each task targeting
// name gets its own instance. The last registration for a name wins.
func (e *Executor) RegisterFactory(name string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[name] = registration{factory: f}
}

// HasAgent reports whether name resolves to an agent.
func (e *Executor) HasAgent(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.agents[name]
	return ok
}

// MaxParallel returns the configured concurrency ceiling.
func (e *Executor) MaxParallel() int {
	return e.cfg.MaxParallel
}

// resolve returns the agent for name and whether it is a shared stateful instance.
func (e *Executor) resolve(name string) (Agent, bool, error) {
	e.mu.RLock()
	reg, ok := e.agents[name]
	e.mu.RUnlock()

	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	if reg.factory != nil {
		a, err := reg.factory()
		if err != nil {
			return nil, false, fmt.Errorf("%w: %q: %v", ErrAgentUnavailable, name, err)
		}
		if a == nil {
			return nil, false, fmt.Errorf("%w: %q: factory returned nil", ErrAgentUnavailable, name)
		}
		return a, false, nil
	}
	_, stateful := reg.agent.(resetter)
	return reg.agent, stateful, nil
}

// ExecuteWorkflow runs wf to completion and returns the aggregate result.
// It mutates each task's status while running. The error return is reserved
// for workflows that cannot start; task failures are reported in the result.
func (e *Executor) ExecuteWorkflow(ctx context.Context, wf *Workflow) (*WorkflowResult, error) {
	if wf == nil {
		return nil, fmt.Errorf("nil workflow")
	}
	if _, err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", wf.Name, err)
	}
	if err := wf.begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	r := newWorkflowRun(ctx, e, wf)
	e.logger.Info("workflow started", "workflow", wf.ID, "name", wf.Name, "tasks", wf.Len(), "max_parallel", e.cfg.MaxParallel)

	r.loop()

	status := WorkflowCompleted
	switch {
	case r.aborted:
		status = WorkflowCancelled
	case len(r.failed) > 0 || r.err != nil:
		status = WorkflowFailed
	}

	result := &WorkflowResult{
		WorkflowID:  wf.ID,
		Status:      status,
		TaskResults: r.results,
		Order:       wf.orderCopy(),
		Duration:    time.Since(start),
		Err:         r.err,
	}
	wf.finish(result)

	e.logger.Info("workflow finished", "workflow", wf.ID, "status", status.String(),
		"completed", len(r.completed), "failed", len(r.failed), "duration", result.Duration)
	e.cfg.Bus.Emit(events.WorkflowFinishedEvent{
		WorkflowID: wf.ID,
		Status:     status.String(),
		Duration:   result.Duration,
		Err:        result.Err,
		Timestamp:  time.Now(),
	})

	return result, nil
}

// workflowRun holds the scheduling state of one execution. Only the loop
// goroutine touches it; task goroutines report through done.
type workflowRun struct {
	ctx   context.Context
	e     *Executor
	wf    *Workflow
	group errgroup.Group

	results   map[string]TaskResult
	completed map[string]bool
	failed    map[string]bool // failed or cancelled
	inFlight  map[string]bool
	done      chan TaskResult

	aborted bool
	err     error
}

func newWorkflowRun(ctx context.Context, e *Executor, wf *Workflow) *workflowRun {
	r := &workflowRun{
		ctx:       ctx,
		e:         e,
		wf:        wf,
		results:   make(map[string]TaskResult),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		inFlight:  make(map[string]bool),
		done:      make(chan TaskResult, wf.Len()),
	}

	// Tasks that were already terminal before execution keep their outcome.
	var preFailed []TaskResult
	for _, task := range wf.Tasks() {
		if !task.Status.Terminal() {
			continue
		}
		res := TaskResult{TaskID: task.ID, Status: task.Status}
		if task.Result != nil {
			res = *task.Result
		}
		r.results[task.ID] = res
		if task.Status == TaskCompleted {
			r.completed[task.ID] = true
		} else {
			r.failed[task.ID] = true
			preFailed = append(preFailed, res)
		}
	}
	for _, res := range preFailed {
		r.cancelDependents(res)
	}
	return r
}

func (r *workflowRun) finished() int {
	return len(r.completed) + len(r.failed)
}

func (r *workflowRun) loop() {
	total := r.wf.Len()

	for r.finished() < total {
		if !r.aborted && r.ctx.Err() != nil {
			r.abort(fmt.Errorf("%w: %v", ErrWorkflowCancelled, r.ctx.Err()))
		}
		if !r.aborted {
			r.launchReady()
		}

		if len(r.inFlight) == 0 {
			if r.finished() < total {
				r.deadlock()
			}
			break
		}

		var ctxDone <-chan struct{}
		if !r.aborted {
			ctxDone = r.ctx.Done()
		}

		select {
		case res := <-r.done:
			r.record(res)
			r.drain()
		case <-ctxDone:
		}
	}

	// Every launched task has reported once the loop exits.
	_ = r.group.Wait()

	// The last in-flight task may report its cancellation before the loop
	// observes ctx. Attribute the failures to the abort.
	if !r.aborted && r.ctx.Err() != nil && len(r.failed) > 0 {
		r.aborted = true
		r.err = fmt.Errorf("%w: %v", ErrWorkflowCancelled, r.ctx.Err())
	}
}

// drain records results that are already available without blocking.
func (r *workflowRun) drain() {
	for {
		select {
		case res := <-r.done:
			r.record(res)
		default:
			return
		}
	}
}

func (r *workflowRun) launchReady() {
	for _, task := range r.wf.Ready(r.completed) {
		if len(r.inFlight) >= r.e.cfg.MaxParallel {
			return
		}
		if r.ctx.Err() != nil {
			return
		}

		agent, stateful, err := r.e.resolve(task.AgentName)
		if err != nil {
			r.e.logger.Warn("task not scheduled", "task", task.ID, "name", task.Name, "error", err)
			r.record(TaskResult{TaskID: task.ID, Status: TaskFailed, Err: err})
			continue
		}

		r.wf.setStatus(task.ID, TaskRunning)
		r.inFlight[task.ID] = true
		r.e.logger.Debug("task launched", "task", task.ID, "name", task.Name, "agent", task.AgentName)
		r.e.cfg.Bus.Emit(events.TaskStartedEvent{
			ID:         task.ID,
			WorkflowID: r.wf.ID,
			Name:       task.Name,
			AgentName:  task.AgentName,
			Timestamp:  time.Now(),
		})
		r.progress()

		t := task
		r.group.Go(func() error {
			r.done <- r.e.executeTask(r.ctx, t, agent, stateful)
			return nil
		})
	}
}

func (r *workflowRun) record(res TaskResult) {
	delete(r.inFlight, res.TaskID)
	r.results[res.TaskID] = res
	r.wf.finishTask(res)

	now := time.Now()
	if res.Status == TaskCompleted {
		r.completed[res.TaskID] = true
		r.e.cfg.Bus.Emit(events.TaskCompletedEvent{
			ID:        res.TaskID,
			Output:    res.Output,
			Duration:  res.Duration,
			Timestamp: now,
		})
		r.progress()
		return
	}

	r.failed[res.TaskID] = true
	r.e.logger.Warn("task failed", "task", res.TaskID, "kind", KindOf(res.Err).String(), "error", res.Err, "attempts", res.Attempts)
	r.e.cfg.Bus.Emit(events.TaskFailedEvent{
		ID:        res.TaskID,
		Err:       res.Err,
		Kind:      KindOf(res.Err).String(),
		Duration:  res.Duration,
		Timestamp: now,
	})

	r.cancelDependents(res)
	r.progress()
}

// cancelDependents withdraws the pending tasks that can never become ready
// because res did not complete.
func (r *workflowRun) cancelDependents(res TaskResult) {
	for _, depID := range r.wf.Dependents(res.TaskID) {
		if task, ok := r.wf.Get(depID); ok && task.Status == TaskPending {
			r.cancel(depID, fmt.Errorf("%w: upstream task %q %s", ErrDependencyFailed, res.TaskID, res.Status))
		}
	}
}

func (r *workflowRun) cancel(taskID string, reason error) {
	res := TaskResult{TaskID: taskID, Status: TaskCancelled, Err: reason}
	r.results[taskID] = res
	r.failed[taskID] = true
	r.wf.finishTask(res)
	r.e.logger.Debug("task cancelled", "task", taskID, "reason", reason)
	r.e.cfg.Bus.Emit(events.TaskCancelledEvent{ID: taskID, Reason: reason, Timestamp: time.Now()})
}

// abort withdraws every task that has not been launched.
func (r *workflowRun) abort(reason error) {
	r.aborted = true
	r.err = reason
	for _, id := range r.wf.pendingIDs() {
		r.cancel(id, reason)
	}
	r.progress()
}

// deadlock withdraws every unfinished task when nothing can make progress.
func (r *workflowRun) deadlock() {
	reason := ErrDeadlock
	if r.aborted {
		reason = r.err
	} else {
		r.err = ErrDeadlock
	}
	r.e.logger.Error("workflow deadlocked", "workflow", r.wf.ID, "finished", r.finished(), "total", r.wf.Len())
	for _, task := range r.wf.Tasks() {
		if r.completed[task.ID] || r.failed[task.ID] {
			continue
		}
		r.cancel(task.ID, reason)
	}
	r.progress()
}

func (r *workflowRun) progress() {
	counts := r.wf.Counts()
	r.e.cfg.Bus.Emit(events.WorkflowProgressEvent{
		WorkflowID: r.wf.ID,
		Total:      r.wf.Len(),
		Completed:  counts[TaskCompleted],
		Running:    counts[TaskRunning],
		Failed:     counts[TaskFailed],
		Cancelled:  counts[TaskCancelled],
		Pending:    counts[TaskPending],
		Timestamp:  time.Now(),
	})
}

// executeTask runs one task through its agent, retrying failed attempts
// with exponential backoff until the task's retry budget is spent.
func (e *Executor) executeTask(ctx context.Context, task *Task, agent Agent, stateful bool) TaskResult {
	start := time.Now()
	policy := e.cfg.Retry.policy(task.MaxRetries)

	attempts := 0
	for {
		attempts++
		output, err := e.attempt(ctx, task, agent, stateful)
		if err == nil {
			e.logger.Info("task completed", "task", task.ID, "name", task.Name, "attempts", attempts, "duration", time.Since(start))
			return TaskResult{
				TaskID:   task.ID,
				Status:   TaskCompleted,
				Output:   output,
				Duration: time.Since(start),
				Attempts: attempts,
			}
		}

		failed := TaskResult{
			TaskID:   task.ID,
			Status:   TaskFailed,
			Output:   output,
			Err:      err,
			Duration: time.Since(start),
			Attempts: attempts,
		}

		if kind := KindOf(err); kind == KindScheduling || kind == KindCancelled {
			return failed
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return failed
		}

		e.logger.Info("retrying task", "task", task.ID, "attempt", attempts, "delay", delay, "error", err)
		e.cfg.Bus.Emit(events.TaskRetryingEvent{
			ID:        task.ID,
			Attempt:   attempts,
			Err:       err,
			Delay:     delay,
			Timestamp: time.Now(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			failed.Err = fmt.Errorf("%w: %v (last error: %v)", ErrWorkflowCancelled, ctx.Err(), err)
			failed.Duration = time.Since(start)
			return failed
		}
	}
}

type reply struct {
	output string
	err    error
}

// attempt makes one bounded call into the agent. The agent runs on its own
// goroutine so a call that never returns still ends at the deadline.
func (e *Executor) attempt(ctx context.Context, task *Task, agent Agent, stateful bool) (string, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	keys := append([]string(nil), task.Locks...)
	if stateful {
		keys = append(keys, "agent:"+agent.Name())
	}
	lease, err := e.locks.Acquire(attemptCtx, keys)
	if err != nil {
		return "", classify(ctx, attemptCtx, timeout, err)
	}

	done := make(chan reply, 1)
	go func() {
		defer lease.Release()
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("agent %q panicked: %v", agent.Name(), p)}
			}
		}()
		output, err := agent.Run(attemptCtx, task.Input)
		done <- reply{output: output, err: err}
	}()

	select {
	case rep := <-done:
		if rep.err != nil {
			return rep.output, classify(ctx, attemptCtx, timeout, rep.err)
		}
		return rep.output, nil
	case <-attemptCtx.Done():
		// The abandoned call keeps the agent key until Run returns; the
		// task's own resource locks are freed now.
		lease.Release(task.Locks...)
		return "", classify(ctx, attemptCtx, timeout, attemptCtx.Err())
	}
}

// classify maps a context-related failure to a timeout or cancellation error.
func classify(parent, attemptCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", ErrWorkflowCancelled, err)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
	}
	return err
}
