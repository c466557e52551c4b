package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
)

// Mode selects how a batch of tasks is wired together.
type Mode string

const (
	ModeParallel   Mode = "parallel"   // No edges
	ModeSequential Mode = "sequential" // Each task depends on its predecessor
)

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeParallel, "":
		return ModeParallel, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown workflow mode %q", s)
	}
}

// Workflow is a set of tasks plus their dependency edges.
// Enumeration follows insertion order.
type Workflow struct {
	ID          string
	Name        string
	Description string

	mu         sync.RWMutex
	status     WorkflowStatus
	result     *WorkflowResult
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order
	dependents map[string][]string // Maps taskID -> tasks that depend on it
}

// NewWorkflow creates an empty workflow.
func NewWorkflow(name string) *Workflow {
	return &Workflow{
		ID:         uuid.NewString(),
		Name:       name,
		status:     WorkflowPending,
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// Build creates a workflow from tasks wired according to mode and validates it.
func Build(name string, tasks []*Task, mode Mode) (*Workflow, error) {
	wf := NewWorkflow(name)

	var err error
	switch mode {
	case ModeParallel:
		_, err = wf.AddParallelTasks(tasks)
	case ModeSequential:
		_, err = wf.AddSequentialTasks(tasks)
	default:
		err = fmt.Errorf("unknown workflow mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	if _, err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// AddTask adds a task to the workflow. Returns error if the ID already exists
// or the task depends on itself.
func (w *Workflow) AddTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return fmt.Errorf("%w: task %q depends on itself", ErrCycle, task.ID)
		}
	}

	w.tasks[task.ID] = task
	w.order = append(w.order, task.ID)

	for _, depID := range task.DependsOn {
		w.dependents[depID] = append(w.dependents[depID], task.ID)
	}

	return nil
}

// AddParallelTasks adds tasks without adding any edges between them.
func (w *Workflow) AddParallelTasks(tasks []*Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if err := w.AddTask(task); err != nil {
			return ids, err
		}
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// AddSequentialTasks adds tasks as a chain: each one depends on the task
// added immediately before it in this batch.
func (w *Workflow) AddSequentialTasks(tasks []*Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	prev := ""
	for _, task := range tasks {
		if task == nil {
			return ids, fmt.Errorf("nil task")
		}
		if prev != "" && !contains(task.DependsOn, prev) {
			task.DependsOn = append(task.DependsOn, prev)
		}
		if err := w.AddTask(task); err != nil {
			return ids, err
		}
		ids = append(ids, task.ID)
		prev = task.ID
	}
	return ids, nil
}

// Validate checks that every dependency exists and that the graph is acyclic.
// Returns the task IDs in a topological order.
func (w *Workflow) Validate() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, taskID := range w.order {
		for _, depID := range w.tasks[taskID].DependsOn {
			if _, exists := w.tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, taskID, depID)
			}
		}
	}

	// Edge (dep, task) means dep must come before task. A nil source keeps
	// tasks without dependencies in the result.
	var edges []toposort.Edge
	for _, taskID := range w.order {
		task := w.tasks[taskID]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(w.tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, taskID := range w.order {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("%w: unreachable tasks %s", ErrCycle, strings.Join(missing, ", "))
	}

	return order, nil
}

// Ready returns pending tasks whose dependencies are all in completed,
// in insertion order.
func (w *Workflow) Ready(completed map[string]bool) []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ready := []*Task{}
	for _, taskID := range w.order {
		task := w.tasks[taskID]
		if task.Status != TaskPending || completed[taskID] {
			continue
		}

		satisfied := true
		for _, depID := range task.DependsOn {
			if !completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, cloneTask(task))
		}
	}
	return ready
}

// Dependents returns every task that transitively depends on taskID,
// in insertion order.
func (w *Workflow) Dependents(taskID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	seen := map[string]bool{}
	queue := append([]string(nil), w.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, w.dependents[id]...)
	}

	out := make([]string, 0, len(seen))
	for _, id := range w.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Get returns a copy of the task with the given ID.
func (w *Workflow) Get(taskID string) (*Task, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	task, exists := w.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in insertion order.
func (w *Workflow) Tasks() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()

	tasks := make([]*Task, 0, len(w.order))
	for _, taskID := range w.order {
		tasks = append(tasks, cloneTask(w.tasks[taskID]))
	}
	return tasks
}

// Len returns the number of tasks.
func (w *Workflow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}

// Status returns the aggregate workflow status.
func (w *Workflow) Status() WorkflowStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Result returns the terminal result, or nil before execution finishes.
func (w *Workflow) Result() *WorkflowResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.result
}

// Counts returns how many tasks are in each status.
func (w *Workflow) Counts() map[TaskStatus]int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, task := range w.tasks {
		counts[task.Status]++
	}
	return counts
}

func (w *Workflow) setStatus(taskID string, status TaskStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if task, ok := w.tasks[taskID]; ok {
		task.Status = status
	}
}

func (w *Workflow) finishTask(result TaskResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[result.TaskID]
	if !ok {
		return
	}
	task.Status = result.Status
	if result.Attempts > 1 {
		task.RetryCount = result.Attempts - 1
	}
	r := result
	task.Result = &r
}

// begin moves a pending workflow to running. Workflows execute once.
func (w *Workflow) begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != WorkflowPending {
		return fmt.Errorf("%w: %q is %s", ErrAlreadyExecuted, w.ID, w.status)
	}
	w.status = WorkflowRunning
	return nil
}

func (w *Workflow) finish(result *WorkflowResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = result.Status
	w.result = result
}

func (w *Workflow) pendingIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var ids []string
	for _, taskID := range w.order {
		if w.tasks[taskID].Status == TaskPending {
			ids = append(ids, taskID)
		}
	}
	return ids
}

func (w *Workflow) orderCopy() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.order...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
