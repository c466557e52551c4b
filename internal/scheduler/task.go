package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTaskTimeout bounds a task that was created without an explicit timeout.
const DefaultTaskTimeout = 300 * time.Second

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for dependencies or a free slot
	TaskRunning                     // Launched by the executor
	TaskCompleted                   // Finished successfully
	TaskFailed                      // Finished with error
	TaskCancelled                   // Never launched: upstream failure, deadlock or workflow abort
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Priority is a scheduling hint. The executor does not reorder by it.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// Task represents a unit of work bound to a named agent.
type Task struct {
	ID          string        // Unique identifier
	Name        string        // Human-readable name
	Description string        // Free text
	AgentName   string        // Key into the executor's agent table
	Input       string        // Text handed to the agent's run loop
	Priority    Priority      // Hint only
	DependsOn   []string      // Task IDs this task depends on (same workflow)
	Locks       []string      // Named resources held exclusively while running; freed when an attempt times out
	Timeout     time.Duration // Per-attempt wall-clock limit
	RetryCount  int           // Attempts made beyond the first
	MaxRetries  int           // Retry budget
	Status      TaskStatus
	Result      *TaskResult // Populated once terminal
}

// NewTask creates a pending task with a fresh ID and default settings.
func NewTask(name, agentName, input string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		AgentName: agentName,
		Input:     input,
		Priority:  PriorityNormal,
		Timeout:   DefaultTaskTimeout,
		Status:    TaskPending,
	}
}

// TaskResult is the outcome of a task. Output is opaque to the scheduler.
type TaskResult struct {
	TaskID   string
	Status   TaskStatus
	Output   string
	Err      error
	Duration time.Duration
	Attempts int
}

// ErrorMessage returns the error description, or "" when the task succeeded.
func (r TaskResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// WorkflowStatus mirrors the aggregate state of a workflow's tasks.
type WorkflowStatus int

const (
	WorkflowPending WorkflowStatus = iota
	WorkflowRunning
	WorkflowCompleted
	WorkflowFailed
	WorkflowCancelled
)

func (s WorkflowStatus) String() string {
	switch s {
	case WorkflowPending:
		return "pending"
	case WorkflowRunning:
		return "running"
	case WorkflowCompleted:
		return "completed"
	case WorkflowFailed:
		return "failed"
	case WorkflowCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WorkflowResult aggregates the per-task results of one execution.
type WorkflowResult struct {
	WorkflowID  string
	Status      WorkflowStatus
	TaskResults map[string]TaskResult
	Order       []string // Task IDs in insertion order
	Duration    time.Duration
	Err         error // Workflow-level failure (deadlock, abort)
}

// Successful returns completed task results in insertion order.
func (r *WorkflowResult) Successful() []TaskResult {
	return r.filter(func(tr TaskResult) bool { return tr.Status == TaskCompleted })
}

// Failed returns failed and cancelled task results in insertion order.
func (r *WorkflowResult) Failed() []TaskResult {
	return r.filter(func(tr TaskResult) bool {
		return tr.Status == TaskFailed || tr.Status == TaskCancelled
	})
}

func (r *WorkflowResult) filter(keep func(TaskResult) bool) []TaskResult {
	out := []TaskResult{}
	for _, id := range r.Order {
		tr, ok := r.TaskResults[id]
		if ok && keep(tr) {
			out = append(out, tr)
		}
	}
	return out
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Locks != nil {
		cp.Locks = append([]string(nil), task.Locks...)
	}
	if task.Result != nil {
		r := *task.Result
		cp.Result = &r
	}
	return &cp
}
