package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskRetrying     = "task.retrying"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskCancelled    = "task.cancelled"
	EventTypeWorkflowProgress = "workflow.progress"
	EventTypeWorkflowFinished = "workflow.finished"
)

// TopicOf returns the topic an event belongs to.
func TopicOf(e Event) string {
	switch e.(type) {
	case WorkflowProgressEvent, WorkflowFinishedEvent:
		return TopicWorkflow
	default:
		return TopicTask
	}
}

// TaskStartedEvent is published when the executor launches a task.
type TaskStartedEvent struct {
	ID         string
	WorkflowID string
	Name       string
	AgentName  string
	Timestamp  time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published before a failed attempt is retried.
type TaskRetryingEvent struct {
	ID        string
	Attempt   int // Attempt that just failed
	Err       error
	Delay     time.Duration
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Output    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Kind      string // Error kind as reported by the scheduler
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is withdrawn before it ran.
type TaskCancelledEvent struct {
	ID        string
	Reason    error
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// WorkflowProgressEvent is published whenever task counts change.
type WorkflowProgressEvent struct {
	WorkflowID string
	Total      int
	Completed  int
	Running    int
	Failed     int
	Cancelled  int
	Pending    int
	Timestamp  time.Time
}

func (e WorkflowProgressEvent) EventType() string { return EventTypeWorkflowProgress }
func (e WorkflowProgressEvent) TaskID() string    { return "" }

// WorkflowFinishedEvent is published once a workflow reaches a terminal status.
type WorkflowFinishedEvent struct {
	WorkflowID string
	Status     string
	Duration   time.Duration
	Err        error
	Timestamp  time.Time
}

func (e WorkflowFinishedEvent) EventType() string { return EventTypeWorkflowFinished }
func (e WorkflowFinishedEvent) TaskID() string    { return "" }
