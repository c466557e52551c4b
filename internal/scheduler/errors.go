package scheduler

import (
	"context"
	"errors"
)

var (
	ErrTaskTimeout       = errors.New("task timed out")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrAgentUnavailable  = errors.New("agent could not be created")
	ErrDependencyFailed  = errors.New("dependency did not complete")
	ErrDeadlock          = errors.New("workflow deadlocked: no task ready and none running")
	ErrCycle             = errors.New("dependency cycle")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrWorkflowCancelled = errors.New("workflow cancelled")
	ErrAlreadyExecuted   = errors.New("workflow already executed")
)

// ErrorKind classifies a task failure so operators can tell hung work
// from rejected work.
type ErrorKind int

const (
	KindNone       ErrorKind = iota
	KindDispatch             // Agent or tool reported failure
	KindTimeout              // Exceeded its configured duration
	KindScheduling           // Never started: unknown or unavailable agent
	KindDeadlock             // Never started: unsatisfiable dependencies
	KindCancelled            // Never started or interrupted: upstream failure or abort
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDispatch:
		return "dispatch"
	case KindTimeout:
		return "timeout"
	case KindScheduling:
		return "scheduling"
	case KindDeadlock:
		return "deadlock"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Errors not produced by the scheduler count as dispatch errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTaskTimeout):
		return KindTimeout
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrAgentUnavailable):
		return KindScheduling
	case errors.Is(err, ErrDeadlock):
		return KindDeadlock
	case errors.Is(err, ErrDependencyFailed),
		errors.Is(err, ErrWorkflowCancelled),
		errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindDispatch
	}
}
