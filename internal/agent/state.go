// Package agent implements the think/act loop that turns input text into a
// final answer, optionally invoking tools along the way.
package agent

import (
	"fmt"
	"maps"
	"time"
)

// State is the lifecycle position of an agent instance.
type State int

const (
	StateIdle State = iota
	StateThinking
	StateExecuting
	StateWaiting // Blocked on a human confirmation
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateExecuting:
		return "executing"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role tags who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleThought   Role = "thought"
	RoleTool      Role = "tool"
	RoleToolError Role = "tool_error"
	RoleAssistant Role = "assistant"
)

// Message is one entry of an agent's history.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]string
}

// AgentContext is the per-instance working state. Only the owning run loop
// mutates it.
type AgentContext struct {
	AgentID      string
	State        State
	Messages     []Message
	CurrentInput string
	ToolsUsed    []string
}

// NewAgentContext returns an idle context with no history.
func NewAgentContext(agentID string) *AgentContext {
	return &AgentContext{AgentID: agentID, State: StateIdle}
}

// Add appends a message. meta may be nil.
func (c *AgentContext) Add(role Role, content string, meta map[string]string) {
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  meta,
	})
}

// History returns the last limit messages, or all of them when limit <= 0.
func (c *AgentContext) History(limit int) []Message {
	if limit <= 0 || limit >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-limit:]
}

// Clone returns a deep copy.
func (c *AgentContext) Clone() *AgentContext {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Metadata = maps.Clone(m.Metadata)
		cp.Messages[i] = m
	}
	cp.ToolsUsed = append([]string(nil), c.ToolsUsed...)
	return &cp
}
