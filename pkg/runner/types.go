package runner

import (
	"context"
	"errors"

	"github.com/harun/runcore/pkg/plan"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/retry"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Request is one model turn.
type Request struct {
	RunID    string
	TurnID   string
	Messages []Message
	Plan     *plan.Plan
}

// Response is the model's reply for one turn. A non-nil Plan declares (or
// replaces) the run's plan; entries follow plan.NormalizeSteps.
type Response struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	Plan      []any
	Usage     *protocol.Usage
}

// DeltaFunc receives streamed chunks of a response.
type DeltaFunc func(content string, channel protocol.StreamChannel)

// Model produces one response per turn. Implementations stream partial
// output through onDelta before returning.
type Model interface {
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (Response, error)
}

// ToolExecutor runs tools requested by the model.
type ToolExecutor interface {
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)
}

// Params describes one run.
type Params struct {
	Prompt    string
	RunID     string
	SessionID string
	History   []Message
}

// SubagentParams describes a delegated run.
type SubagentParams struct {
	Name   string
	Tasks  []string
	Prompt string
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	SessionID string
	// NextSessionID is the session to continue in; it differs from
	// SessionID after context compaction.
	NextSessionID string
	Content       string
	Thinking      string
	Status        retry.Status
	Plan          *plan.Plan
	Usage         *protocol.Usage
	Messages      []Message
	Aborted       bool
}

var (
	// ErrRunFailed wraps the reason a run ended in the failed phase.
	ErrRunFailed = errors.New("run failed")
	// ErrRunNotFound is returned for control requests naming no active run.
	ErrRunNotFound = errors.New("run not found")
	// ErrEmptyFinal is the finalize failure for a blank final answer.
	ErrEmptyFinal = errors.New("model returned an empty final answer")
	// ErrMaxTurns is returned when the model keeps calling tools.
	ErrMaxTurns = errors.New("maximum turns exceeded")
)
