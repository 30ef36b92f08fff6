package protocol

import (
	"errors"
	"time"
)

// SchemaVersion is the protocol generation every message must carry.
// Messages from any other version are rejected outright.
const SchemaVersion = 1

// Type is the tag discriminating message variants.
type Type string

const (
	TypeUserRunStart         Type = "user_run_start"
	TypeAssistantStreamStart Type = "assistant_stream_start"
	TypeAssistantStreamDelta Type = "assistant_stream_delta"
	TypeAssistantStreamStop  Type = "assistant_stream_stop"
	TypeToolExecutionStart   Type = "tool_execution_start"
	TypeToolExecutionResult  Type = "tool_execution_result"
	TypePlanUpdate           Type = "plan_update"
	TypeManualPlanUpdate     Type = "manual_plan_update"
	TypeRunStatus            Type = "run_status"
	TypeAssistantResponse    Type = "assistant_response"
	TypeAssistantFinal       Type = "assistant_final"
	TypeRunError             Type = "run_error"
	TypeRunWarning           Type = "run_warning"
	TypeContextCompacted     Type = "context_compacted"
	TypeSubagentStart        Type = "subagent_start"
	TypeSubagentComplete     Type = "subagent_complete"
)

// AllTypes returns every message tag of this protocol generation.
func AllTypes() []Type {
	return []Type{
		TypeUserRunStart,
		TypeAssistantStreamStart,
		TypeAssistantStreamDelta,
		TypeAssistantStreamStop,
		TypeToolExecutionStart,
		TypeToolExecutionResult,
		TypePlanUpdate,
		TypeManualPlanUpdate,
		TypeRunStatus,
		TypeAssistantResponse,
		TypeAssistantFinal,
		TypeRunError,
		TypeRunWarning,
		TypeContextCompacted,
		TypeSubagentStart,
		TypeSubagentComplete,
	}
}

// Envelope holds the routing fields shared by every message.
type Envelope struct {
	SchemaVersion int    `json:"schemaVersion"`
	RunID         string `json:"runId"`
	SessionID     string `json:"sessionId"`
	Timestamp     int64  `json:"timestamp"` // epoch ms
	TurnID        string `json:"turnId,omitempty"`
}

// NewEnvelope builds an envelope for the current schema version.
func NewEnvelope(runID, sessionID, turnID string, at time.Time) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		SessionID:     sessionID,
		Timestamp:     at.UnixMilli(),
		TurnID:        turnID,
	}
}

// Header returns the envelope.
func (e Envelope) Header() Envelope {
	return e
}

// StreamChannel distinguishes answer text from reasoning in stream deltas.
type StreamChannel string

const (
	ChannelText      StreamChannel = "text"
	ChannelReasoning StreamChannel = "reasoning"
)

// Usage reports token consumption of a run.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ContextUsage reports how full the model context is.
type ContextUsage struct {
	ApproxTokens int     `json:"approxTokens"`
	ContextLimit int     `json:"contextLimit"`
	Percent      float64 `json:"percent"`
}

// ManualStep is a user-authored plan step.
type ManualStep struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

var (
	// ErrInvalidMessage is returned for values failing envelope validation.
	ErrInvalidMessage = errors.New("invalid runtime message")
	// ErrUnknownType is returned when a tag has no variant.
	ErrUnknownType = errors.New("unknown runtime message type")
)
