package protocol

import (
	"encoding/json"

	"github.com/harun/runcore/pkg/plan"
	"github.com/harun/runcore/pkg/retry"
)

// Message is the closed set of runtime protocol variants. Consumers that
// must handle every variant implement Visitor.
type Message interface {
	Kind() Type
	Header() Envelope
	Accept(v Visitor)
	isMessage()
}

// UserRunStart opens a run with the user's request.
type UserRunStart struct {
	Envelope
	Message string `json:"message"`
}

func (UserRunStart) Kind() Type         { return TypeUserRunStart }
func (m UserRunStart) Accept(v Visitor) { v.VisitUserRunStart(m) }
func (UserRunStart) isMessage()         {}

func (m UserRunStart) MarshalJSON() ([]byte, error) {
	type plain UserRunStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeUserRunStart, plain(m)})
}

// AssistantStreamStart marks the beginning of a streamed model reply.
type AssistantStreamStart struct {
	Envelope
}

func (AssistantStreamStart) Kind() Type         { return TypeAssistantStreamStart }
func (m AssistantStreamStart) Accept(v Visitor) { v.VisitAssistantStreamStart(m) }
func (AssistantStreamStart) isMessage()         {}

func (m AssistantStreamStart) MarshalJSON() ([]byte, error) {
	type plain AssistantStreamStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAssistantStreamStart, plain(m)})
}

// AssistantStreamDelta carries one chunk of a streamed reply.
type AssistantStreamDelta struct {
	Envelope
	Content string        `json:"content"`
	Channel StreamChannel `json:"channel,omitempty"`
}

func (AssistantStreamDelta) Kind() Type         { return TypeAssistantStreamDelta }
func (m AssistantStreamDelta) Accept(v Visitor) { v.VisitAssistantStreamDelta(m) }
func (AssistantStreamDelta) isMessage()         {}

func (m AssistantStreamDelta) MarshalJSON() ([]byte, error) {
	type plain AssistantStreamDelta
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAssistantStreamDelta, plain(m)})
}

// AssistantStreamStop marks the end of a streamed model reply.
type AssistantStreamStop struct {
	Envelope
}

func (AssistantStreamStop) Kind() Type         { return TypeAssistantStreamStop }
func (m AssistantStreamStop) Accept(v Visitor) { v.VisitAssistantStreamStop(m) }
func (AssistantStreamStop) isMessage()         {}

func (m AssistantStreamStop) MarshalJSON() ([]byte, error) {
	type plain AssistantStreamStop
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAssistantStreamStop, plain(m)})
}

// ToolExecutionStart is emitted before a tool executor is invoked.
type ToolExecutionStart struct {
	Envelope
	Tool string `json:"tool"`
	ID   string `json:"id,omitempty"`
	Args any    `json:"args"`
}

func (ToolExecutionStart) Kind() Type         { return TypeToolExecutionStart }
func (m ToolExecutionStart) Accept(v Visitor) { v.VisitToolExecutionStart(m) }
func (ToolExecutionStart) isMessage()         {}

func (m ToolExecutionStart) MarshalJSON() ([]byte, error) {
	type plain ToolExecutionStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeToolExecutionStart, plain(m)})
}

// ToolExecutionResult carries a tool's opaque result or failure.
type ToolExecutionResult struct {
	Envelope
	Tool   string `json:"tool"`
	ID     string `json:"id,omitempty"`
	Args   any    `json:"args,omitempty"`
	Result any    `json:"result"`
}

func (ToolExecutionResult) Kind() Type         { return TypeToolExecutionResult }
func (m ToolExecutionResult) Accept(v Visitor) { v.VisitToolExecutionResult(m) }
func (ToolExecutionResult) isMessage()         {}

func (m ToolExecutionResult) MarshalJSON() ([]byte, error) {
	type plain ToolExecutionResult
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeToolExecutionResult, plain(m)})
}

// PlanUpdate carries a snapshot of the run's plan.
type PlanUpdate struct {
	Envelope
	Plan *plan.Plan `json:"plan"`
}

func (PlanUpdate) Kind() Type         { return TypePlanUpdate }
func (m PlanUpdate) Accept(v Visitor) { v.VisitPlanUpdate(m) }
func (PlanUpdate) isMessage()         {}

func (m PlanUpdate) MarshalJSON() ([]byte, error) {
	type plain PlanUpdate
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypePlanUpdate, plain(m)})
}

// ManualPlanUpdate is a user-authored replacement of the plan.
type ManualPlanUpdate struct {
	Envelope
	Steps []ManualStep `json:"steps"`
}

func (ManualPlanUpdate) Kind() Type         { return TypeManualPlanUpdate }
func (m ManualPlanUpdate) Accept(v Visitor) { v.VisitManualPlanUpdate(m) }
func (ManualPlanUpdate) isMessage()         {}

func (m ManualPlanUpdate) MarshalJSON() ([]byte, error) {
	type plain ManualPlanUpdate
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeManualPlanUpdate, plain(m)})
}

// RunStatus carries a retry engine snapshot.
type RunStatus struct {
	Envelope
	retry.Status
}

func (RunStatus) Kind() Type         { return TypeRunStatus }
func (m RunStatus) Accept(v Visitor) { v.VisitRunStatus(m) }
func (RunStatus) isMessage()         {}

func (m RunStatus) MarshalJSON() ([]byte, error) {
	type plain RunStatus
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeRunStatus, plain(m)})
}

// AssistantResponse is an intermediate, non-final assistant reply.
type AssistantResponse struct {
	Envelope
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

func (AssistantResponse) Kind() Type         { return TypeAssistantResponse }
func (m AssistantResponse) Accept(v Visitor) { v.VisitAssistantResponse(m) }
func (AssistantResponse) isMessage()         {}

func (m AssistantResponse) MarshalJSON() ([]byte, error) {
	type plain AssistantResponse
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAssistantResponse, plain(m)})
}

// AssistantFinal is the run's final answer.
type AssistantFinal struct {
	Envelope
	Content          string        `json:"content"`
	Thinking         string        `json:"thinking,omitempty"`
	Usage            *Usage        `json:"usage,omitempty"`
	ContextUsage     *ContextUsage `json:"contextUsage,omitempty"`
	ResponseMessages []any         `json:"responseMessages,omitempty"`
}

func (AssistantFinal) Kind() Type         { return TypeAssistantFinal }
func (m AssistantFinal) Accept(v Visitor) { v.VisitAssistantFinal(m) }
func (AssistantFinal) isMessage()         {}

func (m AssistantFinal) MarshalJSON() ([]byte, error) {
	type plain AssistantFinal
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAssistantFinal, plain(m)})
}

// RunError reports a failure that ended or will end the run.
type RunError struct {
	Envelope
	Message string `json:"message"`
}

func (RunError) Kind() Type         { return TypeRunError }
func (m RunError) Accept(v Visitor) { v.VisitRunError(m) }
func (RunError) isMessage()         {}

func (m RunError) MarshalJSON() ([]byte, error) {
	type plain RunError
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeRunError, plain(m)})
}

// RunWarning reports a recoverable problem.
type RunWarning struct {
	Envelope
	Message string `json:"message"`
}

func (RunWarning) Kind() Type         { return TypeRunWarning }
func (m RunWarning) Accept(v Visitor) { v.VisitRunWarning(m) }
func (RunWarning) isMessage()         {}

func (m RunWarning) MarshalJSON() ([]byte, error) {
	type plain RunWarning
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeRunWarning, plain(m)})
}

// ContextCompacted reports that older conversation was summarized away.
type ContextCompacted struct {
	Envelope
	Summary         string        `json:"summary"`
	TrimmedCount    int           `json:"trimmedCount"`
	PreservedCount  int           `json:"preservedCount"`
	NewSessionID    string        `json:"newSessionId"`
	ContextMessages []any         `json:"contextMessages"`
	ContextUsage    *ContextUsage `json:"contextUsage,omitempty"`
}

func (ContextCompacted) Kind() Type         { return TypeContextCompacted }
func (m ContextCompacted) Accept(v Visitor) { v.VisitContextCompacted(m) }
func (ContextCompacted) isMessage()         {}

func (m ContextCompacted) MarshalJSON() ([]byte, error) {
	type plain ContextCompacted
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeContextCompacted, plain(m)})
}

// SubagentStart announces a sub-agent run.
type SubagentStart struct {
	Envelope
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Tasks       []string `json:"tasks,omitempty"`
	ParentRunID string   `json:"parentRunId,omitempty"`
}

func (SubagentStart) Kind() Type         { return TypeSubagentStart }
func (m SubagentStart) Accept(v Visitor) { v.VisitSubagentStart(m) }
func (SubagentStart) isMessage()         {}

func (m SubagentStart) MarshalJSON() ([]byte, error) {
	type plain SubagentStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeSubagentStart, plain(m)})
}

// SubagentComplete reports a sub-agent's outcome.
type SubagentComplete struct {
	Envelope
	ID          string `json:"id"`
	Success     bool   `json:"success"`
	Summary     string `json:"summary,omitempty"`
	ParentRunID string `json:"parentRunId,omitempty"`
}

func (SubagentComplete) Kind() Type         { return TypeSubagentComplete }
func (m SubagentComplete) Accept(v Visitor) { v.VisitSubagentComplete(m) }
func (SubagentComplete) isMessage()         {}

func (m SubagentComplete) MarshalJSON() ([]byte, error) {
	type plain SubagentComplete
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeSubagentComplete, plain(m)})
}
