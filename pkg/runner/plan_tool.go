package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/runcore/pkg/plan"
	"github.com/harun/runcore/pkg/protocol"
)

// Built-in tools. SetPlanTool declares or replaces the plan; UpdatePlanStepTool
// reports progress on it.
const (
	SetPlanTool        = "set_plan"
	UpdatePlanStepTool = "update_plan_step"
)

// ToolDefinition describes a tool to a model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SetPlanSchema is the JSON Schema of SetPlanTool's arguments.
var SetPlanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"steps": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"steps"},
}

// UpdatePlanStepSchema is the JSON Schema of UpdatePlanStepTool's arguments,
// for models that need tool definitions.
var UpdatePlanStepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"stepId": map[string]any{"type": "string", "description": "Id of the step, e.g. step-2"},
		"status": map[string]any{
			"type": "string",
			"enum": []string{
				string(plan.StepStatusPending),
				string(plan.StepStatusRunning),
				string(plan.StepStatusDone),
				string(plan.StepStatusBlocked),
			},
		},
		"notes": map[string]any{"type": "string"},
	},
	"required": []string{"stepId", "status"},
}

// BuiltinTools returns the definitions of the tools the runner handles
// itself.
func BuiltinTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        SetPlanTool,
			Description: "Declare the ordered steps of your plan. Replaces any previous plan.",
			Parameters:  SetPlanSchema,
		},
		{
			Name:        UpdatePlanStepTool,
			Description: "Update the status of a plan step. Steps must be completed in order.",
			Parameters:  UpdatePlanStepSchema,
		},
	}
}

var errNoPlan = errors.New("no plan has been declared")

// setPlan declares the plan from the tool's steps argument.
func (s *runState) setPlan(call ToolCall) string {
	s.emit(protocol.ToolExecutionStart{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args})

	raw, _ := call.Args["steps"].([]any)
	if len(raw) == 0 {
		err := errors.New("missing steps")
		s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: toolError(err)})
		return "error: " + err.Error()
	}

	s.declarePlan(raw)
	result := map[string]any{
		"done":  s.plan.DoneCount(),
		"total": len(s.plan.Steps),
	}
	s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: result})

	data, _ := json.Marshal(result)
	return string(data)
}

// updatePlanStep applies the tool call to the plan. Rejections, such as
// completing a step out of order, are reported back to the model as the
// tool result.
func (s *runState) updatePlanStep(call ToolCall) string {
	s.emit(protocol.ToolExecutionStart{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args})

	if err := s.applyPlanStep(call.Args); err != nil {
		s.logger.Debug().Err(err).Msg("Plan step update rejected")
		s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: toolError(err)})
		return "error: " + err.Error()
	}

	s.emit(protocol.PlanUpdate{Envelope: s.envelope(), Plan: s.plan.Clone()})
	result := map[string]any{
		"done":  s.plan.DoneCount(),
		"total": len(s.plan.Steps),
	}
	s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: result})

	data, _ := json.Marshal(result)
	return string(data)
}

func (s *runState) applyPlanStep(args map[string]any) error {
	if s.plan == nil || len(s.plan.Steps) == 0 {
		return errNoPlan
	}

	id, _ := args["stepId"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing stepId")
	}
	status, _ := args["status"].(string)

	var notes *string
	if n, ok := args["notes"].(string); ok {
		notes = &n
	}
	return s.plan.SetStatus(id, plan.StepStatus(strings.ToLower(strings.TrimSpace(status))), notes, s.r.now())
}
