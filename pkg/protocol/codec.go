package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode renders msg as tagged JSON.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	return json.Marshal(msg)
}

// Decode validates the envelope of data and unmarshals it into its variant.
func Decode(data []byte) (Message, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch head.Type {
	case TypeUserRunStart:
		return decodeAs[UserRunStart](data)
	case TypeAssistantStreamStart:
		return decodeAs[AssistantStreamStart](data)
	case TypeAssistantStreamDelta:
		return decodeAs[AssistantStreamDelta](data)
	case TypeAssistantStreamStop:
		return decodeAs[AssistantStreamStop](data)
	case TypeToolExecutionStart:
		return decodeAs[ToolExecutionStart](data)
	case TypeToolExecutionResult:
		return decodeAs[ToolExecutionResult](data)
	case TypePlanUpdate:
		return decodeAs[PlanUpdate](data)
	case TypeManualPlanUpdate:
		return decodeAs[ManualPlanUpdate](data)
	case TypeRunStatus:
		return decodeAs[RunStatus](data)
	case TypeAssistantResponse:
		return decodeAs[AssistantResponse](data)
	case TypeAssistantFinal:
		return decodeAs[AssistantFinal](data)
	case TypeRunError:
		return decodeAs[RunError](data)
	case TypeRunWarning:
		return decodeAs[RunWarning](data)
	case TypeContextCompacted:
		return decodeAs[ContextCompacted](data)
	case TypeSubagentStart:
		return decodeAs[SubagentStart](data)
	case TypeSubagentComplete:
		return decodeAs[SubagentComplete](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Kind(), err)
	}
	return msg, nil
}
