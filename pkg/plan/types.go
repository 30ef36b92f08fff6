package plan

import "errors"

// DefaultMaxSteps caps a plan when the caller does not supply a limit.
const DefaultMaxSteps = 8

// Plan is an ordered checklist declared for a run. Steps never reorder after
// creation; only status and notes change in place.
type Plan struct {
	Steps     []Step `json:"steps"`
	CreatedAt int64  `json:"createdAt"` // epoch ms
	UpdatedAt int64  `json:"updatedAt"` // epoch ms, strictly advancing
}

// Step represents a single checklist item
type Step struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status StepStatus `json:"status"`
	Notes  string     `json:"notes,omitempty"`
}

// StepInput is the loose shape accepted from model or user input.
type StepInput struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// StepStatus represents the lifecycle status of a step
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusBlocked StepStatus = "blocked"
)

// Valid reports whether s is a known status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusDone, StepStatusBlocked:
		return true
	}
	return false
}

var (
	// ErrStepNotFound is returned when a step id is not part of the plan.
	ErrStepNotFound = errors.New("plan step not found")
	// ErrOutOfOrder is returned when a step is marked done before all prior steps.
	ErrOutOfOrder = errors.New("plan step completed out of order")
	// ErrInvalidStatus is returned for unknown step statuses.
	ErrInvalidStatus = errors.New("invalid plan step status")
)
