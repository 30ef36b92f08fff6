package retry

import "errors"

// Phase is the coarse lifecycle stage of a run.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseFinalizing Phase = "finalizing"
	PhaseCompleted  Phase = "completed"
	PhaseStopped    Phase = "stopped"
	PhaseFailed     Phase = "failed"
)

// IsTerminal returns true if the phase is terminal
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseExecuting, PhaseFinalizing, PhaseCompleted, PhaseStopped, PhaseFailed:
		return true
	}
	return false
}

// Category partitions retry bookkeeping by kind of operation.
type Category string

const (
	CategoryAPI      Category = "api"
	CategoryTool     Category = "tool"
	CategoryFinalize Category = "finalize"
)

// Categories lists every retry category.
func Categories() []Category {
	return []Category{CategoryAPI, CategoryTool, CategoryFinalize}
}

// Limits holds the maximum number of retries per category.
type Limits struct {
	API      int `json:"api"`
	Tool     int `json:"tool"`
	Finalize int `json:"finalize"`
}

func (l Limits) limit(category Category) int {
	switch category {
	case CategoryAPI:
		return l.API
	case CategoryTool:
		return l.Tool
	case CategoryFinalize:
		return l.Finalize
	}
	return 0
}

// DefaultLimits returns the standard retry limits.
func DefaultLimits() Limits {
	return Limits{API: 3, Tool: 2, Finalize: 2}
}

// Status is an immutable snapshot of an engine. Maps are copies.
type Status struct {
	Phase      Phase            `json:"phase"`
	Attempts   map[Category]int `json:"attempts"`
	MaxRetries map[Category]int `json:"maxRetries"`
	LastError  string           `json:"lastError,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// ErrCancelled is returned by Wait when its signal fires. It is never a
// retryable failure.
var ErrCancelled = errors.New("retry wait cancelled")
