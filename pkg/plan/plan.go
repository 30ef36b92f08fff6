// Package plan models a run's declared checklist.
//
// Invariants:
//   - Step ids are positional ("step-1", "step-2", ...) and assigned at
//     normalization time; they are never renumbered.
//   - "done" is always a prefix of the step list: SetStatus refuses to complete
//     a step ahead of an unfinished one, and reopening a step reopens every
//     later done step.
//   - UpdatedAt strictly advances on every mutation.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeSteps converts loose input into positional steps. Entries may be
// strings, Step, StepInput (or pointers to them) or decoded JSON objects.
// Blank titles are dropped, unknown statuses become pending, and the result
// is truncated to maxSteps (DefaultMaxSteps when maxSteps <= 0).
func NormalizeSteps(raw []any, maxSteps int) []Step {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	steps := make([]Step, 0, min(len(raw), maxSteps))
	for _, entry := range raw {
		if len(steps) >= maxSteps {
			break
		}

		in, ok := toInput(entry)
		if !ok {
			continue
		}
		title := strings.TrimSpace(in.Title)
		if title == "" {
			continue
		}

		status := StepStatus(strings.ToLower(strings.TrimSpace(in.Status)))
		if !status.Valid() {
			status = StepStatusPending
		}

		steps = append(steps, Step{
			ID:     stepID(len(steps)),
			Title:  title,
			Status: status,
			Notes:  strings.TrimSpace(in.Notes),
		})
	}

	return steps
}

// BuildPlan returns a new plan from raw input. CreatedAt is inherited from
// existing when given, otherwise now.
func BuildPlan(raw []any, existing *Plan, now time.Time, maxSteps int) *Plan {
	ts := now.UnixMilli()
	created := ts
	if existing != nil {
		created = existing.CreatedAt
	}
	updated := ts
	if existing != nil && updated <= existing.UpdatedAt {
		updated = existing.UpdatedAt + 1
	}

	return &Plan{
		Steps:     NormalizeSteps(raw, maxSteps),
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

// FromInputs is BuildPlan for typed input.
func FromInputs(inputs []StepInput, existing *Plan, now time.Time, maxSteps int) *Plan {
	raw := make([]any, len(inputs))
	for i := range inputs {
		raw[i] = inputs[i]
	}
	return BuildPlan(raw, existing, now, maxSteps)
}

// IsComplete reports whether every step is done. A nil or empty plan is
// complete.
func IsComplete(p *Plan) bool {
	if p == nil {
		return true
	}
	for _, step := range p.Steps {
		if step.Status != StepStatusDone {
			return false
		}
	}
	return true
}

// SetStatus changes the status (and, when notes is non-nil, the notes) of a
// step while keeping "done" a true prefix.
func (p *Plan) SetStatus(id string, status StepStatus, notes *string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	idx := p.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}

	if status == StepStatusDone {
		for i := 0; i < idx; i++ {
			if p.Steps[i].Status != StepStatusDone {
				return fmt.Errorf("%w: %s requires %s to be done first", ErrOutOfOrder, id, p.Steps[i].ID)
			}
		}
	} else if p.Steps[idx].Status == StepStatusDone {
		for i := idx + 1; i < len(p.Steps); i++ {
			if p.Steps[i].Status == StepStatusDone {
				p.Steps[i].Status = StepStatusPending
			}
		}
	}

	p.Steps[idx].Status = status
	if notes != nil {
		p.Steps[idx].Notes = strings.TrimSpace(*notes)
	}
	p.touch(now)
	return nil
}

// EnforceDonePrefix reopens every done step that follows an unfinished one
// and returns how many were reopened. Plans built from untrusted input pass
// through here before use.
func (p *Plan) EnforceDonePrefix(now time.Time) int {
	reopened := 0
	for i := p.DoneCount(); i < len(p.Steps); i++ {
		if p.Steps[i].Status == StepStatusDone {
			p.Steps[i].Status = StepStatusPending
			reopened++
		}
	}
	if reopened > 0 {
		p.touch(now)
	}
	return reopened
}

// DoneCount returns the length of the completed prefix.
func (p *Plan) DoneCount() int {
	n := 0
	for _, step := range p.Steps {
		if step.Status != StepStatusDone {
			break
		}
		n++
	}
	return n
}

// Clone returns a deep copy safe to hand to observers.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	copy(out.Steps, p.Steps)
	return &out
}

func (p *Plan) indexOf(id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Plan) touch(now time.Time) {
	ts := now.UnixMilli()
	if ts <= p.UpdatedAt {
		ts = p.UpdatedAt + 1
	}
	p.UpdatedAt = ts
}

func stepID(index int) string {
	return fmt.Sprintf("step-%d", index+1)
}

func toInput(entry any) (StepInput, bool) {
	switch v := entry.(type) {
	case string:
		return StepInput{Title: v}, true
	case StepInput:
		return v, true
	case *StepInput:
		if v == nil {
			return StepInput{}, false
		}
		return *v, true
	case Step:
		return StepInput{Title: v.Title, Status: string(v.Status), Notes: v.Notes}, true
	case *Step:
		if v == nil {
			return StepInput{}, false
		}
		return StepInput{Title: v.Title, Status: string(v.Status), Notes: v.Notes}, true
	case map[string]any:
		in := StepInput{}
		in.Title, _ = v["title"].(string)
		in.Status, _ = v["status"].(string)
		in.Notes, _ = v["notes"].(string)
		return in, true
	}
	return StepInput{}, false
}
