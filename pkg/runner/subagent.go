package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/retry"
	"github.com/oklog/ulid/v2"
)

const subagentSummaryLimit = 280

// RunSubagent runs a delegated task as an independent run with its own
// retry engine and plan. The run is bracketed by subagent_start and
// subagent_complete messages carrying parentRunID.
func (r *Runner) RunSubagent(ctx context.Context, parentRunID string, params SubagentParams) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	prompt := subagentPrompt(params)
	if prompt == "" {
		return Result{}, errors.New("sub-agent needs a prompt or tasks")
	}
	if parentRunID == "" {
		parentRunID = tracing.GetRunID(ctx)
	}

	ctx = tracing.WithRunID(ctx, parentRunID)
	childCtx, childRunID := tracing.PropagateToSubagent(ctx)
	sessionID := tracing.GetSessionID(ctx)
	if sessionID == "" {
		sessionID = tracing.NewSessionID()
	}

	id := ulid.Make().String()
	name := params.Name
	if name == "" {
		name = "subagent"
	}

	r.emitDirect(protocol.SubagentStart{
		Envelope:    protocol.NewEnvelope(childRunID, sessionID, "", r.now()),
		ID:          id,
		Name:        name,
		Tasks:       params.Tasks,
		ParentRunID: parentRunID,
	})

	result, err := r.Run(childCtx, Params{
		Prompt:    prompt,
		RunID:     childRunID,
		SessionID: sessionID,
	})

	success := err == nil && result.Status.Phase == retry.PhaseCompleted
	summary := result.Content
	if err != nil {
		summary = err.Error()
	} else if result.Aborted {
		summary = "aborted"
	}
	r.emitDirect(protocol.SubagentComplete{
		Envelope:    protocol.NewEnvelope(childRunID, sessionID, "", r.now()),
		ID:          id,
		Success:     success,
		Summary:     clip(summary, subagentSummaryLimit),
		ParentRunID: parentRunID,
	})

	r.logger.Info().
		Str("subagent_id", id).
		Str("run_id", childRunID).
		Str("parent_run_id", parentRunID).
		Bool("success", success).
		Msg("Sub-agent finished")

	return result, err
}

func (r *Runner) emitDirect(msg protocol.Message) {
	if err := r.bus.Publish(msg); err != nil {
		r.logger.Warn().Err(err).Str("type", string(msg.Kind())).Msg("Failed to publish runtime message")
	}
}

func subagentPrompt(params SubagentParams) string {
	prompt := strings.TrimSpace(params.Prompt)
	if len(params.Tasks) == 0 {
		return prompt
	}

	var b strings.Builder
	if prompt != "" {
		b.WriteString(prompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Tasks:")
	for i, task := range params.Tasks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSpace(task))
	}
	return b.String()
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
