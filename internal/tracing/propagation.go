package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubagent keeps the parent's trace ID and session, records the
// parent run ID, and assigns a new run ID for the sub-agent.
func PropagateToSubagent(ctx context.Context) (context.Context, string) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	runID := NewRunID()
	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithParentRunID(newCtx, GetRunID(ctx))
	newCtx = WithRunID(newCtx, runID)
	newCtx = WithTurnID(newCtx, "")

	return newCtx, runID
}

// LoggerFromContext adds tracing context to a zerolog logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := logger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.ParentRunID != "" {
		lc = lc.Str("parent_run_id", tc.ParentRunID)
	}

	return lc.Logger()
}
