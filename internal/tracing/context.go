package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// SessionIDKey is the context key for session ID
	SessionIDKey ContextKey = "session_id"
	// TurnIDKey is the context key for turn ID
	TurnIDKey ContextKey = "turn_id"
	// ParentRunIDKey is the context key for the parent of a sub-agent run
	ParentRunIDKey ContextKey = "parent_run_id"
)

const turnIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	RunID       string
	SessionID   string
	TurnID      string
	ParentRunID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// NewSessionID generates a new session ID
func NewSessionID() string {
	return uuid.New().String()
}

// NewTurnID generates a short turn ID
func NewTurnID() string {
	id, err := gonanoid.Generate(turnIDAlphabet, 12)
	if err != nil {
		return uuid.New().String()
	}
	return "turn_" + id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithParentRunID adds a parent run ID to the context
func WithParentRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ParentRunIDKey, runID)
}

func value(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return value(ctx, RunIDKey) }

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string { return value(ctx, SessionIDKey) }

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string { return value(ctx, TurnIDKey) }

// GetParentRunID retrieves the parent run ID from the context
func GetParentRunID(ctx context.Context) string { return value(ctx, ParentRunIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		SessionID:   GetSessionID(ctx),
		TurnID:      GetTurnID(ctx),
		ParentRunID: GetParentRunID(ctx),
	}
}

// NewRunContext creates a context for a run, keeping an existing trace ID.
func NewRunContext(ctx context.Context, runID, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, runID)
	return WithSessionID(ctx, sessionID)
}
