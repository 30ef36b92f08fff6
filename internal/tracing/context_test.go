package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestNewTurnID(t *testing.T) {
	id := NewTurnID()
	if !strings.HasPrefix(id, "turn_") {
		t.Errorf("expected turn_ prefix, got %s", id)
	}
	if len(id) != len("turn_")+12 {
		t.Errorf("unexpected turn ID length: %s", id)
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = NewRunContext(ctx, "run-1", "session-1")

	tc := FromContext(ctx)
	if tc.TraceID != "trace-1" {
		t.Errorf("expected trace ID to be kept, got %s", tc.TraceID)
	}
	if tc.RunID != "run-1" || tc.SessionID != "session-1" {
		t.Errorf("unexpected trace context: %+v", tc)
	}

	fresh := NewRunContext(context.Background(), "run-2", "session-2")
	if GetTraceID(fresh) == "" {
		t.Error("expected a trace ID to be generated")
	}
}

func TestPropagateToSubagent(t *testing.T) {
	parent := NewRunContext(context.Background(), "run-parent", "session-1")
	parent = WithTurnID(parent, "turn_abc")

	child, runID := PropagateToSubagent(parent)

	if runID == "" || runID == "run-parent" {
		t.Fatalf("expected a fresh run ID, got %q", runID)
	}
	if GetRunID(child) != runID {
		t.Errorf("child context run ID mismatch")
	}
	if GetParentRunID(child) != "run-parent" {
		t.Errorf("expected parent run ID, got %q", GetParentRunID(child))
	}
	if GetTraceID(child) != GetTraceID(parent) {
		t.Error("trace ID was not propagated")
	}
	if GetSessionID(child) != "session-1" {
		t.Error("session ID was not propagated")
	}
	if GetTurnID(child) != "" {
		t.Error("turn ID should not leak into the sub-agent")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewRunContext(context.Background(), "run-1", "session-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"session_id":"session-1"`, `"trace_id"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "turn_id") {
		t.Error("empty turn ID should be omitted")
	}
}
