package runner

import (
	"fmt"

	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/protocol"
)

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}

func (s *runState) contextUsage() protocol.ContextUsage {
	approx := EstimateTokens(s.conversation)
	percent := 0.0
	if s.r.contextLimit > 0 {
		percent = float64(approx) * 100 / float64(s.r.contextLimit)
	}
	return protocol.ContextUsage{
		ApproxTokens: approx,
		ContextLimit: s.r.contextLimit,
		Percent:      percent,
	}
}

// compactIfNeeded trims the oldest conversation messages once the estimate
// exceeds the context limit. System messages and the most recent keepRecent
// messages are kept, and a summary marker replaces the rest. The run keeps
// its session; the continuation session is reported in context_compacted.
func (s *runState) compactIfNeeded() {
	tokenCount := EstimateTokens(s.conversation)
	if tokenCount <= s.r.contextLimit {
		return
	}

	var system, dialogue []Message
	for _, msg := range s.conversation {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			dialogue = append(dialogue, msg)
		}
	}
	if len(dialogue) <= s.r.keepRecent {
		return
	}

	recent := dialogue[len(dialogue)-s.r.keepRecent:]
	// A tool result must not lose the assistant message that requested it.
	for len(recent) > 0 && recent[0].Role == RoleTool {
		recent = recent[1:]
	}
	trimmed := len(dialogue) - len(recent)

	summary := Message{
		Role:    RoleSystem,
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", trimmed),
	}
	compacted := append(append(system, summary), recent...)
	s.conversation = compacted
	s.nextSessionID = tracing.NewSessionID()

	contextMessages := make([]any, 0, len(compacted))
	for _, msg := range compacted {
		contextMessages = append(contextMessages, msg)
	}
	usage := s.contextUsage()

	s.logger.Info().
		Int("tokenCount", tokenCount).
		Int("contextLimit", s.r.contextLimit).
		Int("trimmed", trimmed).
		Str("new_session_id", s.nextSessionID).
		Msg("Compacting context")

	s.emit(protocol.ContextCompacted{
		Envelope:        s.envelope(),
		Summary:         summary.Content,
		TrimmedCount:    trimmed,
		PreservedCount:  len(recent),
		NewSessionID:    s.nextSessionID,
		ContextMessages: contextMessages,
		ContextUsage:    &usage,
	})
}
