package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Describe renders a one-line human summary of msg.
func Describe(msg Message) string {
	if msg == nil {
		return ""
	}
	d := &describer{}
	msg.Accept(d)
	h := msg.Header()
	return fmt.Sprintf("[%s] %s %s", h.RunID, msg.Kind(), d.text)
}

type describer struct {
	text string
}

func (d *describer) VisitUserRunStart(m UserRunStart) {
	d.text = truncate(m.Message, 80)
}

func (d *describer) VisitAssistantStreamStart(AssistantStreamStart) {}

func (d *describer) VisitAssistantStreamDelta(m AssistantStreamDelta) {
	d.text = fmt.Sprintf("(%s) %s", channelOrText(m.Channel), truncate(m.Content, 60))
}

func (d *describer) VisitAssistantStreamStop(AssistantStreamStop) {}

func (d *describer) VisitToolExecutionStart(m ToolExecutionStart) {
	d.text = m.Tool
}

func (d *describer) VisitToolExecutionResult(m ToolExecutionResult) {
	d.text = fmt.Sprintf("%s -> %s", m.Tool, truncate(fmt.Sprint(m.Result), 60))
}

func (d *describer) VisitPlanUpdate(m PlanUpdate) {
	if m.Plan == nil {
		d.text = "empty plan"
		return
	}
	d.text = fmt.Sprintf("%d/%d steps done", m.Plan.DoneCount(), len(m.Plan.Steps))
}

func (d *describer) VisitManualPlanUpdate(m ManualPlanUpdate) {
	d.text = fmt.Sprintf("%d steps", len(m.Steps))
}

func (d *describer) VisitRunStatus(m RunStatus) {
	d.text = string(m.Phase)
	if m.Note != "" {
		d.text += ": " + m.Note
	}
}

func (d *describer) VisitAssistantResponse(m AssistantResponse) {
	d.text = truncate(m.Content, 80)
}

func (d *describer) VisitAssistantFinal(m AssistantFinal) {
	d.text = truncate(m.Content, 80)
}

func (d *describer) VisitRunError(m RunError) {
	d.text = m.Message
}

func (d *describer) VisitRunWarning(m RunWarning) {
	d.text = m.Message
}

func (d *describer) VisitContextCompacted(m ContextCompacted) {
	d.text = fmt.Sprintf("trimmed %d, kept %d, new session %s", m.TrimmedCount, m.PreservedCount, m.NewSessionID)
}

func (d *describer) VisitSubagentStart(m SubagentStart) {
	d.text = fmt.Sprintf("%s (%s)", m.Name, m.ID)
}

func (d *describer) VisitSubagentComplete(m SubagentComplete) {
	outcome := "failed"
	if m.Success {
		outcome = "succeeded"
	}
	d.text = fmt.Sprintf("%s %s", m.ID, outcome)
}

func channelOrText(c StreamChannel) StreamChannel {
	if c == "" {
		return ChannelText
	}
	return c
}

// truncate collapses whitespace and keeps at most n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
