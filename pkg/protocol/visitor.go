package protocol

// Visitor handles every message variant. Adding a variant adds a method
// here, so every implementation stops compiling until it handles it.
type Visitor interface {
	VisitUserRunStart(m UserRunStart)
	VisitAssistantStreamStart(m AssistantStreamStart)
	VisitAssistantStreamDelta(m AssistantStreamDelta)
	VisitAssistantStreamStop(m AssistantStreamStop)
	VisitToolExecutionStart(m ToolExecutionStart)
	VisitToolExecutionResult(m ToolExecutionResult)
	VisitPlanUpdate(m PlanUpdate)
	VisitManualPlanUpdate(m ManualPlanUpdate)
	VisitRunStatus(m RunStatus)
	VisitAssistantResponse(m AssistantResponse)
	VisitAssistantFinal(m AssistantFinal)
	VisitRunError(m RunError)
	VisitRunWarning(m RunWarning)
	VisitContextCompacted(m ContextCompacted)
	VisitSubagentStart(m SubagentStart)
	VisitSubagentComplete(m SubagentComplete)
}
