package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/errclass"
	"github.com/harun/runcore/pkg/plan"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const finalizeNudge = "Your last reply was empty. Reply with the final answer for the user."

// runState is the single control flow of one run. It owns the engine and
// the plan; nothing else mutates them.
type runState struct {
	r      *Runner
	ctx    context.Context
	logger zerolog.Logger

	runID         string
	sessionID     string
	nextSessionID string
	turnID        string

	engine       *retry.Engine
	plan         *plan.Plan
	conversation []Message
	produced     []Message
	usage        *protocol.Usage
	manual       <-chan protocol.ManualPlanUpdate
}

func (r *Runner) newRunState(ctx context.Context, runID, sessionID string, manual <-chan protocol.ManualPlanUpdate) *runState {
	s := &runState{
		r:             r,
		ctx:           ctx,
		logger:        tracing.LoggerFromContext(ctx, r.logger),
		runID:         runID,
		sessionID:     sessionID,
		nextSessionID: sessionID,
		manual:        manual,
	}
	s.engine = retry.New(retry.Options{
		Limits:      r.limits,
		Backoff:     r.backoff,
		BackoffFunc: r.backoffFn,
		Logger:      r.logger,
		RunID:       runID,
		OnStatus: func(status retry.Status) {
			s.emit(protocol.RunStatus{Envelope: s.envelope(), Status: status})
		},
	})
	return s
}

func (s *runState) envelope() protocol.Envelope {
	return protocol.NewEnvelope(s.runID, s.sessionID, s.turnID, s.r.now())
}

func (s *runState) emit(msg protocol.Message) {
	if err := s.r.bus.Publish(msg); err != nil {
		s.logger.Warn().Err(err).Str("type", string(msg.Kind())).Msg("Failed to publish runtime message")
	}
}

func (s *runState) appendMessage(msg Message) {
	s.conversation = append(s.conversation, msg)
	s.produced = append(s.produced, msg)
}

func (s *runState) drive(params Params) (Result, error) {
	s.emit(protocol.UserRunStart{Envelope: s.envelope(), Message: params.Prompt})
	s.engine.SetPhase(retry.PhasePlanning, "run started")

	if s.r.systemPrompt != "" {
		s.conversation = append(s.conversation, Message{Role: RoleSystem, Content: s.r.systemPrompt})
	}
	s.conversation = append(s.conversation, params.History...)
	s.appendMessage(Message{Role: RoleUser, Content: params.Prompt})

	for turn := 1; turn <= s.r.maxTurns; turn++ {
		if err := s.ctx.Err(); err != nil {
			return s.stop(err)
		}
		s.applyManualUpdates()
		s.turnID = tracing.NewTurnID()
		s.compactIfNeeded()

		resp, err := s.callModel()
		if err != nil {
			if s.cancelled(err) {
				return s.stop(err)
			}
			return s.fail("model call retries exhausted", err)
		}
		s.addUsage(resp.Usage)
		if resp.Plan != nil {
			s.declarePlan(resp.Plan)
		}

		if len(resp.ToolCalls) > 0 {
			s.engine.SetPhase(retry.PhaseExecuting, fmt.Sprintf("turn %d: %d tool call(s)", turn, len(resp.ToolCalls)))
			if strings.TrimSpace(resp.Content) != "" {
				s.emit(protocol.AssistantResponse{Envelope: s.envelope(), Content: resp.Content, Thinking: resp.Thinking})
			}
			s.appendMessage(Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

			for _, call := range resp.ToolCalls {
				out, err := s.runTool(call)
				if err != nil {
					if s.cancelled(err) {
						return s.stop(err)
					}
					return s.fail(fmt.Sprintf("tool %s retries exhausted", call.Name), err)
				}
				s.appendMessage(Message{Role: RoleTool, Content: out, ToolCallID: call.ID})
			}
			continue
		}

		s.engine.SetPhase(retry.PhaseFinalizing, "")
		if strings.TrimSpace(resp.Content) == "" {
			if !s.engine.CanRetry(retry.CategoryFinalize) {
				return s.fail("final answer retries exhausted", ErrEmptyFinal)
			}
			s.engine.RegisterRetry(retry.CategoryFinalize, ErrEmptyFinal, "empty final answer")
			if err := s.engine.WaitContext(s.ctx, retry.CategoryFinalize); err != nil {
				return s.stop(err)
			}
			s.appendMessage(Message{Role: RoleUser, Content: finalizeNudge})
			continue
		}

		return s.complete(resp), nil
	}

	return s.fail(fmt.Sprintf("stopped after %d turns", s.r.maxTurns), ErrMaxTurns)
}

// callModel makes one model turn, retrying under the api category.
func (s *runState) callModel() (Response, error) {
	for {
		resp, err := s.streamTurn()
		if err == nil {
			return resp, nil
		}
		if s.ctx.Err() != nil {
			return Response{}, retry.ErrCancelled
		}

		s.logger.Warn().
			Err(err).
			Str("error_category", string(errclass.Classify(err))).
			Int("attempt", s.engine.Attempts(retry.CategoryAPI)+1).
			Msg("Model call failed")

		if !s.engine.RegisterRetry(retry.CategoryAPI, err, "model call failed") {
			return Response{}, err
		}
		if err := s.engine.WaitContext(s.ctx, retry.CategoryAPI); err != nil {
			return Response{}, err
		}
	}
}

func (s *runState) streamTurn() (Response, error) {
	ctx := tracing.WithTurnID(s.ctx, s.turnID)
	ctx, span := tracing.StartSpan(ctx, "runcore.runner", "runner.model_turn")
	defer span.End()

	s.emit(protocol.AssistantStreamStart{Envelope: s.envelope()})
	defer func() {
		s.emit(protocol.AssistantStreamStop{Envelope: s.envelope()})
	}()

	req := Request{
		RunID:    s.runID,
		TurnID:   s.turnID,
		Messages: append([]Message(nil), s.conversation...),
		Plan:     s.plan.Clone(),
	}
	resp, err := s.r.model.Stream(ctx, req, func(content string, channel protocol.StreamChannel) {
		if content == "" {
			return
		}
		if channel == "" {
			channel = protocol.ChannelText
		}
		s.emit(protocol.AssistantStreamDelta{Envelope: s.envelope(), Content: content, Channel: channel})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// runTool executes one tool call, retrying under the tool category.
// Built-in tools never fail the run.
func (s *runState) runTool(call ToolCall) (string, error) {
	switch call.Name {
	case SetPlanTool:
		return s.setPlan(call), nil
	case UpdatePlanStepTool:
		return s.updatePlanStep(call), nil
	}

	for {
		out, err := s.executeTool(call)
		if err == nil {
			return out, nil
		}
		if s.ctx.Err() != nil {
			return "", retry.ErrCancelled
		}
		if !s.engine.RegisterRetry(retry.CategoryTool, err, fmt.Sprintf("tool %s failed", call.Name)) {
			return "", err
		}
		if err := s.engine.WaitContext(s.ctx, retry.CategoryTool); err != nil {
			return "", err
		}
	}
}

func (s *runState) executeTool(call ToolCall) (string, error) {
	s.emit(protocol.ToolExecutionStart{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args})

	ctx, span := tracing.StartSpan(s.ctx, "runcore.runner", "runner.tool", attribute.String("tool", call.Name))
	start := time.Now()

	var (
		out any
		err error
	)
	if s.r.tools == nil {
		err = fmt.Errorf("unknown tool: %s", call.Name)
	} else {
		out, err = s.r.tools.Execute(ctx, call.Name, call.Args)
	}

	observability.RecordToolExecution(call.Name, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("tool", call.Name).
			Str("error_category", string(errclass.Classify(err))).
			Msg("Tool execution failed")
		s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: toolError(err)})
		return "", err
	}

	s.emit(protocol.ToolExecutionResult{Envelope: s.envelope(), Tool: call.Name, ID: call.ID, Args: call.Args, Result: out})
	return renderOutput(out), nil
}

func (s *runState) declarePlan(raw []any) {
	s.plan = plan.BuildPlan(raw, s.plan, s.r.now(), s.r.maxPlanSteps)
	s.plan.EnforceDonePrefix(s.r.now())
	s.emit(protocol.PlanUpdate{Envelope: s.envelope(), Plan: s.plan.Clone()})
}

func (s *runState) applyManualUpdates() {
	for {
		select {
		case msg := <-s.manual:
			s.applyManual(msg)
		default:
			return
		}
	}
}

func (s *runState) applyManual(msg protocol.ManualPlanUpdate) {
	inputs := make([]plan.StepInput, 0, len(msg.Steps))
	for _, step := range msg.Steps {
		inputs = append(inputs, plan.StepInput{Title: step.Title, Status: step.Status, Notes: step.Notes})
	}
	s.plan = plan.FromInputs(inputs, s.plan, s.r.now(), s.r.maxPlanSteps)
	s.plan.EnforceDonePrefix(s.r.now())

	s.emit(protocol.ManualPlanUpdate{Envelope: s.envelope(), Steps: msg.Steps})
	s.emit(protocol.PlanUpdate{Envelope: s.envelope(), Plan: s.plan.Clone()})

	var b strings.Builder
	b.WriteString("The user replaced the plan:")
	for _, step := range s.plan.Steps {
		fmt.Fprintf(&b, "\n- %s [%s] %s", step.ID, step.Status, step.Title)
	}
	s.appendMessage(Message{Role: RoleUser, Content: b.String()})
	s.logger.Info().Int("steps", len(s.plan.Steps)).Msg("Manual plan applied")
}

func (s *runState) addUsage(u *protocol.Usage) {
	if u == nil {
		return
	}
	if s.usage == nil {
		s.usage = &protocol.Usage{}
	}
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	s.usage.TotalTokens += total
}

func (s *runState) cancelled(err error) bool {
	return errors.Is(err, retry.ErrCancelled) || s.ctx.Err() != nil
}

func (s *runState) complete(resp Response) Result {
	if s.plan != nil && !plan.IsComplete(s.plan) {
		s.emit(protocol.RunWarning{
			Envelope: s.envelope(),
			Message:  fmt.Sprintf("finished with %d of %d plan steps done", s.plan.DoneCount(), len(s.plan.Steps)),
		})
	}

	s.appendMessage(Message{Role: RoleAssistant, Content: resp.Content})
	responseMessages := make([]any, 0, len(s.produced))
	for _, m := range s.produced {
		responseMessages = append(responseMessages, m)
	}
	usage := s.contextUsage()
	s.emit(protocol.AssistantFinal{
		Envelope:         s.envelope(),
		Content:          resp.Content,
		Thinking:         resp.Thinking,
		Usage:            s.usage,
		ContextUsage:     &usage,
		ResponseMessages: responseMessages,
	})
	s.engine.MarkCompleted("", nil)

	s.logger.Info().Msg("Run completed")
	result := s.result()
	result.Content = resp.Content
	result.Thinking = resp.Thinking
	return result
}

func (s *runState) stop(cause error) (Result, error) {
	reason := "run aborted"
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(context.Cause(s.ctx), context.DeadlineExceeded) {
		reason = "run deadline exceeded"
	}
	s.engine.MarkStopped(reason, nil)
	s.emit(protocol.RunWarning{Envelope: s.envelope(), Message: reason})
	s.logger.Info().Str("reason", reason).Msg("Run stopped")

	result := s.result()
	result.Aborted = true
	return result, nil
}

func (s *runState) fail(note string, cause error) (Result, error) {
	s.engine.MarkFailed(note, cause)
	category := errclass.Classify(cause)
	s.emit(protocol.RunError{
		Envelope: s.envelope(),
		Message:  fmt.Sprintf("%s: %s (%s)", note, errclass.Message(cause), category),
	})
	s.logger.Error().Err(cause).Str("error_category", string(category)).Msg("Run failed")

	return s.result(), fmt.Errorf("%w: %s: %w", ErrRunFailed, note, cause)
}

func (s *runState) result() Result {
	return Result{
		RunID:         s.runID,
		SessionID:     s.sessionID,
		NextSessionID: s.nextSessionID,
		Status:        s.engine.Status(),
		Plan:          s.plan.Clone(),
		Usage:         s.usage,
		Messages:      append([]Message(nil), s.produced...),
	}
}

func toolError(err error) map[string]any {
	return map[string]any{
		"error":    errclass.Message(err),
		"category": string(errclass.Classify(err)),
	}
}

func renderOutput(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	if data, err := json.Marshal(out); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", out)
}
