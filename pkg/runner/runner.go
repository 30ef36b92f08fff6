// Package runner drives runs: it calls the model, executes tools, keeps the
// run's plan and retry bookkeeping, and publishes every lifecycle event as a
// runtime message.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/backoff"
	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/plan"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxTurns     = 10
	DefaultContextLimit = 32000
	DefaultKeepRecent   = 20

	manualBuffer = 8
)

// Runner orchestrates runs
type Runner struct {
	model        Model
	tools        ToolExecutor
	bus          bus.Publisher
	logger       zerolog.Logger
	limits       retry.Limits
	backoff      backoff.Policy
	backoffFn    retry.BackoffFunc
	maxTurns     int
	maxPlanSteps int
	contextLimit int
	keepRecent   int
	systemPrompt string
	now          func() time.Time

	// Active runs for abort and manual plan updates
	activeRuns map[string]*activeRun
	runsMu     sync.RWMutex
}

type activeRun struct {
	cancel context.CancelFunc
	manual chan protocol.ManualPlanUpdate
}

// Config holds runner configuration. Zero values select defaults.
type Config struct {
	Model        Model
	Tools        ToolExecutor
	Bus          bus.Publisher
	Logger       zerolog.Logger
	Limits       retry.Limits
	Backoff      backoff.Policy
	BackoffFunc  retry.BackoffFunc
	MaxTurns     int
	MaxPlanSteps int
	ContextLimit int
	KeepRecent   int
	SystemPrompt string
	Now          func() time.Time
}

// New creates a runner. Tools may be nil, in which case only built-in
// tools are available.
func New(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Model == nil {
		return nil, errors.New("model is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxPlanSteps <= 0 {
		cfg.MaxPlanSteps = plan.DefaultMaxSteps
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runner{
		model:        cfg.Model,
		tools:        cfg.Tools,
		bus:          cfg.Bus,
		logger:       cfg.Logger.With().Str("component", "runner").Logger(),
		limits:       cfg.Limits,
		backoff:      cfg.Backoff,
		backoffFn:    cfg.BackoffFunc,
		maxTurns:     cfg.MaxTurns,
		maxPlanSteps: cfg.MaxPlanSteps,
		contextLimit: cfg.ContextLimit,
		keepRecent:   cfg.KeepRecent,
		systemPrompt: cfg.SystemPrompt,
		now:          cfg.Now,
		activeRuns:   make(map[string]*activeRun),
	}, nil
}

// Run drives one run to a terminal phase. A cancelled ctx or Abort ends the
// run in the stopped phase with Result.Aborted set and a nil error; a failed
// run returns an error wrapping ErrRunFailed.
func (r *Runner) Run(ctx context.Context, params Params) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return Result{}, errors.New("prompt cannot be empty")
	}

	runID := params.RunID
	if runID == "" {
		runID = tracing.NewRunID()
	}
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = tracing.GetSessionID(ctx)
	}
	if sessionID == "" {
		sessionID = tracing.NewSessionID()
	}

	ctx = tracing.NewRunContext(ctx, runID, sessionID)
	ctx, span := tracing.StartSpan(ctx, "runcore.runner", "runner.run", attribute.String("run_id", runID))
	defer span.End()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &activeRun{
		cancel: cancel,
		manual: make(chan protocol.ManualPlanUpdate, manualBuffer),
	}
	if err := r.register(runID, run); err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	defer r.unregister(runID)

	start := time.Now()
	s := r.newRunState(execCtx, runID, sessionID, run.manual)
	result, err := s.drive(params)

	observability.RecordRunFinished(string(result.Status.Phase), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// Abort cancels the run with the given id. It reports whether a run was
// found.
func (r *Runner) Abort(runID string) bool {
	r.runsMu.RLock()
	run, exists := r.activeRuns[runID]
	r.runsMu.RUnlock()

	if !exists {
		r.logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return false
	}

	r.logger.Info().Str("run_id", runID).Msg("Aborting run")
	run.cancel()
	return true
}

// IsRunning reports whether a run with the given id is active.
func (r *Runner) IsRunning(runID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[runID]
	return exists
}

// ActiveRuns returns the ids of active runs.
func (r *Runner) ActiveRuns() []string {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

// ApplyManualPlan queues a user-authored plan for the run named in the
// message envelope. The plan replaces the current one at the next turn
// boundary.
func (r *Runner) ApplyManualPlan(_ context.Context, msg protocol.ManualPlanUpdate) error {
	runID := msg.Header().RunID

	r.runsMu.RLock()
	run, exists := r.activeRuns[runID]
	r.runsMu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	select {
	case run.manual <- msg:
		return nil
	default:
		return fmt.Errorf("too many pending plan updates for run %s", runID)
	}
}

func (r *Runner) register(runID string, run *activeRun) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if _, exists := r.activeRuns[runID]; exists {
		return fmt.Errorf("run %s is already active", runID)
	}
	r.activeRuns[runID] = run
	observability.SetActiveRuns(len(r.activeRuns))
	return nil
}

func (r *Runner) unregister(runID string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	delete(r.activeRuns, runID)
	observability.SetActiveRuns(len(r.activeRuns))
}
