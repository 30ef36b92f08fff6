package retry

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/backoff"
	"github.com/harun/runcore/pkg/errclass"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// BackoffFunc maps an attempt number to the wait before the next attempt.
type BackoffFunc func(attempt int, category Category) time.Duration

// Options configures an Engine.
type Options struct {
	Limits Limits
	// Backoff is used when BackoffFunc is nil. A zero policy means
	// backoff.DefaultPolicy().
	Backoff     backoff.Policy
	BackoffFunc BackoffFunc
	OnStatus    func(Status)
	Logger      zerolog.Logger
	RunID       string
}

// Engine tracks one run's phase and per-category retry attempts. It is owned
// by a single control flow and holds no locks; create a new Engine per run.
type Engine struct {
	phase      Phase
	attempts   map[Category]int
	maxRetries map[Category]int
	lastError  string
	note       string

	backoff  BackoffFunc
	onStatus func(Status)
	logger   zerolog.Logger
}

// New creates an engine in the planning phase. Negative limits are clamped
// to zero.
func New(opts Options) *Engine {
	observability.EnsureRegistered()

	backoffFn := opts.BackoffFunc
	if backoffFn == nil {
		policy := opts.Backoff
		backoffFn = func(attempt int, _ Category) time.Duration {
			return policy.Delay(attempt)
		}
	}

	logger := opts.Logger
	if opts.RunID != "" {
		logger = logger.With().Str("run_id", opts.RunID).Logger()
	}

	e := &Engine{
		phase:      PhasePlanning,
		attempts:   make(map[Category]int),
		maxRetries: make(map[Category]int),
		backoff:    backoffFn,
		onStatus:   opts.OnStatus,
		logger:     logger,
	}
	for _, category := range Categories() {
		e.attempts[category] = 0
		e.maxRetries[category] = max(opts.Limits.limit(category), 0)
	}
	return e
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Attempts returns the number of retries registered for category.
func (e *Engine) Attempts(category Category) int {
	return e.attempts[category]
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	return Status{
		Phase:      e.phase,
		Attempts:   maps.Clone(e.attempts),
		MaxRetries: maps.Clone(e.maxRetries),
		LastError:  e.lastError,
		Note:       e.note,
	}
}

// SetPhase moves the run to phase. No transition is refused; ordering is
// the driver's responsibility.
func (e *Engine) SetPhase(phase Phase, note string) {
	prev := e.phase
	e.phase = phase
	e.note = note

	observability.RecordPhaseTransition(string(phase))
	e.logger.Debug().
		Str("from", string(prev)).
		Str("to", string(phase)).
		Str("note", note).
		Msg("Run phase changed")

	e.emit()
}

// MarkCompleted moves the run to the completed phase.
func (e *Engine) MarkCompleted(note string, err error) {
	e.recordError(err)
	e.SetPhase(PhaseCompleted, note)
}

// MarkStopped moves the run to the stopped phase.
func (e *Engine) MarkStopped(note string, err error) {
	e.recordError(err)
	e.SetPhase(PhaseStopped, note)
}

// MarkFailed moves the run to the failed phase. Without an error the note
// becomes the last error, since it is the failure reason.
func (e *Engine) MarkFailed(note string, err error) {
	if err == nil && note != "" {
		e.lastError = note
	}
	e.recordError(err)
	e.SetPhase(PhaseFailed, note)
}

// RegisterRetry counts a failed attempt for category and reports whether
// the new count is still within the configured maximum.
func (e *Engine) RegisterRetry(category Category, err error, note string) bool {
	e.attempts[category]++
	e.recordError(err)
	e.note = note

	count := e.attempts[category]
	allowed := count <= e.maxRetries[category]

	observability.RecordRetry(string(category), allowed)
	if err != nil {
		observability.RecordFailure(string(errclass.Classify(err)))
	}
	e.logger.Debug().
		Str("category", string(category)).
		Int("attempt", count).
		Int("max", e.maxRetries[category]).
		Bool("allowed", allowed).
		Str("error", e.lastError).
		Msg("Retry registered")

	e.emit()
	return allowed
}

// CanRetry reports whether another attempt may be made before registering
// it. Together with RegisterRetry, a maximum of N permits exactly N retries
// after the first try.
func (e *Engine) CanRetry(category Category) bool {
	return e.attempts[category] < e.maxRetries[category]
}

// Wait blocks for the backoff delay of category's current attempt count.
// It returns ErrCancelled without starting a timer if signal has already
// triggered, and returns ErrCancelled early if signal triggers during the
// wait. A nil signal waits unconditionally.
func (e *Engine) Wait(category Category, signal Signal) error {
	if signal != nil && signal.Triggered() {
		observability.RecordRetryWait(string(category), 0, true)
		return ErrCancelled
	}

	delay := e.backoff(max(1, e.attempts[category]), category)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	if signal == nil {
		<-timer.C
		observability.RecordRetryWait(string(category), delay, false)
		return nil
	}

	cancelled := make(chan struct{})
	var once sync.Once
	unsubscribe := signal.Subscribe(func() {
		once.Do(func() { close(cancelled) })
	})
	defer unsubscribe()

	e.logger.Debug().
		Str("category", string(category)).
		Dur("delay", delay).
		Msg("Waiting before retry")

	select {
	case <-timer.C:
		observability.RecordRetryWait(string(category), delay, false)
		return nil
	case <-cancelled:
		observability.RecordRetryWait(string(category), delay, true)
		return ErrCancelled
	}
}

// WaitContext is Wait with a context as the cancellation signal.
func (e *Engine) WaitContext(ctx context.Context, category Category) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"runcore.retry",
		"retry.wait",
		attribute.String("category", string(category)),
		attribute.Int("attempt", e.attempts[category]),
	)
	defer span.End()

	err := e.Wait(category, ContextSignal(ctx))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (e *Engine) recordError(err error) {
	if err != nil {
		e.lastError = errclass.Message(err)
	}
}

func (e *Engine) emit() {
	if e.onStatus != nil {
		e.onStatus(e.Status())
	}
}
