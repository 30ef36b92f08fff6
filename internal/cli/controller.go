package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/lanes"
	"github.com/harun/runcore/pkg/runner"
	"github.com/rs/zerolog"
)

// runController starts runs requested by gateway clients. Runs of one
// session execute one after another; runs of different sessions overlap.
type runController struct {
	*runner.Runner

	ctx    context.Context
	queue  *lanes.Queue
	logger zerolog.Logger
}

func newRunController(ctx context.Context, r *runner.Runner, logger zerolog.Logger) *runController {
	return &runController{
		Runner: r,
		ctx:    ctx,
		queue:  lanes.New(logger),
		logger: logger.With().Str("component", "controller").Logger(),
	}
}

// StartRun implements gateway.Controller.
func (c *runController) StartRun(prompt, sessionID string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt cannot be empty")
	}
	if c.ctx.Err() != nil {
		return "", errors.New("server is shutting down")
	}

	runID := tracing.NewRunID()
	lane := sessionID
	if lane == "" {
		lane = runID
	}

	ahead, err := c.queue.Submit(c.ctx, lane, func(ctx context.Context) error {
		result, err := c.Run(ctx, runner.Params{
			Prompt:    prompt,
			RunID:     runID,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}
		c.logger.Info().
			Str("run_id", runID).
			Str("phase", string(result.Status.Phase)).
			Bool("aborted", result.Aborted).
			Msg("Run finished")
		return nil
	})
	if err != nil {
		if errors.Is(err, lanes.ErrClosed) {
			return "", errors.New("server is shutting down")
		}
		return "", err
	}
	if ahead > 0 {
		c.logger.Info().Str("run_id", runID).Str("session_id", sessionID).Int("ahead", ahead).Msg("Run queued behind session")
	}
	return runID, nil
}

// Wait stops accepting runs and blocks until every started run has
// returned.
func (c *runController) Wait() {
	c.queue.Close()
	c.queue.Wait()
}
