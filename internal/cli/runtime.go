package cli

import (
	"fmt"

	"github.com/harun/runcore/internal/config"
	"github.com/harun/runcore/pkg/backoff"
	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/provider"
	"github.com/harun/runcore/pkg/retry"
	"github.com/harun/runcore/pkg/runner"
	"github.com/rs/zerolog"
)

// newModel creates the hosted model named in the config.
func newModel(cfg *config.Config) (runner.Model, error) {
	if cfg.Model.Provider == "" {
		return nil, fmt.Errorf("no model provider configured (set model.provider in %s or RUNCORE_MODEL_PROVIDER)", configPathHint())
	}
	return provider.New(provider.Profile{
		Provider:    cfg.Model.Provider,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Model,
		BaseURL:     cfg.Model.BaseURL,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, runner.BuiltinTools())
}

// newRunner builds a runner from the retry and runner settings.
func newRunner(cfg *config.Config, model runner.Model, b bus.Publisher, logger zerolog.Logger) (*runner.Runner, error) {
	return runner.New(runner.Config{
		Model:  model,
		Bus:    b,
		Logger: logger,
		Limits: retry.Limits{
			API:      cfg.Retry.API,
			Tool:     cfg.Retry.Tool,
			Finalize: cfg.Retry.Finalize,
		},
		Backoff: backoff.Policy{
			BaseMs: cfg.Retry.BaseMs,
			MaxMs:  cfg.Retry.MaxMs,
			Jitter: cfg.Retry.Jitter,
		},
		MaxTurns:     cfg.Runner.MaxTurns,
		MaxPlanSteps: cfg.Runner.MaxPlanSteps,
		ContextLimit: cfg.Runner.ContextLimit,
		KeepRecent:   cfg.Runner.KeepRecent,
		SystemPrompt: cfg.Runner.SystemPrompt,
	})
}

func configPathHint() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "$HOME/.runcore/runcore.json"
}
