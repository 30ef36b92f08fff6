package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main runcore configuration
type Config struct {
	// Retry limits and backoff
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Run driver
	Runner RunnerConfig `json:"runner" mapstructure:"runner"`

	// Model provider
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// History store
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// RetryConfig holds per-category retry limits and the backoff policy
type RetryConfig struct {
	API      int `json:"api" mapstructure:"api"`
	Tool     int `json:"tool" mapstructure:"tool"`
	Finalize int `json:"finalize" mapstructure:"finalize"`

	BaseMs int     `json:"base_ms" mapstructure:"base_ms"`
	MaxMs  int     `json:"max_ms" mapstructure:"max_ms"`
	Jitter float64 `json:"jitter" mapstructure:"jitter"`
}

// RunnerConfig holds run driver settings
type RunnerConfig struct {
	MaxTurns     int    `json:"max_turns" mapstructure:"max_turns"`
	MaxPlanSteps int    `json:"max_plan_steps" mapstructure:"max_plan_steps"`
	ContextLimit int    `json:"context_limit" mapstructure:"context_limit"`
	KeepRecent   int    `json:"keep_recent" mapstructure:"keep_recent"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
}

// ModelConfig selects the hosted model used by serve
type ModelConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Addr         string `json:"addr" mapstructure:"addr"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	Buffer       int    `json:"buffer" mapstructure:"buffer"`
}

// HistoryConfig holds history store settings
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`
	MaxAgeHours   int    `json:"max_age_hours" mapstructure:"max_age_hours"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Retry: RetryConfig{
			API:      3,
			Tool:     2,
			Finalize: 2,
			BaseMs:   500,
			MaxMs:    8000,
			Jitter:   0.2,
		},
		Runner: RunnerConfig{
			MaxTurns:     10,
			MaxPlanSteps: 8,
			ContextLimit: 32000,
			KeepRecent:   20,
		},
		Model: ModelConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7420",
			Buffer:  256,
		},
		History: HistoryConfig{
			Enabled:       true,
			MaxAgeHours:   24 * 7,
			PruneSchedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate coerces out-of-range numeric settings to their defaults and
// reports settings that cannot be coerced.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	// Negative retry limits mean "no retries"
	c.Retry.API = max(c.Retry.API, 0)
	c.Retry.Tool = max(c.Retry.Tool, 0)
	c.Retry.Finalize = max(c.Retry.Finalize, 0)

	if c.Retry.BaseMs <= 0 {
		c.Retry.BaseMs = defaults.Retry.BaseMs
	}
	if c.Retry.MaxMs < c.Retry.BaseMs {
		c.Retry.MaxMs = max(defaults.Retry.MaxMs, c.Retry.BaseMs)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		c.Retry.Jitter = defaults.Retry.Jitter
	}

	if c.Runner.MaxTurns <= 0 {
		c.Runner.MaxTurns = defaults.Runner.MaxTurns
	}
	if c.Runner.MaxPlanSteps <= 0 {
		c.Runner.MaxPlanSteps = defaults.Runner.MaxPlanSteps
	}
	if c.Runner.ContextLimit <= 0 {
		c.Runner.ContextLimit = defaults.Runner.ContextLimit
	}
	if c.Runner.KeepRecent <= 0 {
		c.Runner.KeepRecent = defaults.Runner.KeepRecent
	}
	if c.History.MaxAgeHours <= 0 {
		c.History.MaxAgeHours = defaults.History.MaxAgeHours
	}
	if c.History.PruneSchedule == "" {
		c.History.PruneSchedule = defaults.History.PruneSchedule
	}

	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	switch c.Model.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("invalid model provider %s (must be: anthropic, openai)", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature must be between 0 and 2, got %v", c.Model.Temperature)
	}

	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("gateway addr is required when the gateway is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
