// Package provider adapts hosted LLM APIs to runner.Model.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/runner"
)

// DefaultMaxTokens is used when a profile sets no output limit.
const DefaultMaxTokens = 4096

// Profile selects and configures a provider.
type Profile struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

type callFunc func(ctx context.Context, req runner.Request) (runner.Response, error)

// Model is a runner.Model backed by a hosted API. Calls are not streamed;
// the complete answer is delivered as a single delta.
type Model struct {
	name string
	call callFunc
}

// New creates a model for the profile's provider. tools are advertised to
// the model on every call.
func New(profile Profile, tools []runner.ToolDefinition) (*Model, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key is required", profile.Provider)
	}
	if profile.Model == "" {
		return nil, fmt.Errorf("%s: model is required", profile.Provider)
	}
	if profile.MaxTokens <= 0 {
		profile.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(profile.Provider) {
	case "anthropic":
		return &Model{name: "anthropic", call: newAnthropic(profile, tools).call}, nil
	case "openai":
		return &Model{name: "openai", call: newOpenAI(profile, tools).call}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// Name returns the provider name.
func (m *Model) Name() string {
	return m.name
}

// Stream implements runner.Model.
func (m *Model) Stream(ctx context.Context, req runner.Request, onDelta runner.DeltaFunc) (runner.Response, error) {
	resp, err := m.call(ctx, req)
	if err != nil {
		return runner.Response{}, fmt.Errorf("%s api call: %w", m.name, err)
	}
	if onDelta != nil {
		if resp.Thinking != "" {
			onDelta(resp.Thinking, protocol.ChannelReasoning)
		}
		if resp.Content != "" {
			onDelta(resp.Content, protocol.ChannelText)
		}
	}
	return resp, nil
}

func usage(input, output int64) *protocol.Usage {
	return &protocol.Usage{
		InputTokens:  int(input),
		OutputTokens: int(output),
		TotalTokens:  int(input + output),
	}
}
