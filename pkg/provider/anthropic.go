package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/runcore/pkg/runner"
)

type anthropicProvider struct {
	client  anthropic.Client
	profile Profile
	tools   []anthropic.ToolUnionParam
}

func newAnthropic(profile Profile, tools []runner.ToolDefinition) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(profile.BaseURL))
	}
	return &anthropicProvider{
		client:  anthropic.NewClient(opts...),
		profile: profile,
		tools:   anthropicTools(tools),
	}
}

func (p *anthropicProvider) call(ctx context.Context, req runner.Request) (runner.Response, error) {
	system, messages := anthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.profile.Model),
		Messages:  messages,
		MaxTokens: int64(p.profile.MaxTokens),
		Tools:     p.tools,
	}
	if len(system) > 0 {
		params.System = system
	}
	if p.profile.Temperature > 0 {
		params.Temperature = anthropic.Float(p.profile.Temperature)
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return runner.Response{}, err
	}

	var out runner.Response
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ThinkingBlock:
			out.Thinking += b.Thinking
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return runner.Response{}, fmt.Errorf("failed to parse tool input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, runner.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	out.Usage = usage(response.Usage.InputTokens, response.Usage.OutputTokens)
	return out, nil
}

// anthropicMessages splits out system messages and groups consecutive tool
// results into one user turn.
func anthropicMessages(conversation []runner.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system   []anthropic.TextBlockParam
		messages []anthropic.MessageParam
		results  []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range conversation {
		switch msg.Role {
		case runner.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case runner.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case runner.RoleAssistant:
			flush()
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		default:
			flush()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return system, messages
}

func anthropicTools(defs []runner.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters["properties"],
			},
		}
		switch required := def.Parameters["required"].(type) {
		case []string:
			tool.InputSchema.Required = required
		case []any:
			for _, r := range required {
				if s, ok := r.(string); ok {
					tool.InputSchema.Required = append(tool.InputSchema.Required, s)
				}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}
