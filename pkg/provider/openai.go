package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/runcore/pkg/runner"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client  openai.Client
	profile Profile
	tools   []openai.ChatCompletionToolParam
}

func newOpenAI(profile Profile, tools []runner.ToolDefinition) *openAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(profile.BaseURL))
	}
	return &openAIProvider{
		client:  openai.NewClient(opts...),
		profile: profile,
		tools:   openAITools(tools),
	}
}

func (p *openAIProvider) call(ctx context.Context, req runner.Request) (runner.Response, error) {
	messages, err := openAIMessages(req.Messages)
	if err != nil {
		return runner.Response{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.profile.Model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(p.profile.MaxTokens)),
	}
	if p.profile.Temperature > 0 {
		params.Temperature = openai.Float(p.profile.Temperature)
	}
	if len(p.tools) > 0 {
		params.Tools = p.tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return runner.Response{}, err
	}
	if len(response.Choices) == 0 {
		return runner.Response{}, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	out := runner.Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return runner.Response{}, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, runner.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	out.Usage = usage(response.Usage.PromptTokens, response.Usage.CompletionTokens)
	return out, nil
}

func openAIMessages(conversation []runner.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))
	for _, msg := range conversation {
		switch msg.Role {
		case runner.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case runner.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case runner.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages, nil
}

func openAITools(defs []runner.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.Parameters),
			},
		})
	}
	return tools
}
