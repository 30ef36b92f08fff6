package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesProfile(t *testing.T) {
	_, err := New(Profile{Provider: "openai", Model: "gpt-4o"}, nil)
	assert.Error(t, err)

	_, err = New(Profile{Provider: "openai", APIKey: "sk-test"}, nil)
	assert.Error(t, err)

	_, err = New(Profile{Provider: "gemini", APIKey: "k", Model: "m"}, nil)
	assert.ErrorContains(t, err, "unsupported provider")

	m, err := New(Profile{Provider: "Anthropic", APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Name())
}

// capture records the last request body and answers with a canned reply.
func capture(t *testing.T, reply string, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func conversation() []runner.Message {
	return []runner.Message{
		{Role: runner.RoleSystem, Content: "be brief"},
		{Role: runner.RoleUser, Content: "find the price"},
		{Role: runner.RoleAssistant, ToolCalls: []runner.ToolCall{
			{ID: "call_1", Name: "navigate", Args: map[string]any{"url": "https://example.com"}},
			{ID: "call_2", Name: "read"},
		}},
		{Role: runner.RoleTool, ToolCallID: "call_1", Content: "loaded"},
		{Role: runner.RoleTool, ToolCallID: "call_2", Content: "$10"},
	}
}

func TestOpenAIStream(t *testing.T) {
	var body map[string]any
	srv := capture(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"content": "It costs $10",
				"tool_calls": [{"id": "call_3", "type": "function", "function": {"name": "update_plan_step", "arguments": "{\"stepId\":\"step-1\",\"status\":\"done\"}"}}]
			}
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
	}`, &body)

	m, err := New(Profile{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL + "/"}, runner.BuiltinTools())
	require.NoError(t, err)

	var deltas []string
	resp, err := m.Stream(context.Background(), runner.Request{Messages: conversation()}, func(content string, channel protocol.StreamChannel) {
		assert.Equal(t, protocol.ChannelText, channel)
		deltas = append(deltas, content)
	})
	require.NoError(t, err)

	assert.Equal(t, "It costs $10", resp.Content)
	assert.Equal(t, []string{"It costs $10"}, deltas)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, runner.ToolCall{ID: "call_3", Name: runner.UpdatePlanStepTool, Args: map[string]any{"stepId": "step-1", "status": "done"}}, resp.ToolCalls[0])
	assert.Equal(t, &protocol.Usage{InputTokens: 12, OutputTokens: 5, TotalTokens: 17}, resp.Usage)

	assert.Equal(t, "gpt-4o", body["model"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 5)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "tool", messages[4].(map[string]any)["role"])
	assert.Equal(t, "call_2", messages[4].(map[string]any)["tool_call_id"])
	assert.Len(t, body["tools"], 2)
}

func TestAnthropicStream(t *testing.T) {
	var body map[string]any
	srv := capture(t, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"stop_reason": "tool_use",
		"content": [
			{"type": "thinking", "thinking": "check the plan", "signature": "sig"},
			{"type": "text", "text": "Marking it done"},
			{"type": "tool_use", "id": "toolu_1", "name": "update_plan_step", "input": {"stepId": "step-1", "status": "done"}}
		],
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`, &body)

	m, err := New(Profile{Provider: "anthropic", APIKey: "k", Model: "claude-test", BaseURL: srv.URL + "/"}, runner.BuiltinTools())
	require.NoError(t, err)

	channels := map[protocol.StreamChannel]string{}
	resp, err := m.Stream(context.Background(), runner.Request{Messages: conversation()}, func(content string, channel protocol.StreamChannel) {
		channels[channel] += content
	})
	require.NoError(t, err)

	assert.Equal(t, "Marking it done", resp.Content)
	assert.Equal(t, "check the plan", resp.Thinking)
	assert.Equal(t, "check the plan", channels[protocol.ChannelReasoning])
	assert.Equal(t, "Marking it done", channels[protocol.ChannelText])
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "done", resp.ToolCalls[0].Args["status"])
	assert.Equal(t, &protocol.Usage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28}, resp.Usage)

	system := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])

	// user, assistant with two tool uses, one user turn holding both results
	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	results := messages[2].(map[string]any)["content"].([]any)
	assert.Len(t, results, 2)
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
}

func TestStreamWrapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad request", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	m, err := New(Profile{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	_, err = m.Stream(context.Background(), runner.Request{Messages: []runner.Message{{Role: runner.RoleUser, Content: "hi"}}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api call")
}
