package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

var testInput = ports.DecisionInput{
	System: "You manage tasks.",
	Messages: []ports.PromptMessage{
		{Role: ports.RoleAssistant, Content: "stale greeting"},
		{Role: ports.RoleUser, Content: "hi"},
		{Role: ports.RoleUser, Content: "add milk"},
		{Role: ports.RoleAssistant, Content: "Added milk."},
		{Role: ports.RoleUser, Content: "what's on my list?"},
	},
	Tools: []ports.ToolSpec{{
		Name:        "list_tasks",
		Description: "List tasks",
		JSONSchema:  []byte(`{"type": "object", "properties": {"filter": {"type": "string"}}, "required": ["filter"]}`),
	}},
	Steps: []ports.Step{{
		Calls:   []ports.ToolCall{{ID: "call_1", Name: "list_tasks", Args: json.RawMessage(`{"filter": "all"}`)}},
		Results: []ports.ToolResult{{CallID: "call_1", Name: "list_tasks", Content: `{"tasks": []}`}},
	}},
}

// recordedRequest is the part of a provider request the tests inspect.
type recordedRequest struct {
	System   json.RawMessage `json:"system"`
	Messages []struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCallID string          `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []json.RawMessage `json:"tools"`
}

func providerServer(t *testing.T, status int, body string, got *recordedRequest, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		if got != nil {
			assert.NoError(t, json.Unmarshal(raw, got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const anthropicToolUse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "text", "text": "Let me check."},
    {"type": "tool_use", "id": "toolu_01", "name": "list_tasks", "input": {"filter": "pending"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 30}
}`

func TestAnthropicDecider_Decide(t *testing.T) {
	var got recordedRequest
	var hits atomic.Int32
	srv := providerServer(t, http.StatusOK, anthropicToolUse, &got, &hits)

	d, err := NewAnthropicDecider(context.Background(), DeciderConfig{APIKey: "test", BaseURL: srv.URL, Temperature: 0.2})
	require.NoError(t, err)

	decision, err := d.Decide(context.Background(), testInput)
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", decision.Text)
	require.Len(t, decision.ToolCalls, 1)
	assert.Equal(t, "toolu_01", decision.ToolCalls[0].ID)
	assert.Equal(t, "list_tasks", decision.ToolCalls[0].Name)
	assert.JSONEq(t, `{"filter": "pending"}`, string(decision.ToolCalls[0].Args))
	require.NotNil(t, decision.Usage)
	assert.Equal(t, 150, decision.Usage.TotalTokens)

	assert.Contains(t, string(got.System), "You manage tasks.")
	roles := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		roles = append(roles, m.Role)
	}
	// Leading assistant dropped, consecutive users merged, then one tool round.
	assert.Equal(t, []string{"user", "assistant", "user", "assistant", "user"}, roles)
	assert.Len(t, got.Tools, 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAnthropicDecider_ErrorClasses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ports.ErrDecisionMisconfigured},
		{http.StatusNotFound, ports.ErrDecisionMisconfigured},
		{http.StatusTooManyRequests, ports.ErrDecisionUnavailable},
		{http.StatusInternalServerError, ports.ErrDecisionUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := providerServer(t, tt.status, `{"type": "error", "error": {"type": "api_error", "message": "nope"}}`, nil, &hits)

			d, err := NewAnthropicDecider(context.Background(), DeciderConfig{APIKey: "test", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = d.Decide(context.Background(), ports.DecisionInput{Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hi"}}})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), hits.Load(), "sdk retries are disabled")
		})
	}
}

func TestAnthropicDecider_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicDecider(context.Background(), DeciderConfig{})
	assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, "us.anthropic.claude-x", string(bedrockModel("us.anthropic.claude-x")))
	assert.NotEqual(t, "claude-sonnet-4-5-20250929", string(bedrockModel("claude-sonnet-4-5-20250929")))
}

const openAIToolCall = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "list_tasks", "arguments": "{\"filter\":\"all\"}"}}]
    }
  }],
  "usage": {"prompt_tokens": 80, "completion_tokens": 12, "total_tokens": 92}
}`

func TestOpenAIDecider_Decide(t *testing.T) {
	var got recordedRequest
	var hits atomic.Int32
	srv := providerServer(t, http.StatusOK, openAIToolCall, &got, &hits)

	d, err := NewOpenAIDecider(DeciderConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	decision, err := d.Decide(context.Background(), testInput)
	require.NoError(t, err)

	assert.Empty(t, decision.Text)
	require.Len(t, decision.ToolCalls, 1)
	assert.Equal(t, "call_9", decision.ToolCalls[0].ID)
	assert.JSONEq(t, `{"filter": "all"}`, string(decision.ToolCalls[0].Args))
	assert.Equal(t, 92, decision.Usage.TotalTokens)

	roles := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "assistant", "user", "user", "assistant", "user", "assistant", "tool"}, roles)

	round := got.Messages[6]
	require.Len(t, round.ToolCalls, 1)
	assert.Equal(t, "call_1", round.ToolCalls[0].ID)
	assert.Equal(t, "list_tasks", round.ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", got.Messages[7].ToolCallID)
	assert.Len(t, got.Tools, 1)
}

func TestOpenAIDecider_Errors(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		var hits atomic.Int32
		srv := providerServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "choices": []}`, nil, &hits)
		d, err := NewOpenAIDecider(DeciderConfig{APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		_, err = d.Decide(context.Background(), ports.DecisionInput{Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hi"}}})
		assert.ErrorIs(t, err, ports.ErrDecisionMalformed)
	})

	t.Run("bad key", func(t *testing.T) {
		var hits atomic.Int32
		srv := providerServer(t, http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`, nil, &hits)
		d, err := NewOpenAIDecider(DeciderConfig{APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		_, err = d.Decide(context.Background(), ports.DecisionInput{Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hi"}}})
		assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := NewOpenAIDecider(DeciderConfig{})
		assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured)
	})

	t.Run("bad schema", func(t *testing.T) {
		d, err := NewOpenAIDecider(DeciderConfig{APIKey: "test"})
		require.NoError(t, err)
		_, err = d.Decide(context.Background(), ports.DecisionInput{Tools: []ports.ToolSpec{{Name: "x", JSONSchema: []byte(`{`)}}})
		assert.ErrorIs(t, err, ports.ErrDecisionMisconfigured)
	})
}

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("cause")
	for _, status := range []int{400, 401, 403, 404, 422} {
		assert.ErrorIs(t, classifyStatus("p", status, cause), ports.ErrDecisionMisconfigured, status)
	}
	for _, status := range []int{408, 409, 429, 500, 502, 503, 529} {
		assert.ErrorIs(t, classifyStatus("p", status, cause), ports.ErrDecisionUnavailable, status)
	}

	err := classifyTransport("p", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ports.ErrDecisionUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSchemaParts(t *testing.T) {
	props, required, err := schemaParts([]byte(`{"type": "object", "properties": {"title": {"type": "string"}}, "required": ["title"]}`))
	require.NoError(t, err)
	assert.Contains(t, props, "title")
	assert.Equal(t, []string{"title"}, required)

	props, required, err = schemaParts([]byte(`{"type": "object"}`))
	require.NoError(t, err)
	assert.NotNil(t, props)
	assert.Empty(t, required)

	_, _, err = schemaParts([]byte(`nope`))
	assert.Error(t, err)
}

func TestArgsOrEmpty(t *testing.T) {
	assert.JSONEq(t, `{}`, string(argsOrEmpty(nil)))
	assert.JSONEq(t, `{"a": 1}`, string(argsOrEmpty(json.RawMessage(`{"a": 1}`))))
}
