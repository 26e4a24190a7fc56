package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newChatServer(t *testing.T, status int, body string, inspect func(map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if inspect != nil {
			raw, _ := io.ReadAll(r.Body)
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
			inspect(payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompatAdapterToolCalls(t *testing.T) {
	body := `{
		"id": "gen-1",
		"model": "moonshotai/kimi-k2",
		"choices": [{
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [
					{"id": "call_a", "type": "function", "function": {"name": "file_read_tool", "arguments": "{\"path\":\"go.mod\"}"}},
					{"id": "call_b", "type": "function", "function": {"name": "get_current_date", "arguments": {}}}
				]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
	}`

	var sent map[string]any
	srv := newChatServer(t, http.StatusOK, body, func(p map[string]any) { sent = p })
	adapter := NewOpenAICompatAdapter("openrouter", srv.URL+"/", "test-key")

	temp := 0.3
	resp, err := adapter.Complete(context.Background(), Request{
		Model: "moonshotai/kimi-k2",
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("read go.mod"),
			AssistantMessage("", ToolCall{ID: "call_0", Name: "file_list_tool", Arguments: `{"path":"."}`}),
			ToolResultMessage("call_0", "file_list_tool", `{"success":true}`, false),
		},
		Tools:       []ToolDefinition{{Name: "file_read_tool", Description: "Read a file"}},
		ToolChoice:  &ToolChoice{Mode: "auto"},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := resp.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || calls[0].Arguments != `{"path":"go.mod"}` {
		t.Errorf("unexpected first call %+v", calls[0])
	}
	if calls[1].Arguments != "{}" {
		t.Errorf("expected inline object arguments to be kept, got %q", calls[1].Arguments)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Errorf("expected 20 total tokens, got %d", resp.Usage.TotalTokens)
	}

	if sent["tool_choice"] != "auto" {
		t.Errorf("expected tool_choice auto, got %v", sent["tool_choice"])
	}
	msgs, _ := sent["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages sent, got %d", len(msgs))
	}
	toolMsg, _ := msgs[3].(map[string]any)
	if toolMsg["tool_call_id"] != "call_0" || toolMsg["name"] != "file_list_tool" {
		t.Errorf("tool message lost its identifiers: %v", toolMsg)
	}
	assistantMsg, _ := msgs[2].(map[string]any)
	toolCalls, _ := assistantMsg["tool_calls"].([]any)
	if len(toolCalls) != 1 {
		t.Fatalf("expected assistant tool call to be sent, got %v", assistantMsg)
	}
	fn, _ := toolCalls[0].(map[string]any)["function"].(map[string]any)
	if fn["arguments"] != `{"path":"."}` {
		t.Errorf("expected arguments as a JSON string, got %v", fn["arguments"])
	}
}

func TestOpenAICompatAdapterText(t *testing.T) {
	body := `{"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}, {"message": {"role": "assistant", "content": "ignored"}}]}`
	srv := newChatServer(t, http.StatusOK, body, nil)
	adapter := NewOpenAICompatAdapter("openrouter", srv.URL, "test-key")

	resp, err := adapter.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "hello" {
		t.Errorf("expected first choice text, got %q", resp.Text())
	}
	if resp.ID == "" {
		t.Error("expected a synthesized response id")
	}
}

func TestOpenAICompatAdapterStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		body   string
		class  ErrorClass
	}{
		{401, `{"error": {"message": "bad key"}}`, ClassFatal},
		{400, `{"error": {"message": "flagged", "code": "content_filter"}}`, ClassFatal},
		{429, `{"error": {"message": "slow down"}}`, ClassRetryable},
		{503, `upstream unavailable`, ClassRetryable},
	}

	for _, tt := range tests {
		srv := newChatServer(t, tt.status, tt.body, nil)
		adapter := NewOpenAICompatAdapter("openrouter", srv.URL, "test-key")
		_, err := adapter.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if got := Classify(err); got != tt.class {
			t.Errorf("status %d: expected %v, got %v (%v)", tt.status, tt.class, got, err)
		}
	}
}

func TestOpenAICompatAdapterContentFilter(t *testing.T) {
	srv := newChatServer(t, 400, `{"error": {"message": "flagged", "code": "content_filter"}}`, nil)
	adapter := NewOpenAICompatAdapter("openrouter", srv.URL, "test-key")
	_, err := adapter.Complete(context.Background(), Request{Model: "m"})
	var cf *ContentFilterError
	if !errors.As(err, &cf) {
		t.Errorf("expected ContentFilterError, got %T", err)
	}
}

func TestOpenAICompatAdapterMalformedBody(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `not json`, nil)
	adapter := NewOpenAICompatAdapter("openrouter", srv.URL, "test-key")
	_, err := adapter.Complete(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := Classify(err); got != ClassUnknown {
		t.Errorf("expected malformed body to be unclassified, got %v", got)
	}
}

func TestOpenAICompatAdapterNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	adapter := NewOpenAICompatAdapter("openrouter", url, "test-key")
	_, err := adapter.Complete(context.Background(), Request{Model: "m"})
	if got := Classify(err); got != ClassRetryable {
		t.Errorf("expected connection failure to be retryable, got %v (%v)", got, err)
	}
}
