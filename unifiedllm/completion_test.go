package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: 0.001, Factor: 1, MaxDelay: 0.001}
}

func TestCompletionClientBuildsRequest(t *testing.T) {
	mock := newMockAdapter("openrouter", "ok")
	client := NewCompletionClient(mock,
		WithCompletionModel("test-model"),
		WithCompletionTemperature(0.7),
		WithCompletionMaxTokens(256),
	)

	history := []Message{SystemMessage("sys"), UserMessage("hi")}
	tools := []ToolDefinition{{Name: "get_current_date"}}
	resp, err := client.Complete(context.Background(), history, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("expected %q, got %q", "ok", resp.Text())
	}

	req := mock.requests[0]
	if req.Model != "test-model" {
		t.Errorf("expected model %q, got %q", "test-model", req.Model)
	}
	if len(req.Messages) != 2 || len(req.Tools) != 1 {
		t.Errorf("expected full history and tools, got %d messages %d tools", len(req.Messages), len(req.Tools))
	}
	if req.ToolChoice == nil || req.ToolChoice.Mode != "auto" {
		t.Errorf("expected tool_choice auto, got %+v", req.ToolChoice)
	}
	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", req.Temperature)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 256 {
		t.Errorf("expected max tokens 256, got %v", req.MaxTokens)
	}

	// The request must not alias the caller's history.
	req.Messages[0] = UserMessage("mutated")
	if history[0].Role != RoleSystem {
		t.Error("request messages alias the caller's slice")
	}
}

func TestCompletionClientRetriesTransient(t *testing.T) {
	adapter := &sequenceAdapter{name: "test", results: []result{
		{err: &ServerError{ProviderError: ProviderError{Retryable: true}}},
		{err: &RateLimitError{ProviderError: ProviderError{Retryable: true}}},
		{resp: newMockAdapter("test", "third time").response},
	}}

	var retried []int
	policy := fastPolicy(4)
	policy.OnRetry = func(err error, attempt int, delay time.Duration) { retried = append(retried, attempt) }

	client := NewCompletionClient(adapter, WithRetryPolicy(policy))
	resp, err := client.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "third time" {
		t.Errorf("expected %q, got %q", "third time", resp.Text())
	}
	if adapter.calls != 3 {
		t.Errorf("expected 3 calls, got %d", adapter.calls)
	}
	if len(retried) != 2 {
		t.Errorf("expected caller's OnRetry to see 2 retries, got %v", retried)
	}
}

func TestCompletionClientExhaustsAttempts(t *testing.T) {
	adapter := &sequenceAdapter{name: "test", results: []result{
		{err: &NetworkError{SDKError: SDKError{Message: "reset"}}},
	}}
	client := NewCompletionClient(adapter, WithRetryPolicy(fastPolicy(3)))

	_, err := client.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	var transient *TransientCallError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientCallError, got %T", err)
	}
	if adapter.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", adapter.calls)
	}
}

func TestCompletionClientFatalNotRetried(t *testing.T) {
	adapter := &sequenceAdapter{name: "test", results: []result{
		{err: &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}},
	}}
	client := NewCompletionClient(adapter, WithRetryPolicy(fastPolicy(4)))

	_, err := client.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	var fatal *FatalCallError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalCallError, got %T", err)
	}
	if adapter.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", adapter.calls)
	}
}

func TestCompletionClientUnknownPropagates(t *testing.T) {
	boom := errors.New("boom")
	adapter := &sequenceAdapter{name: "test", results: []result{{err: boom}}}
	client := NewCompletionClient(adapter, WithRetryPolicy(fastPolicy(4)))

	_, err := client.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != boom {
		t.Errorf("expected the original error, got %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", adapter.calls)
	}
}

func TestCompletionClientAsk(t *testing.T) {
	mock := newMockAdapter("test", "answer")
	client := NewCompletionClient(mock)

	text, err := client.Ask(context.Background(), "system rules", "question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "answer" {
		t.Errorf("expected %q, got %q", "answer", text)
	}
	req := mock.requests[0]
	if len(req.Tools) != 0 || req.ToolChoice != nil {
		t.Errorf("expected a tool-less request, got %d tools and choice %+v", len(req.Tools), req.ToolChoice)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem || req.Messages[1].TextContent() != "question" {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
	if client.Model() != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, client.Model())
	}
}
