package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAICompatAdapter implements ProviderAdapter for any OpenAI-compatible
// chat completions API (OpenRouter, OpenAI, xAI, Groq, DeepSeek, etc.).
type OpenAICompatAdapter struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
}

// OpenAICompatOption configures an OpenAICompatAdapter.
type OpenAICompatOption func(*OpenAICompatAdapter)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAICompatOption {
	return func(a *OpenAICompatAdapter) {
		a.client = c
	}
}

// NewOpenAICompatAdapter creates an adapter posting to baseURL/chat/completions.
func NewOpenAICompatAdapter(provider, baseURL, apiKey string, opts ...OpenAICompatOption) *OpenAICompatAdapter {
	a := &OpenAICompatAdapter{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider identifier.
func (a *OpenAICompatAdapter) Name() string {
	return a.provider
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatToolFuncDef `json:"function"`
}

type chatToolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *chatError `json:"error,omitempty"`
}

type chatError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

// Complete sends a blocking request and returns the first choice.
func (a *OpenAICompatAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(a.translateRequest(req))
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "marshal request", Cause: err}, Provider: a.provider,
		}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "create request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, a.translateTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "read response", Cause: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, a.statusError(resp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &SDKError{Message: fmt.Sprintf("[%s] parse response", a.provider), Cause: err}
	}
	if chatResp.Error != nil {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: chatResp.Error.Message},
			Provider:  a.provider,
			ErrorCode: fmt.Sprint(chatResp.Error.Code),
			Retryable: true,
		}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &SDKError{Message: fmt.Sprintf("[%s] response contained no choices", a.provider)}
	}

	return a.buildResponse(req, &chatResp), nil
}

func (a *OpenAICompatAdapter) translateRequest(req Request) chatRequest {
	out := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		cm := chatMessage{Role: string(msg.Role), Name: msg.Name, ToolCallID: msg.ToolCallID}
		switch msg.Role {
		case RoleTool:
			content := msg.ToolResultContent()
			cm.Content = &content
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				cm.Content = &text
			}
			for _, tc := range msg.ToolCalls() {
				cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: chatFunction{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Arguments),
					},
				})
			}
			if cm.Content == nil && len(cm.ToolCalls) == 0 {
				empty := ""
				cm.Content = &empty
			}
		default:
			text := msg.TextContent()
			cm.Content = &text
		}
		out.Messages = append(out.Messages, cm)
	}

	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatToolFuncDef{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if len(out.Tools) > 0 && req.ToolChoice != nil {
		out.ToolChoice = req.ToolChoice.Mode
	}
	return out
}

func (a *OpenAICompatAdapter) buildResponse(req Request, cr *chatResponse) *Response {
	choice := cr.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		msg.Content = append(msg.Content, TextPart(*choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		msg.Content = append(msg.Content, ToolCallPart(ToolCall{ID: id, Name: tc.Function.Name, Arguments: decodeArguments(tc.Function.Arguments)}))
	}

	model := cr.Model
	if model == "" {
		model = req.Model
	}
	id := cr.ID
	if id == "" {
		id = "resp_" + uuid.New().String()[:8]
	}

	return &Response{
		ID:           id,
		Model:        model,
		Provider:     a.provider,
		Message:      msg,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
			TotalTokens:  cr.Usage.TotalTokens,
		},
	}
}

func (a *OpenAICompatAdapter) statusError(resp *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	var raw map[string]any
	var envelope struct {
		Error *chatError `json:"error"`
	}
	errorCode := ""
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		message = envelope.Error.Message
		if envelope.Error.Code != nil {
			errorCode = fmt.Sprint(envelope.Error.Code)
		}
		_ = json.Unmarshal(body, &raw)
	}
	if len(message) > 500 {
		message = message[:500] + "..."
	}

	var retryAfter *float64
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			retryAfter = &secs
		}
	}

	if strings.Contains(strings.ToLower(errorCode+" "+message), "content_filter") {
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: message}, Provider: a.provider, StatusCode: resp.StatusCode, ErrorCode: errorCode, Raw: raw,
		}}
	}
	return ErrorFromStatusCode(resp.StatusCode, message, a.provider, errorCode, raw, retryAfter)
}

func (a *OpenAICompatAdapter) translateTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return &RequestTimeoutError{SDKError: SDKError{Message: fmt.Sprintf("[%s] request timed out", a.provider), Cause: err}}
	}
	return &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("[%s] request failed", a.provider), Cause: err}}
}

// encodeArguments turns raw model arguments back into the JSON string form
// the chat completions API expects.
func encodeArguments(args string) json.RawMessage {
	b, _ := json.Marshal(args)
	return b
}

// decodeArguments accepts both the standard JSON-string form and providers
// that send the arguments object inline.
func decodeArguments(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "length", "tool_calls", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "":
		return FinishReason{Reason: "stop"}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}
