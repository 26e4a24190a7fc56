package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves requests through a gollm.LLM. gollm takes a single
// prompt, so the conversation is rendered as a transcript under the system
// prompt and tool calls are recovered from the reply text.
type GollmAdapter struct {
	provider string
	model    string

	// mu serializes calls: request options are set on the shared LLM.
	mu  sync.Mutex
	llm gollm.LLM
}

// GollmAdapterOption configures NewGollmAdapter.
type GollmAdapterOption func(*gollmSettings)

type gollmSettings struct {
	model       string
	maxTokens   int
	temperature float64
	extra       []gollm.ConfigOption
}

func WithModel(model string) GollmAdapterOption {
	return func(s *gollmSettings) { s.model = model }
}

func WithMaxTokens(n int) GollmAdapterOption {
	return func(s *gollmSettings) { s.maxTokens = n }
}

func WithTemperature(t float64) GollmAdapterOption {
	return func(s *gollmSettings) { s.temperature = t }
}

// WithGollmOptions passes extra configuration straight to gollm.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(s *gollmSettings) { s.extra = append(s.extra, opts...) }
}

// NewGollmAdapter builds a gollm client for provider. An empty apiKey lets
// gollm look the key up in its own environment variables. gollm's internal
// retries are disabled; CompletionClient owns retrying.
func NewGollmAdapter(provider, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	s := gollmSettings{maxTokens: 4096, temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&s)
	}
	if s.model == "" {
		s.model = DefaultModel
	}

	config := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(s.model),
		gollm.SetMaxTokens(s.maxTokens),
		gollm.SetTemperature(s.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		config = append(config, gollm.SetAPIKey(apiKey))
	}
	config = append(config, s.extra...)

	llm, err := gollm.NewLLM(config...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("gollm setup for provider %s failed", provider),
			Cause:   err,
		}}
	}
	return &GollmAdapter{provider: provider, model: s.model, llm: llm}, nil
}

// NewGollmAdapterFromLLM wraps an already configured gollm.LLM.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{provider: provider, llm: llm}
}

func (a *GollmAdapter) Name() string { return a.provider }

// Complete holds the adapter lock for the whole call, so concurrent callers
// sharing one GollmAdapter are served one at a time.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := gollmPrompt(req)

	a.mu.Lock()
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}
	return a.response(req, text), nil
}

// transcript splits a conversation into gollm's system prompt and a plain
// text rendering of the remaining turns.
func transcript(messages []Message) (system, body string) {
	var sys, lines []string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			sys = append(sys, msg.TextContent())
		case RoleUser:
			lines = append(lines, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				lines = append(lines, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				lines = append(lines, fmt.Sprintf("[Tool Call %s]: %s(%s)", call.ID, call.Name, call.Arguments))
			}
		case RoleTool:
			label := "[Tool Result]"
			if isErrorResult(msg) {
				label = "[Tool Error]"
			}
			lines = append(lines, fmt.Sprintf("%s %s: %s", label, msg.Name, msg.ToolResultContent()))
		}
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), strings.Join(lines, "\n")
}

func isErrorResult(msg Message) bool {
	for _, part := range msg.Content {
		if part.ToolResult != nil && part.ToolResult.IsError {
			return true
		}
	}
	return false
}

func gollmPrompt(req Request) *gollm.Prompt {
	system, body := transcript(req.Messages)
	if body == "" {
		body = "Hello"
	}

	var opts []gollm.PromptOption
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, len(req.Tools))
		for i, def := range req.Tools {
			tools[i] = gollm.Tool{Type: "function", Function: gollm.Function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			}}
		}
		opts = append(opts, gollm.WithTools(tools))
		if req.ToolChoice != nil {
			opts = append(opts, gollm.WithToolChoice(req.ToolChoice.Mode))
		}
	}
	return gollm.NewPrompt(body, opts...)
}

func (a *GollmAdapter) response(req Request, text string) *Response {
	calls := parseTextToolCalls(text)
	reason := "stop"
	if len(calls) > 0 {
		reason = "tool_calls"
	}
	model := req.Model
	if model == "" {
		model = a.model
	}

	// gollm reports no usage, so tokens are estimated at four bytes each.
	in, out := estimateTokens(req), len(text)/4
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(stripTextToolCalls(text, calls), calls...),
		FinishReason: FinishReason{Reason: reason, Raw: reason},
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

const (
	envelopeMarker = `{"tool_calls"`
	arrayMarker    = `[{"name"`
)

// parseTextToolCalls recovers tool calls that a model wrote into its reply,
// either as {"tool_calls": [...]} or as a bare [{"name": ...}] array. Calls
// may carry name and arguments directly or under "function".
func parseTextToolCalls(text string) []ToolCall {
	type wireCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Function  *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}

	var found []wireCall
	if i := strings.Index(text, envelopeMarker); i >= 0 {
		var env struct {
			ToolCalls []wireCall `json:"tool_calls"`
		}
		if json.NewDecoder(strings.NewReader(text[i:])).Decode(&env) == nil {
			found = env.ToolCalls
		}
	} else if i := strings.Index(text, arrayMarker); i >= 0 {
		_ = json.NewDecoder(strings.NewReader(text[i:])).Decode(&found)
	}

	var calls []ToolCall
	for _, w := range found {
		if w.Function != nil {
			w.Name, w.Arguments = w.Function.Name, w.Function.Arguments
		}
		if w.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      w.Name,
			Arguments: decodeArguments(w.Arguments),
		})
	}
	return calls
}

// stripTextToolCalls returns the prose that preceded any embedded tool calls.
func stripTextToolCalls(text string, calls []ToolCall) string {
	if len(calls) > 0 {
		for _, marker := range []string{envelopeMarker, arrayMarker} {
			if i := strings.Index(text, marker); i >= 0 {
				text = text[:i]
			}
		}
	}
	return strings.TrimSpace(text)
}

// gollmFailures maps substrings of gollm error messages to the error types
// they indicate, checked in order. gollm surfaces no status codes.
var gollmFailures = []struct {
	needles []string
	wrap    func(pe ProviderError) error
}{
	{[]string{"401", "unauthorized", "invalid key", "invalid api key"}, func(pe ProviderError) error {
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	}},
	{[]string{"403", "forbidden"}, func(pe ProviderError) error {
		pe.StatusCode = 403
		return &AccessDeniedError{ProviderError: pe}
	}},
	{[]string{"404", "not found"}, func(pe ProviderError) error {
		pe.StatusCode = 404
		return &NotFoundError{ProviderError: pe}
	}},
	{[]string{"429", "rate limit"}, func(pe ProviderError) error {
		pe.StatusCode, pe.Retryable = 429, true
		return &RateLimitError{ProviderError: pe}
	}},
	{[]string{"quota", "insufficient credits"}, func(pe ProviderError) error {
		pe.StatusCode = 402
		return &QuotaExceededError{ProviderError: pe}
	}},
	{[]string{"context length", "too many tokens"}, func(pe ProviderError) error {
		pe.StatusCode = 413
		return &ContextLengthError{ProviderError: pe}
	}},
	{[]string{"500", "502", "503", "internal server"}, func(pe ProviderError) error {
		pe.StatusCode, pe.Retryable = 500, true
		return &ServerError{ProviderError: pe}
	}},
	{[]string{"timeout", "deadline exceeded"}, func(pe ProviderError) error {
		return &RequestTimeoutError{SDKError: pe.SDKError}
	}},
	{[]string{"connection refused", "connection reset", "no such host"}, func(pe ProviderError) error {
		return &NetworkError{SDKError: pe.SDKError}
	}},
	{[]string{"content filter", "safety"}, func(pe ProviderError) error {
		return &ContentFilterError{ProviderError: pe}
	}},
}

func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, f := range gollmFailures {
		for _, needle := range f.needles {
			if strings.Contains(lower, needle) {
				return f.wrap(ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider})
			}
		}
	}
	return &SDKError{Message: fmt.Sprintf("[%s] generation failed", a.provider), Cause: err}
}

// estimateTokens approximates the prompt size of req at four bytes a token,
// with a floor of 10.
func estimateTokens(req Request) int {
	n := 0
	for _, msg := range req.Messages {
		n += len(msg.TextContent()) / 4
	}
	return max(n, 10)
}
