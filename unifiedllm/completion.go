package unifiedllm

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "moonshotai/kimi-k2"
	// DefaultTemperature is the sampling temperature used for agent turns.
	DefaultTemperature = 0.3
)

// RequestCompleter executes a single completion request. *Client and every
// ProviderAdapter satisfy it.
type RequestCompleter interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderAdapter is a RequestCompleter bound to one provider.
type ProviderAdapter interface {
	RequestCompleter
	Name() string
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// CompletionClient turns a conversation plus tool declarations into one
// completion request, retrying transient failures with backoff.
type CompletionClient struct {
	backend     RequestCompleter
	provider    string
	model       string
	temperature float64
	maxTokens   *int
	retry       RetryPolicy
	logger      *slog.Logger
}

// CompletionOption configures a CompletionClient.
type CompletionOption func(*CompletionClient)

// WithCompletionModel sets the model identifier sent with every request.
func WithCompletionModel(model string) CompletionOption {
	return func(c *CompletionClient) { c.model = model }
}

// WithCompletionProvider routes requests to a named provider on a *Client.
func WithCompletionProvider(name string) CompletionOption {
	return func(c *CompletionClient) { c.provider = name }
}

// WithCompletionTemperature sets the sampling temperature.
func WithCompletionTemperature(t float64) CompletionOption {
	return func(c *CompletionClient) { c.temperature = t }
}

// WithCompletionMaxTokens caps the response length.
func WithCompletionMaxTokens(n int) CompletionOption {
	return func(c *CompletionClient) {
		if n > 0 {
			c.maxTokens = &n
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) CompletionOption {
	return func(c *CompletionClient) { c.retry = p }
}

// WithCompletionLogger sets the logger used for retry warnings.
func WithCompletionLogger(l *slog.Logger) CompletionOption {
	return func(c *CompletionClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompletionClient creates a CompletionClient over backend.
func NewCompletionClient(backend RequestCompleter, opts ...CompletionOption) *CompletionClient {
	c := &CompletionClient{
		backend:     backend,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		retry:       DefaultRetryPolicy(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *CompletionClient) Model() string { return c.model }

// Complete requests the next assistant message for messages. When tools are
// offered the request carries tool_choice "auto".
//
// Errors are *TransientCallError when retries ran out, *FatalCallError for
// non-retryable failures, *AbortError when ctx was cancelled, and the raw
// error for anything unclassified.
func (c *CompletionClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	temp := c.temperature
	req := Request{
		Model:       c.model,
		Provider:    c.provider,
		Messages:    append([]Message(nil), messages...),
		Tools:       tools,
		Temperature: &temp,
		MaxTokens:   c.maxTokens,
	}
	if len(tools) > 0 {
		req.ToolChoice = &ToolChoice{Mode: "auto"}
	}
	policy := c.retry
	userHook := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn("completion failed, retrying",
			"model", c.model,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if userHook != nil {
			userHook(err, attempt, delay)
		}
	}

	start := time.Now()
	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return c.backend.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("completion finished",
		"model", resp.Model,
		"finish_reason", resp.FinishReason.Reason,
		"tool_calls", len(resp.ToolCalls()),
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}

// Ask runs a single tool-less completion of prompt under the system
// instruction and returns the response text.
func (c *CompletionClient) Ask(ctx context.Context, system, prompt string) (string, error) {
	var messages []Message
	if system != "" {
		messages = append(messages, SystemMessage(system))
	}
	messages = append(messages, UserMessage(prompt))
	resp, err := c.Complete(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
