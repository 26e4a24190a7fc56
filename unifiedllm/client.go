package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Handler executes one completion request.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware decorates a Handler. The first middleware given to a Client is
// the outermost.
type Middleware func(next Handler) Handler

// Client routes requests to provider adapters by Request.Provider and falls
// back to its default provider. It satisfies RequestCompleter, so a
// CompletionClient can sit on top of it.
type Client struct {
	mu              sync.RWMutex
	adapters        map[string]ProviderAdapter
	defaultProvider string
	chain           []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.adapters[name] = adapter }
}

func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.chain = append(c.chain, mw...) }
}

// NewClient creates a Client. A sole registered adapter becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds or replaces an adapter. The first adapter registered
// on a client without a default becomes the default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// ProviderNames returns the registered provider names, sorted.
func (c *Client) ProviderNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.adapters))
}

// DefaultProvider returns the provider used when a request names none.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

func (c *Client) adapterFor(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}
	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends req through the middleware chain to its provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.adapterFor(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	h := Handler(adapter.Complete)
	for _, mw := range slices.Backward(c.chain) {
		h = mw(h)
	}
	return h(ctx, req)
}

// Close closes every adapter that holds resources and joins their errors.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(c.adapters)) {
		if closer, ok := c.adapters[name].(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// NewClientFromEnv registers an OpenAI-compatible adapter for every provider
// in the provider table whose API key getenv returns. defaultProvider is used
// when it was registered.
func NewClientFromEnv(defaultProvider string, getenv func(string) string) *Client {
	c := NewClient()
	for _, info := range Providers() {
		if key := getenv(info.EnvVar); key != "" {
			c.RegisterProvider(info.Name, NewOpenAICompatAdapter(info.Name, info.BaseURL, key))
		}
	}
	c.mu.Lock()
	if _, ok := c.adapters[defaultProvider]; ok {
		c.defaultProvider = defaultProvider
	}
	c.mu.Unlock()
	return c
}

// LoggingMiddleware logs each provider call at debug level and failed calls
// at warn, with the class the retry layer will assign to the error.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"provider", req.Provider,
				"model", req.Model,
				"messages", len(req.Messages),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("provider call failed", append(attrs, "class", Classify(err).String(), "error", err)...)
				return nil, err
			}
			logger.Debug("provider call", append(attrs, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)...)
			return resp, nil
		}
	}
}
