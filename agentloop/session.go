package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/sourceagent/unifiedllm"
)

// DefaultMaxSteps is the step budget used when Run is given none.
const DefaultMaxSteps = 12

// Completer produces the next assistant message for a conversation.
// *unifiedllm.CompletionClient implements it.
type Completer interface {
	Complete(ctx context.Context, messages []unifiedllm.Message, tools []unifiedllm.ToolDefinition) (*unifiedllm.Response, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	SystemPrompt        string   `json:"system_prompt,omitempty"`
	MaxSteps            int      `json:"max_steps"`
	ValidateArguments   bool     `json:"validate_arguments"`
	EnableLoopDetection bool     `json:"enable_loop_detection"`
	LoopDetectionWindow int      `json:"loop_detection_window"`
	HiddenTools         []string `json:"hidden_tools,omitempty"` // removed from the private registry copy
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSteps:            DefaultMaxSteps,
		EnableLoopDetection: true,
		LoopDetectionWindow: DefaultLoopDetectionWindow,
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConfig replaces the session configuration.
func WithConfig(cfg SessionConfig) SessionOption {
	return func(s *Session) { s.config = cfg }
}

// WithSystemPrompt seeds the conversation with a system message.
func WithSystemPrompt(prompt string) SessionOption {
	return func(s *Session) { s.config.SystemPrompt = prompt }
}

// WithMaxSteps sets the step budget used when Run is given none.
func WithMaxSteps(n int) SessionOption {
	return func(s *Session) { s.config.MaxSteps = n }
}

// WithArgumentValidation validates tool arguments against the declared
// parameter schema before invoking the tool.
func WithArgumentValidation(enabled bool) SessionOption {
	return func(s *Session) { s.config.ValidateArguments = enabled }
}

// WithLoopDetection sets the loop detection window; 0 disables it.
func WithLoopDetection(window int) SessionOption {
	return func(s *Session) {
		s.config.EnableLoopDetection = window > 0
		s.config.LoopDetectionWindow = window
	}
}

// WithHiddenTools hides the named tools from this session only.
func WithHiddenTools(names ...string) SessionOption {
	return func(s *Session) { s.config.HiddenTools = append(s.config.HiddenTools, names...) }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the agent loop: it owns one conversation and a private copy of
// the tool registry, and drives completion calls and tool dispatch.
type Session struct {
	id           string
	client       Completer
	registry     *ToolRegistry
	tools        map[string]ToolFunc
	declarations []unifiedllm.ToolDefinition
	conversation *Conversation
	config       SessionConfig
	logger       *slog.Logger
	mu           sync.Mutex
}

// NewSession creates a session. The registry is copied, so later changes to
// it do not affect the session and the session never mutates it.
func NewSession(client Completer, registry *ToolRegistry, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.New().String(),
		client: client,
		config: DefaultSessionConfig(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if registry == nil {
		registry = NewToolRegistry()
	}
	s.registry = registry.Without(s.config.HiddenTools...)
	s.tools = s.registry.Mapping()
	s.declarations = s.registry.Declarations()
	s.conversation = NewConversation(s.config.SystemPrompt)
	s.logger = s.logger.With("session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Tools returns the declarations advertised to the model.
func (s *Session) Tools() []unifiedllm.ToolDefinition {
	return append([]unifiedllm.ToolDefinition(nil), s.declarations...)
}

// History returns a copy of the conversation.
func (s *Session) History() []unifiedllm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.Messages()
}

// ResetConversation truncates the conversation back to the system message.
// It must not be called while Run is in progress.
func (s *Session) ResetConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation.Reset()
}

// AppendMessage adds a message to the conversation, e.g. to resume with a
// pre-built user turn before calling Run with an empty prompt.
func (s *Session) AppendMessage(msg unifiedllm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation.Append(msg)
}

func (s *Session) append(msg unifiedllm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation.Append(msg)
}

// Run drives the loop and returns its events as a lazy sequence. Nothing
// happens until the sequence is iterated; each step runs only when the
// consumer asks for more events, and stopping the iteration stops the loop.
//
// A non-empty prompt is appended as a user message first. maxSteps <= 0
// uses the configured budget. The sequence always ends with exactly one of
// task_complete, max_steps_reached or error, unless the consumer stops early.
// Run must not be called concurrently on the same session.
func (s *Session) Run(ctx context.Context, prompt string, maxSteps int) iter.Seq[Event] {
	if maxSteps <= 0 {
		maxSteps = s.config.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	return func(yield func(Event) bool) {
		if prompt != "" {
			s.append(unifiedllm.UserMessage(prompt))
		}

		lastText := ""
		for step := 1; step <= maxSteps; step++ {
			if !yield(s.event(EventIterationStart, map[string]any{"step": step, "max_steps": maxSteps})) {
				return
			}

			if err := ctx.Err(); err != nil {
				yield(s.errorEvent(ctx, err))
				return
			}

			s.logger.Debug("calling model", "step", step, "max_steps", maxSteps, "messages", s.conversation.Len())
			resp, err := s.client.Complete(ctx, s.History(), s.declarations)
			if err != nil {
				s.logger.Error("completion failed", "step", step, "error", err)
				yield(s.errorEvent(ctx, err))
				return
			}

			msg := resp.Message
			msg.Role = unifiedllm.RoleAssistant
			s.append(msg)

			stepText := ""
			if raw := msg.TextContent(); strings.TrimSpace(raw) != "" {
				stepText = ParseResponseMessage(raw)
				lastText = stepText
				if !yield(s.event(EventAgentMessage, map[string]any{"text": stepText})) {
					return
				}
			}

			for _, call := range msg.ToolCalls() {
				if !yield(s.event(EventToolCall, map[string]any{
					"name":      call.Name,
					"arguments": call.Arguments,
					"call_id":   call.ID,
				})) {
					return
				}

				if call.Name == CompletionToolName {
					yield(s.event(EventTaskComplete, map[string]any{"message": completionMessage(stepText, lastText)}))
					return
				}

				toolMsg, result := s.HandleToolCall(ctx, call)
				s.append(toolMsg)
				if !yield(s.event(EventToolResult, map[string]any{
					"name":    call.Name,
					"result":  result,
					"call_id": call.ID,
				})) {
					return
				}
			}

			s.checkLoop()
		}

		yield(s.event(EventMaxStepsReached, map[string]any{
			"message": fmt.Sprintf("Reached maximum steps (%d) without completing the task.", maxSteps),
		}))
	}
}

func completionMessage(stepText, lastText string) string {
	switch {
	case stepText != "":
		return stepText
	case lastText != "":
		return lastText
	default:
		return "Task marked as complete."
	}
}

func (s *Session) errorEvent(ctx context.Context, err error) Event {
	return s.event(EventError, map[string]any{
		"message": err.Error(),
		"kind":    string(classifyRunError(ctx, err)),
	})
}

// ToolOutcome is the normalized result of one tool call.
type ToolOutcome struct {
	Success bool
	Payload any
	Error   string
}

// Content serializes the outcome for the tool message. Failures become
// {"error": ...}; payloads that cannot be encoded as JSON are sent as their
// %v text.
func (o ToolOutcome) Content() string {
	if !o.Success {
		b, _ := json.Marshal(map[string]string{"error": o.Error})
		return string(b)
	}
	b, err := json.Marshal(o.Payload)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("%v", o.Payload))
	}
	return string(b)
}

// HandleToolCall executes one tool call and returns the tool message
// answering it together with the decoded result. Failures never escape:
// malformed arguments, unknown tools, tool errors and panics are all
// reported to the model as {"error": ...}.
func (s *Session) HandleToolCall(ctx context.Context, call unifiedllm.ToolCall) (unifiedllm.Message, any) {
	outcome := s.invoke(ctx, call)
	if !outcome.Success {
		s.logger.Debug("tool call failed", "tool", call.Name, "call_id", call.ID, "error", outcome.Error)
	}

	content := outcome.Content()
	var result any
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		result = content
	}
	return unifiedllm.ToolResultMessage(call.ID, call.Name, content, !outcome.Success), result
}

func (s *Session) invoke(ctx context.Context, call unifiedllm.ToolCall) (outcome ToolOutcome) {
	args, err := ParseToolArguments(call.Arguments)
	if err != nil {
		return ToolOutcome{Error: fmt.Sprintf("Invalid JSON arguments: %v", err)}
	}

	fn, ok := s.tools[call.Name]
	if !ok || fn == nil {
		return ToolOutcome{Error: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	if s.config.ValidateArguments {
		if err := s.registry.ValidateArguments(call.Name, args); err != nil {
			return ToolOutcome{Error: fmt.Sprintf("Tool execution failed: %v", err)}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = ToolOutcome{Error: fmt.Sprintf("Tool execution failed: %v", r)}
		}
	}()

	value, err := fn(ctx, args)
	if err != nil {
		return ToolOutcome{Error: fmt.Sprintf("Tool execution failed: %v", err)}
	}
	return ToolOutcome{Success: true, Payload: value}
}

func (s *Session) checkLoop() {
	if !s.config.EnableLoopDetection {
		return
	}
	window := s.config.LoopDetectionWindow
	if DetectLoop(s.History(), window) {
		s.logger.Warn("repeating tool call pattern detected", "window", window)
	}
}
