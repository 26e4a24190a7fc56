package agentloop

import (
	"context"
	"errors"
	"time"

	"github.com/martinemde/sourceagent/unifiedllm"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventIterationStart  EventKind = "iteration_start"
	EventAgentMessage    EventKind = "agent_message"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
	EventTaskComplete    EventKind = "task_complete"
	EventMaxStepsReached EventKind = "max_steps_reached"
	EventError           EventKind = "error"
)

// ErrorKind classifies the failure carried by an EventError.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient" // retries exhausted
	ErrorFatal     ErrorKind = "fatal"     // not retryable
	ErrorUnknown   ErrorKind = "unknown"   // unclassified, propagated as is
	ErrorCancelled ErrorKind = "cancelled" // context cancelled or timed out
)

// Event is an immutable record of one transition in the agent loop.
//
// Data keys by kind:
//
//	iteration_start    step, max_steps
//	agent_message      text
//	tool_call          name, arguments, call_id
//	tool_result        name, result, call_id
//	task_complete      message
//	max_steps_reached  message
//	error              message, kind
type Event struct {
	Kind      EventKind      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case EventTaskComplete, EventMaxStepsReached, EventError:
		return true
	}
	return false
}

// Field returns the string value stored under key, or "".
func (e Event) Field(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Int returns the int value stored under key, or 0.
func (e Event) Int(key string) int {
	n, _ := e.Data[key].(int)
	return n
}

// Message returns the human-readable text of the event: the agent text for
// agent_message events and the message for terminal events.
func (e Event) Message() string {
	if e.Kind == EventAgentMessage {
		return e.Field("text")
	}
	return e.Field("message")
}

func (s *Session) event(kind EventKind, data map[string]any) Event {
	return Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: s.id,
		Data:      data,
	}
}

// classifyRunError maps a completion failure to the error kind reported on
// the terminal event.
func classifyRunError(ctx context.Context, err error) ErrorKind {
	var (
		transient *unifiedllm.TransientCallError
		fatal     *unifiedllm.FatalCallError
		abort     *unifiedllm.AbortError
	)
	switch {
	case errors.As(err, &abort), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCancelled
	case ctx.Err() != nil:
		return ErrorCancelled
	case errors.As(err, &transient):
		return ErrorTransient
	case errors.As(err, &fatal):
		return ErrorFatal
	default:
		return ErrorUnknown
	}
}
