package unifiedllm

import "strings"

// Request is the input to a completion call.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Provider    string           `json:"provider,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  *ToolChoice      `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

// Response is one completion. Message holds the first choice; providers that
// return several have the rest dropped.
type Response struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Message      Message        `json:"message"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        Usage          `json:"usage"`
	Raw          map[string]any `json:"raw,omitempty"`
}

func (r Response) Text() string { return r.Message.TextContent() }

func (r Response) ToolCalls() []ToolCall { return r.Message.ToolCalls() }

// FinishReason is the normalized stop reason ("stop", "length", "tool_calls",
// "content_filter", "error" or "other") alongside the provider's own value.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolDefinition declares a tool to the model. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice restricts tool use: Mode is "auto", "none", "required" or
// "named", and ToolName is set for "named".
type ToolChoice struct {
	Mode     string `json:"mode"`
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// text the model produced and may not be valid JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult answers the ToolCall with the same ID. Content is already
// serialized.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind says which field of a ContentPart is set.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

type ContentPart struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

func ToolCallPart(call ToolCall) ContentPart {
	return ContentPart{Kind: ContentToolCall, ToolCall: &call}
}

func ToolResultPart(result ToolResult) ContentPart {
	return ContentPart{Kind: ContentToolResult, ToolResult: &result}
}

// Message is one entry of a conversation. Name and ToolCallID are only set on
// tool messages.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	Name       string        `json:"name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage builds a model turn. Empty text adds no text part.
func AssistantMessage(text string, calls ...ToolCall) Message {
	msg := Message{Role: RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, TextPart(text))
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, ToolCallPart(call))
	}
	return msg
}

// ToolResultMessage answers the call with ID callID. content must already be
// serialized.
func ToolResultMessage(callID, name, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{ToolResultPart(ToolResult{CallID: callID, Content: content, IsError: isError})},
		Name:       name,
		ToolCallID: callID,
	}
}

// TextContent joins the message's text parts.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the message's tool calls in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, part := range m.Content {
		if part.Kind == ContentToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolResultContent returns the content of the message's first tool result.
func (m Message) ToolResultContent() string {
	for _, part := range m.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			return part.ToolResult.Content
		}
	}
	return ""
}
