package agentloop

import (
	"fmt"

	"github.com/martinemde/sourceagent/unifiedllm"
)

// Conversation is the ordered message history of one session. It is
// append-only during a run; Reset is the only way to shrink it.
type Conversation struct {
	messages []unifiedllm.Message
}

// NewConversation creates a conversation seeded with a system message.
// An empty prompt yields an empty conversation.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, unifiedllm.SystemMessage(systemPrompt))
	}
	return c
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...unifiedllm.Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the messages.
func (c *Conversation) Messages() []unifiedllm.Message {
	return append([]unifiedllm.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Last returns the final message, if any.
func (c *Conversation) Last() (unifiedllm.Message, bool) {
	if len(c.messages) == 0 {
		return unifiedllm.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Reset truncates the conversation back to its leading system message.
func (c *Conversation) Reset() {
	if len(c.messages) > 0 && c.messages[0].Role == unifiedllm.RoleSystem {
		c.messages = c.messages[:1:1]
		return
	}
	c.messages = nil
}

// Validate checks that every tool message answers exactly one tool call
// requested by an earlier assistant message.
func (c *Conversation) Validate() error {
	requested := make(map[string]bool)
	answered := make(map[string]bool)
	for i, msg := range c.messages {
		switch msg.Role {
		case unifiedllm.RoleAssistant:
			for _, tc := range msg.ToolCalls() {
				requested[tc.ID] = true
			}
		case unifiedllm.RoleTool:
			id := msg.ToolCallID
			if !requested[id] {
				return fmt.Errorf("message %d: tool result %q has no preceding tool call", i, id)
			}
			if answered[id] {
				return fmt.Errorf("message %d: tool call %q answered twice", i, id)
			}
			answered[id] = true
		}
	}
	return nil
}
