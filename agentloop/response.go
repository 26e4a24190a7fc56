package agentloop

import (
	"encoding/json"
	"regexp"
	"strings"
)

// embeddedTextPattern matches a single-quoted dict literal carrying a text
// part, e.g. {'type': 'text', 'text': 'hello'}, that some backends echo into
// the assistant content.
var embeddedTextPattern = regexp.MustCompile(`\{[^{}]*'type'\s*:\s*'text'[^{}]*\}`)

// ParseResponseMessage returns the user-facing text of an assistant reply.
// An embedded text part is unwrapped; anything else is returned trimmed.
func ParseResponseMessage(text string) string {
	fallback := strings.TrimSpace(text)

	fragment := embeddedTextPattern.FindString(text)
	if fragment == "" {
		return fallback
	}

	var part struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(fragment, "'", `"`)), &part); err != nil {
		return fallback
	}
	if part.Text == nil {
		return fallback
	}
	return *part.Text
}
