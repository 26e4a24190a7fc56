package agentloop

import "testing"

func TestParseResponseMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "  Hello there.\n", "Hello there."},
		{"embedded part", "{'type': 'text', 'text': 'hello'}", "hello"},
		{"embedded with noise", "prefix {'type': 'text', 'text': 'inner'} suffix", "inner"},
		{"missing text field", "{'type': 'text'}", "{'type': 'text'}"},
		{"undecodable fragment", "{'type': 'text', 'text': it's}", "{'type': 'text', 'text': it's}"},
		{"double quoted json is left alone", `{"type": "text", "text": "x"}`, `{"type": "text", "text": "x"}`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseResponseMessage(tt.in); got != tt.want {
				t.Errorf("ParseResponseMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
