package tools

import (
	"fmt"
	"strings"
)

// TruncationMode says which part of an oversized output survives.
type TruncationMode string

const (
	// TruncateHeadTail keeps the start and the end and drops the middle.
	TruncateHeadTail TruncationMode = "head_tail"
	// TruncateTail keeps only the end.
	TruncateTail TruncationMode = "tail"
)

// OutputLimit bounds one tool's text output. Lines is applied after Chars;
// zero disables it.
type OutputLimit struct {
	Chars int
	Lines int
	Mode  TruncationMode
}

// DefaultOutputLimit applies to tools missing from OutputLimits.
var DefaultOutputLimit = OutputLimit{Chars: 30000, Mode: TruncateHeadTail}

// OutputLimits holds the per-tool limits. Listings and search hits keep their
// tail, file content and command output keep both ends.
var OutputLimits = map[string]OutputLimit{
	FileReadToolName:   {Chars: 50000, Mode: TruncateHeadTail},
	ShellToolName:      {Chars: 30000, Lines: 256, Mode: TruncateHeadTail},
	PytestToolName:     {Chars: 30000, Lines: 400, Mode: TruncateTail},
	FileSearchToolName: {Chars: 20000, Mode: TruncateTail},
	FileListToolName:   {Chars: 20000, Mode: TruncateTail},
	WebSearchToolName:  {Chars: 20000, Mode: TruncateHeadTail},
}

// TruncateOutput shortens output to at most maxChars characters of the
// original plus a marker saying how much was cut.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	cut := len(output) - maxChars
	if maxChars <= 0 || cut <= 0 {
		return output
	}
	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters omitted]\n\n", cut) + output[cut:]
	}
	head := maxChars / 2
	tail := maxChars - head
	return output[:head] +
		fmt.Sprintf("\n\n[output truncated: %d characters omitted from the middle; narrow the request to see them]\n\n", cut) +
		output[len(output)-tail:]
}

// TruncateLines keeps the first and last lines of output, maxLines in total.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := len(lines) - (maxLines - head)
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", tail-head) +
		strings.Join(lines[tail:], "\n")
}

// TruncateToolOutput applies the limit registered for toolName.
func TruncateToolOutput(output, toolName string) string {
	limit, ok := OutputLimits[toolName]
	if !ok {
		limit = DefaultOutputLimit
	}
	output = TruncateOutput(output, limit.Chars, limit.Mode)
	return TruncateLines(output, limit.Lines)
}
