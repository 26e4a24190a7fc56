package agentloop

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/martinemde/sourceagent/unifiedllm"
)

// DefaultLoopDetectionWindow is the number of recent tool calls inspected.
const DefaultLoopDetectionWindow = 6

// maxLoopPeriod is the longest repeating cycle DetectLoop looks for.
const maxLoopPeriod = 3

// callSignature identifies a tool call by name and a digest of its arguments.
func callSignature(call unifiedllm.ToolCall) string {
	sum := sha256.Sum256([]byte(call.Arguments))
	return call.Name + ":" + hex.EncodeToString(sum[:8])
}

// recentSignatures returns the signatures of the last n tool calls in
// history, oldest first.
func recentSignatures(history []unifiedllm.Message, n int) []string {
	var sigs []string
	for _, msg := range history {
		if msg.Role != unifiedllm.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls() {
			sigs = append(sigs, callSignature(call))
		}
	}
	if len(sigs) > n {
		sigs = sigs[len(sigs)-n:]
	}
	return sigs
}

// DetectLoop reports whether the last window tool calls repeat a cycle of one
// to three calls. The cycle length must divide the window.
func DetectLoop(history []unifiedllm.Message, window int) bool {
	if window < 2 {
		return false
	}
	sigs := recentSignatures(history, window)
	if len(sigs) < window {
		return false
	}
	for period := 1; period <= maxLoopPeriod && period < window; period++ {
		if window%period == 0 && repeatsEvery(sigs, period) {
			return true
		}
	}
	return false
}

func repeatsEvery(sigs []string, period int) bool {
	for i := period; i < len(sigs); i++ {
		if sigs[i] != sigs[i-period] {
			return false
		}
	}
	return true
}
