package agentloop

import (
	"context"
	"time"

	"github.com/martinemde/sourceagent/unifiedllm"
)

// CompletionToolName is the reserved tool the model calls to finish a task.
// The session intercepts it; its callable is never run by the loop.
const CompletionToolName = "task_mark_complete"

// CompletionToolDefinition returns the declaration of the completion tool.
func CompletionToolDefinition() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{
		Name:        CompletionToolName,
		Description: "Signal that the task is complete. Call this once you have finished the user's request and given your final answer.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// RegisterCompletionTool adds the completion tool to r.
func RegisterCompletionTool(r *ToolRegistry) error {
	return r.Register(RegisteredTool{
		Definition: CompletionToolDefinition(),
		Func: func(context.Context, map[string]any) (any, error) {
			return map[string]any{
				"success": true,
				"content": map[string]any{
					"status":    "completed",
					"timestamp": time.Now().Format(time.DateTime),
				},
			}, nil
		},
	})
}
