// Package tools provides the leaf tools a coding agent uses to inspect and
// change a workspace: file and directory operations, search, shell and pytest
// execution, web search, arithmetic and the clock.
//
// Every tool returns a map carrying a "success" flag together with either its
// payload or an "error" message. Expected failures (missing files, paths
// outside the workspace, failing commands) are reported that way rather than
// as Go errors, so the model sees them and can adjust.
package tools

import (
	"errors"
	"fmt"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/unifiedllm"
)

const (
	FileReadToolName        = "file_read_tool"
	FileWriteToolName       = "file_write_tool"
	FileListToolName        = "file_list_tool"
	FileSearchToolName      = "file_search_tool"
	FileDeleteToolName      = "file_delete_tool"
	DirectoryCreateToolName = "directory_create_tool"
	DirectoryDeleteToolName = "directory_delete_tool"
	ShellToolName           = "execute_shell_command"
	PytestToolName          = "run_pytest_tests"
	WebSearchToolName       = "web_search_tool"
	CalculatorToolName      = "calculate_expression_tool"
	CurrentDateToolName     = "get_current_date"
)

// Tools returns every leaf tool bound to the workspace, in a stable order.
func (w *Workspace) Tools() []agentloop.RegisteredTool {
	return []agentloop.RegisteredTool{
		w.fileReadTool(),
		w.fileWriteTool(),
		w.fileListTool(),
		w.fileSearchTool(),
		w.fileDeleteTool(),
		w.directoryCreateTool(),
		w.directoryDeleteTool(),
		w.shellTool(),
		w.pytestTool(),
		w.webSearchTool(),
		calculatorTool(),
		currentDateTool(),
	}
}

// RegisterDefaults registers the completion tool and every leaf tool of ws.
func RegisterDefaults(reg *agentloop.ToolRegistry, ws *Workspace) error {
	if err := agentloop.RegisterCompletionTool(reg); err != nil {
		return err
	}
	for _, tool := range ws.Tools() {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func success(fields map[string]any) map[string]any {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func failure(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

// pathFailure reports a Resolve error the way every path tool does.
func pathFailure(err error, path string) map[string]any {
	if errors.Is(err, ErrPathTraversal) {
		return failure("Path traversal not allowed: %s", path)
	}
	return failure("Invalid path %s: %v", path, err)
}

// schema builds an object schema from property definitions.
func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func definition(name, description string, parameters map[string]any) unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{Name: name, Description: description, Parameters: parameters}
}

func stringArg(args map[string]any, key, fallback string) string {
	if s, ok := agentloop.GetStringArg(args, key); ok && s != "" {
		return s
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if b, ok := agentloop.GetBoolArg(args, key); ok {
		return b
	}
	return fallback
}

func stringListArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
