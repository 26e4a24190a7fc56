package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellTool(t *testing.T) {
	ws := newTestWorkspace(t)

	res := callTool(t, ws, ShellToolName, map[string]any{"command": "echo hi"})
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "hi", res["stdout"])
	assert.Equal(t, 0, res["exit_code"])
	assert.Equal(t, "Command executed with exit code 0", res["message"])

	res = callTool(t, ws, ShellToolName, map[string]any{"command": "exit 2"})
	assert.Equal(t, true, res["success"], "a non-zero exit is still a completed execution")
	assert.Equal(t, 2, res["exit_code"])

	res = callTool(t, ws, ShellToolName, map[string]any{"command": "  "})
	assert.Equal(t, false, res["success"])
}

func TestPytestTraversal(t *testing.T) {
	ws := newTestWorkspace(t)
	res := callTool(t, ws, PytestToolName, map[string]any{"target_paths": []any{"../"}})
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "Path traversal")
	assert.Equal(t, 1, res["exit_code"])
}

func TestPytestMissingInterpreter(t *testing.T) {
	ws := newTestWorkspace(t, WithPythonCommand("definitely-not-python-xyz"))
	res := callTool(t, ws, PytestToolName, map[string]any{})
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "unexpected error")
	assert.Equal(t, "definitely-not-python-xyz -m pytest", res["command"])
}

func TestPytestFailingRun(t *testing.T) {
	// A stand-in interpreter that always fails the way pytest does when no
	// tests are collected.
	ws := newTestWorkspace(t, WithPythonCommand("false"))
	res := callTool(t, ws, PytestToolName, map[string]any{"pytest_args": []any{"-q"}})
	assert.Equal(t, false, res["success"])
	assert.NotEqual(t, 0, res["exit_code"])
	assert.Equal(t, "Pytest tests failed or encountered issues.", res["message"])
	assert.Equal(t, "false -m pytest -q", res["command"])
}
