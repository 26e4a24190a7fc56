package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/sourceagent/agentloop"
)

func (w *Workspace) shellTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(ShellToolName,
			"Executes a shell command in the workspace root. Use this tool with extreme caution. "+
				"Outputs stdout, stderr, and exit code.",
			schema(map[string]any{
				"command": prop("string", "The shell command to execute."),
			}, "command"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := agentloop.GetStringArg(args, "command")
			if strings.TrimSpace(command) == "" {
				return failure("command is required"), nil
			}

			res, err := w.Shell(ctx, command)
			if err != nil {
				return map[string]any{
					"success":   false,
					"command":   command,
					"stdout":    "",
					"stderr":    err.Error(),
					"exit_code": 1,
					"error":     fmt.Sprintf("Failed to execute command: %v", err),
				}, nil
			}

			message := fmt.Sprintf("Command executed with exit code %d", res.ExitCode)
			if res.TimedOut {
				message = fmt.Sprintf("Command timed out after %s", w.commandTimeout)
			}
			return map[string]any{
				"success":   !res.TimedOut,
				"command":   command,
				"stdout":    TruncateToolOutput(strings.TrimSpace(res.Stdout), ShellToolName),
				"stderr":    TruncateToolOutput(strings.TrimSpace(res.Stderr), ShellToolName),
				"exit_code": res.ExitCode,
				"message":   message,
			}, nil
		},
	}
}

func (w *Workspace) pytestTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(PytestToolName,
			"Runs pytest tests in a specified directory or for specific files.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_paths": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Paths (files or directories) to run pytest on. Defaults to the workspace root.",
					},
					"pytest_args": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Additional arguments passed to pytest, e.g. [\"-k\", \"test_feature\"].",
					},
				},
			},
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			cmdArgs := []string{"-m", "pytest"}
			for _, target := range stringListArg(args, "target_paths") {
				abs, err := w.Resolve(target)
				if err != nil {
					return map[string]any{
						"success":   false,
						"error":     fmt.Sprintf("Path traversal detected for target_path - %s", target),
						"stdout":    "",
						"stderr":    "",
						"exit_code": 1,
					}, nil
				}
				cmdArgs = append(cmdArgs, abs)
			}
			cmdArgs = append(cmdArgs, stringListArg(args, "pytest_args")...)
			display := w.pythonCommand + " " + strings.Join(cmdArgs, " ")

			res, err := w.Exec(ctx, "", w.pythonCommand, cmdArgs...)
			if err != nil {
				return map[string]any{
					"success":   false,
					"command":   display,
					"error":     fmt.Sprintf("An unexpected error occurred during pytest execution: %v", err),
					"stdout":    "",
					"stderr":    "",
					"exit_code": 1,
				}, nil
			}

			ok := res.ExitCode == 0 && !res.TimedOut
			message := "Pytest execution completed."
			if !ok {
				message = "Pytest tests failed or encountered issues."
			}
			return map[string]any{
				"success":   ok,
				"command":   display,
				"stdout":    TruncateToolOutput(strings.TrimSpace(res.Stdout), PytestToolName),
				"stderr":    TruncateToolOutput(strings.TrimSpace(res.Stderr), PytestToolName),
				"exit_code": res.ExitCode,
				"message":   message,
			}, nil
		},
	}
}
