package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/config"
	"github.com/martinemde/sourceagent/unifiedllm"
)

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string // last user message of every Complete call
	err     error
	answer  string
	ask     func(prompt string) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, messages []unifiedllm.Message, _ []unifiedllm.ToolDefinition) (*unifiedllm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == unifiedllm.RoleUser {
			f.prompts = append(f.prompts, messages[i].TextContent())
			break
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &unifiedllm.Response{Message: unifiedllm.AssistantMessage(f.answer,
		unifiedllm.ToolCall{ID: "c1", Name: agentloop.CompletionToolName, Arguments: "{}"},
	)}, nil
}

func (f *fakeLLM) Ask(_ context.Context, _, prompt string) (string, error) {
	return f.ask(prompt)
}

type harness struct {
	app    *app
	out    *bytes.Buffer
	errOut *bytes.Buffer
	llm    *fakeLLM
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	h := &harness{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		llm:    &fakeLLM{answer: "all done"},
	}
	h.app = newApp(h.out, h.errOut, strings.NewReader(stdin), func(string) string { return "" })
	h.app.newClient = func(*config.Config, *slog.Logger) (llmClient, error) { return h.llm, nil }
	return h
}

func (h *harness) execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd(h.app)
	root.SetArgs(append(args, "--root", t.TempDir()))
	return root.Execute()
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.execute(t, "version"))
	assert.Contains(t, h.out.String(), "sourceagent dev")
}

func TestConfigShowAppliesFlags(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.execute(t, "config", "show", "--model", "x-ai/grok-4", "--provider", "groq"))
	out := h.out.String()
	assert.Contains(t, out, "[agent]")
	assert.Contains(t, out, `model = "x-ai/grok-4"`)
	assert.Contains(t, out, `provider = "groq"`)
}

func TestExplicitConfigMustExist(t *testing.T) {
	h := newHarness(t, "")
	err := h.execute(t, "config", "show", "-c", "does-not-exist.yaml")
	assert.Error(t, err)
}

func TestInvalidFlagValueRejected(t *testing.T) {
	h := newHarness(t, "")
	err := h.execute(t, "config", "show", "--provider", "nowhere")
	assert.ErrorContains(t, err, "Unknown provider")
}

func TestToolsCommand(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.execute(t, "tools"))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], agentloop.CompletionToolName))
	assert.Contains(t, h.out.String(), "file_read_tool")
	assert.Contains(t, h.out.String(), "execute_shell_command")
}

func TestRunOneShot(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.execute(t, "run", "-p", "count the files"))

	assert.Contains(t, h.out.String(), "Task complete:\nall done")
	require.Len(t, h.llm.prompts, 1)
	assert.True(t, strings.HasPrefix(h.llm.prompts[0], "You are a helpful code assistant."))
	assert.True(t, strings.HasSuffix(h.llm.prompts[0], "The user's prompt is:\n\ncount the files"))
}

func TestRunReturnsErrorOnFailedCompletion(t *testing.T) {
	h := newHarness(t, "")
	h.llm.err = &unifiedllm.FatalCallError{Cause: errors.New("unauthorized")}

	err := h.execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, h.out.String(), "Error (fatal)")
}

func TestRunInteractive(t *testing.T) {
	h := newHarness(t, "first question\n\nsecond question\nQ\nignored\n")
	require.NoError(t, h.execute(t, "run", "-i"))

	assert.Equal(t, []string{"first question", "second question"}, h.llm.prompts)
	out := h.out.String()
	assert.Contains(t, out, "Entering interactive mode")
	assert.Equal(t, 2, strings.Count(out, "Task complete:"))
	assert.Contains(t, out, "Exiting interactive session.")
}

func TestRunInteractiveStopsAtEOF(t *testing.T) {
	h := newHarness(t, "only one\n")
	require.NoError(t, h.execute(t, "run", "--interactive"))
	assert.Equal(t, []string{"only one"}, h.llm.prompts)
}

func TestOrchestrate(t *testing.T) {
	h := newHarness(t, "")
	h.llm.ask = func(prompt string) (string, error) {
		if strings.Contains(prompt, "=== AGENT") {
			return "merged answer", nil
		}
		return `["part one", "part two"]`, nil
	}

	require.NoError(t, h.execute(t, "orchestrate", "-p", "explain the repo", "--parallel-agents", "2", "--timeout", "30"))

	out := h.out.String()
	assert.Contains(t, out, "Decomposing and running tasks in parallel...")
	assert.Contains(t, out, "Agent 1: COMPLETED")
	assert.Contains(t, out, "Agent 2: COMPLETED")
	assert.Contains(t, out, "Final aggregated result:\n\nmerged answer")
	assert.ElementsMatch(t, []string{"part one", "part two"}, h.llm.prompts)
}

func TestOrchestrateSilent(t *testing.T) {
	h := newHarness(t, "")
	h.llm.ask = func(string) (string, error) { return "", errors.New("down") }

	require.NoError(t, h.execute(t, "orchestrate", "-p", "topic", "--parallel-agents", "1", "--silent"))
	out := h.out.String()
	assert.NotContains(t, out, "Agent 1:")
	assert.Contains(t, out, "all done")
}

func TestOrchestrateRequiresPrompt(t *testing.T) {
	h := newHarness(t, "")
	assert.Error(t, h.execute(t, "orchestrate"))
}

func TestCompletionClientNeedsAPIKey(t *testing.T) {
	a := newApp(&bytes.Buffer{}, &bytes.Buffer{}, strings.NewReader(""), func(string) string { return "" })
	_, err := a.completionClient(config.Default(), slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, err, "Missing API key for provider: openrouter")

	a.getenv = func(key string) string {
		if key == "OPENROUTER_API_KEY" {
			return "sk-test"
		}
		return ""
	}
	client, err := a.completionClient(config.Default(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestRendererFormatsEvents(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{w: &buf, verbose: true}
	r.render(agentloop.Event{Kind: agentloop.EventIterationStart, Data: map[string]any{"step": 1, "max_steps": 12}})
	r.render(agentloop.Event{Kind: agentloop.EventToolCall, Data: map[string]any{"name": "file_read_tool", "arguments": `{"path":"a"}`}})
	r.render(agentloop.Event{Kind: agentloop.EventToolCall, Data: map[string]any{"name": agentloop.CompletionToolName}})
	r.render(agentloop.Event{Kind: agentloop.EventToolResult, Data: map[string]any{"name": "file_read_tool", "result": map[string]any{"success": true}}})
	r.render(agentloop.Event{Kind: agentloop.EventMaxStepsReached, Data: map[string]any{"message": "Reached maximum steps (12) without completing the task."}})

	out := buf.String()
	assert.Contains(t, out, "--- step 1/12 ---")
	assert.Contains(t, out, `Tool call: file_read_tool with args: {"path":"a"}`)
	assert.NotContains(t, out, "Tool call: "+agentloop.CompletionToolName)
	assert.Contains(t, out, `Tool result: file_read_tool -> {"success":true}`)
	assert.Contains(t, out, "Reached maximum steps (12)")
}
