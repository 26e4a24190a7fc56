package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/config"
	"github.com/martinemde/sourceagent/orchestrator"
	"github.com/martinemde/sourceagent/tools"
	"github.com/martinemde/sourceagent/unifiedllm"
)

// llmClient is what the commands need from a model: tool-calling turns for
// sessions and plain questions for the orchestrator.
type llmClient interface {
	agentloop.Completer
	orchestrator.Asker
}

type app struct {
	out    io.Writer
	errOut io.Writer
	in     io.Reader
	getenv func(string) string

	// newClient builds the model client; tests replace it.
	newClient func(cfg *config.Config, logger *slog.Logger) (llmClient, error)

	cfg    *config.Config
	logger *slog.Logger
}

func newApp(out, errOut io.Writer, in io.Reader, getenv func(string) string) *app {
	a := &app{out: out, errOut: errOut, in: in, getenv: getenv}
	a.newClient = a.completionClient
	return a
}

// loadConfig reads the config file and applies command-line overrides.
// The default config path may be absent; an explicit one may not.
func (a *app) loadConfig(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if flags.Changed("config") || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	if flags.Changed("provider") {
		cfg.Agent.Provider, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		cfg.Agent.Model, _ = flags.GetString("model")
	}
	if flags.Changed("temperature") {
		cfg.Agent.Temperature, _ = flags.GetFloat64("temperature")
	}
	if flags.Changed("backend") {
		cfg.Agent.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("root") {
		cfg.Tools.Root, _ = flags.GetString("root")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	a.cfg = cfg
	a.logger = newLogger(a.errOut, level, cfg.Log.NoColor)
	return nil
}

// completionClient resolves the configured provider's credentials, routes the
// selected backend through a logging Client and wraps it in a retrying
// CompletionClient.
func (a *app) completionClient(cfg *config.Config, logger *slog.Logger) (llmClient, error) {
	info, key, err := unifiedllm.ResolveProvider(cfg.Agent.Provider, a.getenv)
	if err != nil {
		return nil, err
	}

	var adapter unifiedllm.ProviderAdapter
	switch cfg.Agent.Backend {
	case config.BackendGollm:
		opts := []unifiedllm.GollmAdapterOption{
			unifiedllm.WithModel(cfg.Agent.Model),
			unifiedllm.WithTemperature(cfg.Agent.Temperature),
		}
		if cfg.Agent.MaxTokens > 0 {
			opts = append(opts, unifiedllm.WithMaxTokens(cfg.Agent.MaxTokens))
		}
		gollmAdapter, err := unifiedllm.NewGollmAdapter(info.Name, key, opts...)
		if err != nil {
			return nil, err
		}
		adapter = gollmAdapter
	default:
		adapter = unifiedllm.NewOpenAICompatAdapter(info.Name, info.BaseURL, key)
	}

	router := unifiedllm.NewClient(
		unifiedllm.WithProvider(info.Name, adapter),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
	)
	opts := append(cfg.CompletionOptions(),
		unifiedllm.WithCompletionProvider(info.Name),
		unifiedllm.WithCompletionLogger(logger),
	)
	return unifiedllm.NewCompletionClient(router, opts...), nil
}

func (a *app) workspace() (*tools.Workspace, error) {
	return tools.NewWorkspace(a.cfg.Tools.Root, a.cfg.WorkspaceOptions()...)
}

func (a *app) registry(ws *tools.Workspace) (*agentloop.ToolRegistry, error) {
	reg := agentloop.NewToolRegistry()
	if err := tools.RegisterDefaults(reg, ws); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return reg, nil
}

// newSession creates a session rooted at the workspace. A system prompt set
// in the config replaces the discovered one.
func (a *app) newSession(client agentloop.Completer, reg *agentloop.ToolRegistry, ws *tools.Workspace, logger *slog.Logger) *agentloop.Session {
	opts := []agentloop.SessionOption{
		agentloop.WithSystemPrompt(agentloop.BuildSystemPrompt(ws.Root(), a.cfg.Agent.Model)),
		agentloop.WithLogger(logger),
	}
	opts = append(opts, a.cfg.SessionOptions()...)
	return agentloop.NewSession(client, reg, opts...)
}
