package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/config"
	"github.com/martinemde/sourceagent/orchestrator"
	"github.com/martinemde/sourceagent/unifiedllm"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultPrompt = "Analyze this code base."

const runPreamble = "You are a helpful code assistant. Think step-by-step and use tools when needed.\n" +
	"Stop when you have completed your analysis.\n" +
	"The user's prompt is:\n\n"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr, os.Stdin, os.Getenv)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "sourceagent",
		Short:        "Tool-calling coding agent",
		Long:         "sourceagent runs a language model in a loop with local tools to inspect and change a code base.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringP("config", "c", config.DefaultPath, "Config file (.yaml, .yml or .toml)")
	pf.String("provider", unifiedllm.DefaultProvider, "AI provider to use")
	pf.String("model", unifiedllm.DefaultModel, "Model to use")
	pf.Float64("temperature", unifiedllm.DefaultTemperature, "Sampling temperature")
	pf.String("backend", config.BackendHTTP, "Completion backend: http or gollm (gollm serializes completion calls)")
	pf.StringP("root", "C", "", "Workspace root (default: current directory)")
	pf.BoolP("verbose", "v", false, "Verbose output")

	root.AddCommand(runCmd(a), orchestrateCmd(a), toolsCmd(a), configCmd(a), versionCmd(a))
	return root
}

// ── run command ──

func runCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coding agent on a prompt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd)
		},
	}
	cmd.Flags().StringP("prompt", "p", defaultPrompt, "Prompt for the coding agent")
	cmd.Flags().BoolP("interactive", "i", false, "Read prompts from stdin until 'q'")
	cmd.Flags().Int("max-steps", 0, "Step budget per prompt (default from config)")
	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	client, err := a.newClient(a.cfg, a.logger)
	if err != nil {
		return err
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	reg, err := a.registry(ws)
	if err != nil {
		return err
	}
	session := a.newSession(client, reg, ws, a.logger)

	verbose, _ := cmd.Flags().GetBool("verbose")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	r := &renderer{w: a.out, verbose: verbose}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		return a.interactive(ctx, session, r, maxSteps)
	}

	prompt, _ := cmd.Flags().GetString("prompt")
	last, _ := r.consume(session.Run(ctx, runPreamble+prompt, maxSteps))
	if last.Kind == agentloop.EventError {
		return errors.New(last.Message())
	}
	return nil
}

// interactive answers one prompt per line. Each prompt starts from a fresh
// conversation; errors are printed and the loop continues.
func (a *app) interactive(ctx context.Context, session *agentloop.Session, r *renderer, maxSteps int) error {
	fmt.Fprintln(a.out, "Entering interactive mode. Type your prompt and press Enter; type 'q' to quit.")
	scanner := bufio.NewScanner(a.in)
	for {
		fmt.Fprint(a.out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case strings.EqualFold(input, "q"):
			fmt.Fprintln(a.out, "Exiting interactive session.")
			return nil
		case input == "":
			continue
		}

		session.ResetConversation()
		r.consume(session.Run(ctx, input, maxSteps))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ── orchestrate command ──

func orchestrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Split a prompt across parallel agents and merge their answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.orchestrate(cmd)
		},
	}
	cmd.Flags().StringP("prompt", "p", "", "Prompt to orchestrate")
	cmd.Flags().Int("parallel-agents", 0, "Override number of parallel agents from config")
	cmd.Flags().Float64("timeout", 0, "Override task timeout (seconds) from config")
	cmd.Flags().Bool("silent", false, "Suppress intermediate agent logs and progress")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func (a *app) orchestrate(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if n, _ := flags.GetInt("parallel-agents"); n > 0 {
		a.cfg.Orchestrator.ParallelAgents = n
	}
	if t, _ := flags.GetFloat64("timeout"); t > 0 {
		a.cfg.Orchestrator.TaskTimeout = t
	}
	silent, _ := flags.GetBool("silent")
	prompt, _ := flags.GetString("prompt")

	agentLogger := a.logger
	if silent {
		agentLogger = slog.New(slog.DiscardHandler)
	}

	client, err := a.newClient(a.cfg, agentLogger)
	if err != nil {
		return err
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	reg, err := a.registry(ws)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithConfig(a.cfg.OrchestratorConfig()),
		orchestrator.WithLogger(agentLogger),
	}
	if !silent {
		var mu sync.Mutex
		opts = append(opts, orchestrator.WithProgressHook(func(id int, s orchestrator.Status) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(a.out, "Agent %d: %s\n", id+1, s)
		}))
	}
	orch := orchestrator.New(client, func(id int) *agentloop.Session {
		return a.newSession(client, reg, ws, agentLogger.With("agent_id", id))
	}, opts...)

	fmt.Fprintln(a.out, "Decomposing and running tasks in parallel...")
	start := time.Now()
	report, err := orch.Run(cmd.Context(), prompt)
	if err != nil {
		return err
	}
	a.logger.Info("orchestration finished",
		"agents", len(report.Results),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	fmt.Fprintf(a.out, "\nFinal aggregated result:\n\n%s\n", report.Answer)
	return nil
}

// ── tools command ──

func toolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		RunE: func(_ *cobra.Command, _ []string) error {
			ws, err := a.workspace()
			if err != nil {
				return err
			}
			reg, err := a.registry(ws)
			if err != nil {
				return err
			}
			for _, def := range reg.Declarations() {
				fmt.Fprintf(a.out, "%-28s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}

// ── config command ──

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.cfg.Encode(a.out)
		},
	})
	return cmd
}

// ── version command ──

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.out, "sourceagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
