// Package config loads sourceagent settings from YAML or TOML files.
//
// Durations are written in seconds as numbers so that the same file decodes
// identically under both formats.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/orchestrator"
	"github.com/martinemde/sourceagent/tools"
	"github.com/martinemde/sourceagent/unifiedllm"
)

// DefaultPath is the file read when no --config flag is given.
const DefaultPath = "config.yaml"

// Completion backends.
const (
	BackendHTTP  = "http"  // OpenAI-compatible chat completions endpoint of the provider
	BackendGollm = "gollm" // github.com/teilomillet/gollm
)

type Config struct {
	Agent        AgentConfig        `yaml:"agent" toml:"agent"`
	Retry        RetryConfig        `yaml:"retry" toml:"retry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Tools        ToolsConfig        `yaml:"tools" toml:"tools"`
	Log          LogConfig          `yaml:"log" toml:"log"`
}

type AgentConfig struct {
	Provider            string  `yaml:"provider" toml:"provider"`
	Backend             string  `yaml:"backend" toml:"backend"`
	Model               string  `yaml:"model" toml:"model"`
	Temperature         float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens           int     `yaml:"max_tokens" toml:"max_tokens"`
	MaxSteps            int     `yaml:"max_steps" toml:"max_steps"`
	SystemPrompt        string  `yaml:"system_prompt" toml:"system_prompt"` // overrides AGENTS.md discovery
	ValidateArguments   bool    `yaml:"validate_arguments" toml:"validate_arguments"`
	LoopDetectionWindow int     `yaml:"loop_detection_window" toml:"loop_detection_window"`
}

// RetryConfig mirrors unifiedllm.RetryPolicy, delays in seconds.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   float64 `yaml:"base_delay" toml:"base_delay"`
	Factor      float64 `yaml:"factor" toml:"factor"`
	MaxDelay    float64 `yaml:"max_delay" toml:"max_delay"`
	Jitter      float64 `yaml:"jitter" toml:"jitter"`
}

type OrchestratorConfig struct {
	ParallelAgents           int     `yaml:"parallel_agents" toml:"parallel_agents"`
	TaskTimeout              float64 `yaml:"task_timeout" toml:"task_timeout"` // seconds
	AggregationStrategy      string  `yaml:"aggregation_strategy" toml:"aggregation_strategy"`
	QuestionGenerationPrompt string  `yaml:"question_generation_prompt" toml:"question_generation_prompt"`
	SynthesisPrompt          string  `yaml:"synthesis_prompt" toml:"synthesis_prompt"`
}

type ToolsConfig struct {
	Root           string            `yaml:"root" toml:"root"`
	CommandTimeout float64           `yaml:"command_timeout" toml:"command_timeout"` // seconds
	PythonCommand  string            `yaml:"python_command" toml:"python_command"`
	SearchEndpoint string            `yaml:"search_endpoint" toml:"search_endpoint"`
	MaxResults     int               `yaml:"max_results" toml:"max_results"`
	Env            map[string]string `yaml:"env" toml:"env,omitempty"`
}

type LogConfig struct {
	Level   string `yaml:"level" toml:"level"`
	NoColor bool   `yaml:"no_color" toml:"no_color"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := unifiedllm.DefaultRetryPolicy()
	orch := orchestrator.DefaultConfig()
	return &Config{
		Agent: AgentConfig{
			Provider:            unifiedllm.DefaultProvider,
			Backend:             BackendHTTP,
			Model:               unifiedllm.DefaultModel,
			Temperature:         unifiedllm.DefaultTemperature,
			MaxSteps:            agentloop.DefaultMaxSteps,
			LoopDetectionWindow: agentloop.DefaultLoopDetectionWindow,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BaseDelay:   retry.BaseDelay,
			Factor:      retry.Factor,
			MaxDelay:    retry.MaxDelay,
			Jitter:      retry.Jitter,
		},
		Orchestrator: OrchestratorConfig{
			ParallelAgents:           orch.ParallelAgents,
			TaskTimeout:              orch.TaskTimeout.Seconds(),
			AggregationStrategy:      orch.AggregationStrategy,
			QuestionGenerationPrompt: orch.QuestionGenerationPrompt,
			SynthesisPrompt:          orch.SynthesisPrompt,
		},
		Tools: ToolsConfig{
			CommandTimeout: tools.DefaultCommandTimeout.Seconds(),
			PythonCommand:  tools.DefaultPythonCommand,
			SearchEndpoint: tools.DefaultSearchEndpoint,
			MaxResults:     tools.DefaultMaxResults,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml and .yml for YAML, .toml for TOML. Unknown keys are rejected.
// A missing file is reported with an error wrapping fs.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := unifiedllm.LookupProvider(c.Agent.Provider); err != nil {
		return fmt.Errorf("agent.provider: %w", err)
	}
	switch {
	case c.Agent.Backend != BackendHTTP && c.Agent.Backend != BackendGollm:
		return fmt.Errorf("agent.backend must be %q or %q, got %q", BackendHTTP, BackendGollm, c.Agent.Backend)
	case c.Agent.Model == "":
		return errors.New("agent.model is required")
	case c.Agent.Temperature < 0 || c.Agent.Temperature > 2:
		return fmt.Errorf("agent.temperature must be between 0 and 2, got %g", c.Agent.Temperature)
	case c.Agent.MaxSteps < 0:
		return fmt.Errorf("agent.max_steps must not be negative, got %d", c.Agent.MaxSteps)
	case c.Agent.LoopDetectionWindow < 0:
		return fmt.Errorf("agent.loop_detection_window must not be negative, got %d", c.Agent.LoopDetectionWindow)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	case c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.Jitter < 0:
		return errors.New("retry delays must not be negative")
	case c.Retry.Factor < 1:
		return fmt.Errorf("retry.factor must be at least 1, got %g", c.Retry.Factor)
	case c.Tools.CommandTimeout < 0:
		return fmt.Errorf("tools.command_timeout must not be negative, got %g", c.Tools.CommandTimeout)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return c.OrchestratorConfig().Validate()
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Factor:      c.Retry.Factor,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

// OrchestratorConfig converts the orchestrator section. Empty prompts keep
// the built-in templates.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	out := orchestrator.DefaultConfig()
	out.ParallelAgents = c.Orchestrator.ParallelAgents
	out.TaskTimeout = seconds(c.Orchestrator.TaskTimeout)
	out.AggregationStrategy = c.Orchestrator.AggregationStrategy
	out.MaxSteps = c.Agent.MaxSteps
	if c.Orchestrator.QuestionGenerationPrompt != "" {
		out.QuestionGenerationPrompt = c.Orchestrator.QuestionGenerationPrompt
	}
	if c.Orchestrator.SynthesisPrompt != "" {
		out.SynthesisPrompt = c.Orchestrator.SynthesisPrompt
	}
	return out
}

func (c *Config) CompletionOptions() []unifiedllm.CompletionOption {
	return []unifiedllm.CompletionOption{
		unifiedllm.WithCompletionModel(c.Agent.Model),
		unifiedllm.WithCompletionTemperature(c.Agent.Temperature),
		unifiedllm.WithCompletionMaxTokens(c.Agent.MaxTokens),
		unifiedllm.WithRetryPolicy(c.RetryPolicy()),
	}
}

// SessionOptions returns the agent settings as session options. The system
// prompt is included only when configured explicitly.
func (c *Config) SessionOptions() []agentloop.SessionOption {
	opts := []agentloop.SessionOption{
		agentloop.WithMaxSteps(c.Agent.MaxSteps),
		agentloop.WithArgumentValidation(c.Agent.ValidateArguments),
		agentloop.WithLoopDetection(c.Agent.LoopDetectionWindow),
	}
	if c.Agent.SystemPrompt != "" {
		opts = append(opts, agentloop.WithSystemPrompt(c.Agent.SystemPrompt))
	}
	return opts
}

func (c *Config) WorkspaceOptions() []tools.WorkspaceOption {
	return []tools.WorkspaceOption{
		tools.WithCommandTimeout(seconds(c.Tools.CommandTimeout)),
		tools.WithPythonCommand(c.Tools.PythonCommand),
		tools.WithSearchEndpoint(c.Tools.SearchEndpoint),
		tools.WithMaxResults(c.Tools.MaxResults),
		tools.WithEnv(c.Tools.Env),
	}
}

// LogLevel parses log.level ("debug", "info", "warn", "error").
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
