package orchestrator

import (
	"fmt"
	"time"

	"github.com/martinemde/sourceagent/agentloop"
)

// Aggregation strategies.
const (
	StrategyConsensus   = "consensus"   // synthesize with one more model call
	StrategyConcatenate = "concatenate" // labelled concatenation, no model call
)

const DefaultQuestionGenerationPrompt = `You are an orchestrator that splits a request into independent research questions.
Split the request below into exactly {num_agents} distinct questions that different agents can investigate in parallel.
Each question must be self-contained.

Request: {user_input}

Return ONLY a JSON array of {num_agents} strings, with no other text.`

const DefaultSynthesisPrompt = `You have {num_responses} responses from agents that investigated parts of the same request.
Combine them into one complete, accurate and well-structured answer. Resolve contradictions and drop repetition.
Do not mention the agents.

{agent_responses}`

// Config controls an orchestration.
type Config struct {
	ParallelAgents      int
	TaskTimeout         time.Duration // shared deadline for all agents
	AggregationStrategy string
	MaxSteps            int // per agent; 0 uses the session default

	// Templates use {user_input} and {num_agents}, and {num_responses} and
	// {agent_responses} respectively.
	QuestionGenerationPrompt string
	SynthesisPrompt          string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ParallelAgents:           4,
		TaskTimeout:              5 * time.Minute,
		AggregationStrategy:      StrategyConsensus,
		MaxSteps:                 agentloop.DefaultMaxSteps,
		QuestionGenerationPrompt: DefaultQuestionGenerationPrompt,
		SynthesisPrompt:          DefaultSynthesisPrompt,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ParallelAgents < 1:
		return fmt.Errorf("orchestrator: parallel_agents must be at least 1, got %d", c.ParallelAgents)
	case c.TaskTimeout <= 0:
		return fmt.Errorf("orchestrator: task_timeout must be positive, got %s", c.TaskTimeout)
	case c.AggregationStrategy != StrategyConsensus && c.AggregationStrategy != StrategyConcatenate:
		return fmt.Errorf("orchestrator: unknown aggregation_strategy %q", c.AggregationStrategy)
	case c.MaxSteps < 0:
		return fmt.Errorf("orchestrator: max_steps must not be negative, got %d", c.MaxSteps)
	}
	return nil
}
