// Package orchestrator fans one request out to several independent agent
// sessions and merges their answers.
//
// A request is decomposed into N subtasks with a single model call (falling
// back to fixed templates), each subtask runs in its own agentloop.Session
// under a shared deadline, and the successful answers are synthesized by one
// more model call.
//
// Sessions share one completion client. With a GollmAdapter underneath,
// their completion calls run one at a time; tool execution still overlaps.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/sourceagent/agentloop"
)

// FailureMessage is returned when no agent produced an answer.
const FailureMessage = "All agents failed - please try again."

// Status is the progress state of one agent.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimeout    Status = "TIMEOUT"
)

// ResultStatus classifies the outcome of one agent.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultTimeout ResultStatus = "timeout"
)

// AgentResult is the outcome of one subtask.
type AgentResult struct {
	AgentID  int           `json:"agent_id"`
	Subtask  string        `json:"subtask"`
	Status   ResultStatus  `json:"status"`
	Response string        `json:"response"`
	Duration time.Duration `json:"execution_time"`
}

// Report is the full record of one orchestration.
type Report struct {
	Subtasks []string      `json:"subtasks"`
	Results  []AgentResult `json:"results"`
	Answer   string        `json:"answer"`
}

// Asker makes a single plain completion without tools.
// *unifiedllm.CompletionClient implements it.
type Asker interface {
	Ask(ctx context.Context, system, prompt string) (string, error)
}

// SessionFactory creates a fresh session for the agent with the given index.
type SessionFactory func(agentID int) *agentloop.Session

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the orchestrator configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgressHook registers a callback invoked after every status change.
// It runs on the agent's goroutine, outside the progress lock.
func WithProgressHook(fn func(agentID int, status Status)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// Orchestrator runs parallel agent sessions over decomposed subtasks.
// One Orchestrator handles one request at a time.
type Orchestrator struct {
	cfg        Config
	asker      Asker
	newSession SessionFactory
	logger     *slog.Logger
	onProgress func(agentID int, status Status)

	mu       sync.Mutex
	progress map[int]Status
}

// New creates an orchestrator. asker serves decomposition and synthesis;
// newSession builds the per-subtask agents.
func New(asker Asker, newSession SessionFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        DefaultConfig(),
		asker:      asker,
		newSession: newSession,
		logger:     slog.New(slog.DiscardHandler),
		progress:   make(map[int]Status),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the active configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Progress returns a snapshot of every agent's status.
func (o *Orchestrator) Progress() map[int]Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := make(map[int]Status, len(o.progress))
	for id, s := range o.progress {
		snapshot[id] = s
	}
	return snapshot
}

// setStatus records a status change. TIMEOUT is final: a cancelled agent
// that reports late does not overwrite it.
func (o *Orchestrator) setStatus(agentID int, status Status) {
	o.mu.Lock()
	if o.progress[agentID] == StatusTimeout {
		o.mu.Unlock()
		return
	}
	o.progress[agentID] = status
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(agentID, status)
	}
}

// Orchestrate decomposes input, runs the agents and returns the final answer.
func (o *Orchestrator) Orchestrate(ctx context.Context, input string) (string, error) {
	report, err := o.Run(ctx, input)
	if err != nil {
		return "", err
	}
	return report.Answer, nil
}

// Run is Orchestrate returning the full report. It fails only when ctx is
// already done or the configuration is invalid; agent failures are reported
// in the results.
func (o *Orchestrator) Run(ctx context.Context, input string) (*Report, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.newSession == nil {
		return nil, errors.New("orchestrator: no session factory")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := o.cfg.ParallelAgents
	o.mu.Lock()
	o.progress = make(map[int]Status, n)
	o.mu.Unlock()

	subtasks := o.Decompose(ctx, input, n)
	for i := range n {
		o.setStatus(i, StatusQueued)
	}

	results := o.runAgents(ctx, subtasks)
	return &Report{
		Subtasks: subtasks,
		Results:  results,
		Answer:   o.Aggregate(ctx, results),
	}, nil
}

// Decompose asks the model for n subtasks. Any failure or a reply that is not
// a JSON array of exactly n strings falls back to fixed variations of input.
func (o *Orchestrator) Decompose(ctx context.Context, input string, n int) []string {
	prompt := formatTemplate(o.cfg.QuestionGenerationPrompt, map[string]string{
		"user_input": input,
		"num_agents": strconv.Itoa(n),
	})

	if o.asker != nil {
		raw, err := o.asker.Ask(ctx, "", prompt)
		if err == nil {
			questions, perr := parseQuestions(raw, n)
			if perr == nil {
				return questions
			}
			err = perr
		}
		o.logger.Warn("task decomposition failed, using fallback subtasks", "error", err)
	}
	return fallbackSubtasks(input, n)
}

var fallbackTemplates = []string{
	"Research comprehensive information about: %s",
	"Analyze and provide insights about: %s",
	"Find alternative perspectives on: %s",
	"Verify and cross-check facts about: %s",
}

func fallbackSubtasks(input string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(fallbackTemplates[i%len(fallbackTemplates)], input)
	}
	return out
}

func parseQuestions(raw string, n int) ([]string, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var questions []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &questions); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	if len(questions) != n {
		return nil, fmt.Errorf("expected %d questions, got %d", n, len(questions))
	}
	return questions, nil
}

// formatTemplate substitutes {name} placeholders.
func formatTemplate(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// runAgents runs one session per subtask under the shared task timeout.
// Agents still running at the deadline are cancelled and reported as
// timeouts.
func (o *Orchestrator) runAgents(ctx context.Context, subtasks []string) []AgentResult {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	done := make(chan AgentResult, len(subtasks))
	for i, task := range subtasks {
		go func() {
			done <- o.runAgent(runCtx, i, task)
		}()
	}

	results := make(map[int]AgentResult, len(subtasks))
collect:
	for len(results) < len(subtasks) {
		select {
		case r := <-done:
			results[r.AgentID] = r
		case <-runCtx.Done():
			break collect
		}
	}

	// Agents observe the cancelled context at their next step or tool call;
	// whatever has not reported by now is a timeout.
	out := make([]AgentResult, 0, len(subtasks))
	for i, task := range subtasks {
		r, ok := results[i]
		if !ok {
			o.setStatus(i, StatusTimeout)
			r = AgentResult{
				AgentID:  i,
				Subtask:  task,
				Status:   ResultTimeout,
				Response: fmt.Sprintf("Agent %d timed out after %s", i, o.cfg.TaskTimeout),
				Duration: o.cfg.TaskTimeout,
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].AgentID < out[b].AgentID })
	return out
}

func (o *Orchestrator) runAgent(ctx context.Context, agentID int, subtask string) (result AgentResult) {
	result = AgentResult{AgentID: agentID, Subtask: subtask}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Status = ResultError
			result.Response = fmt.Sprintf("Error: %v", r)
			o.setStatus(agentID, StatusFailed)
		}
		result.Duration = time.Since(start)
	}()

	o.setStatus(agentID, StatusProcessing)
	session := o.newSession(agentID)
	logger := o.logger.With("agent_id", agentID, "session_id", session.ID())

	var answer, lastText string
	var runErr *agentloop.Event
	for ev := range session.Run(ctx, subtask, o.cfg.MaxSteps) {
		logger.Debug("agent event", "type", ev.Kind, "data", ev.Data)
		switch ev.Kind {
		case agentloop.EventAgentMessage:
			lastText = ev.Message()
		case agentloop.EventTaskComplete:
			answer = ev.Message()
		case agentloop.EventError:
			runErr = &ev
		}
	}

	switch {
	case runErr != nil && agentloop.ErrorKind(runErr.Field("kind")) == agentloop.ErrorCancelled && ctx.Err() != nil:
		result.Status = ResultTimeout
		result.Response = fmt.Sprintf("Agent %d timed out: %s", agentID, runErr.Message())
		o.setStatus(agentID, StatusTimeout)
	case runErr != nil:
		result.Status = ResultError
		result.Response = "Error: " + runErr.Message()
		o.setStatus(agentID, StatusFailed)
	case answer == "" && lastText == "":
		result.Status = ResultError
		result.Response = "Error: agent produced no response"
		o.setStatus(agentID, StatusFailed)
	default:
		if answer == "" {
			answer = lastText
		}
		result.Status = ResultSuccess
		result.Response = answer
		o.setStatus(agentID, StatusCompleted)
	}
	logger.Info("agent finished", "status", result.Status, "duration", time.Since(start))
	return result
}

// Aggregate merges the successful responses into one answer.
func (o *Orchestrator) Aggregate(ctx context.Context, results []AgentResult) string {
	var responses []string
	for _, r := range results {
		if r.Status == ResultSuccess {
			responses = append(responses, r.Response)
		}
	}
	switch {
	case len(responses) == 0:
		return FailureMessage
	case len(responses) == 1:
		return responses[0]
	case o.cfg.AggregationStrategy == StrategyConcatenate || o.asker == nil:
		return concatenate(responses)
	}

	var sections []string
	for i, resp := range responses {
		sections = append(sections, fmt.Sprintf("=== AGENT %d RESPONSE ===\n%s\n", i+1, resp))
	}
	prompt := formatTemplate(o.cfg.SynthesisPrompt, map[string]string{
		"num_responses":   strconv.Itoa(len(responses)),
		"agent_responses": strings.Join(sections, "\n"),
	})

	answer, err := o.asker.Ask(ctx, "", prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		o.logger.Warn("synthesis failed, concatenating responses", "error", err)
		return concatenate(responses)
	}
	return answer
}

func concatenate(responses []string) string {
	var lines []string
	for i, resp := range responses {
		lines = append(lines, fmt.Sprintf("=== AGENT %d ===", i+1), resp, "")
	}
	return strings.Join(lines, "\n")
}
