package main

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/martinemde/sourceagent/agentloop"
	"github.com/martinemde/sourceagent/tools"
)

const maxRenderedResult = 2000

type renderer struct {
	w       io.Writer
	verbose bool
}

// consume prints every event of a run and returns the terminal one.
func (r *renderer) consume(events iter.Seq[agentloop.Event]) (agentloop.Event, bool) {
	var last agentloop.Event
	var ended bool
	for ev := range events {
		r.render(ev)
		if ev.IsTerminal() {
			last, ended = ev, true
		}
	}
	return last, ended
}

func (r *renderer) render(ev agentloop.Event) {
	switch ev.Kind {
	case agentloop.EventIterationStart:
		if r.verbose {
			fmt.Fprintf(r.w, "--- step %d/%d ---\n", ev.Int("step"), ev.Int("max_steps"))
		}
	case agentloop.EventAgentMessage:
		fmt.Fprintf(r.w, "Agent: %s\n", ev.Field("text"))
	case agentloop.EventToolCall:
		if ev.Field("name") == agentloop.CompletionToolName {
			return
		}
		fmt.Fprintf(r.w, "Tool call: %s with args: %s\n", ev.Field("name"), ev.Field("arguments"))
	case agentloop.EventToolResult:
		if r.verbose {
			fmt.Fprintf(r.w, "Tool result: %s -> %s\n", ev.Field("name"), formatResult(ev.Data["result"]))
		}
	case agentloop.EventTaskComplete:
		fmt.Fprintf(r.w, "\nTask complete:\n%s\n", ev.Message())
	case agentloop.EventMaxStepsReached:
		fmt.Fprintf(r.w, "\n%s\n", ev.Message())
	case agentloop.EventError:
		fmt.Fprintf(r.w, "\nError (%s): %s\n", ev.Field("kind"), ev.Message())
	}
}

func formatResult(v any) string {
	var text string
	if s, ok := v.(string); ok {
		text = s
	} else if data, err := json.Marshal(v); err == nil {
		text = string(data)
	} else {
		text = fmt.Sprintf("%v", v)
	}
	return tools.TruncateOutput(text, maxRenderedResult, tools.TruncateHeadTail)
}
