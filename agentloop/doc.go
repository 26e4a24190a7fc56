// Package agentloop implements a tool-calling agent loop.
//
// A Session pairs a language model with locally registered tools. Each step
// sends the whole conversation and the tool declarations to the model,
// records the reply, and executes any requested tools, feeding their results
// back as tool messages. The loop ends when the model calls the
// task_mark_complete tool, when the step budget runs out, or when a
// completion call fails.
//
// # Architecture
//
//   - ToolRegistry: ordered catalog of tool declarations and callables.
//     Sessions take a private copy, optionally hiding some tools.
//   - Session: owns the Conversation and drives the steps.
//   - Event: typed record of each transition, delivered through the lazy
//     iter.Seq returned by Session.Run.
//
// # Quick Start
//
//	registry := agentloop.NewToolRegistry()
//	if err := tools.RegisterDefaults(registry, workspace); err != nil {
//	    return err
//	}
//
//	session := agentloop.NewSession(client, registry,
//	    agentloop.WithSystemPrompt(agentloop.BuildSystemPrompt(dir, model)),
//	)
//	for ev := range session.Run(ctx, "Summarise this repository", 0) {
//	    fmt.Printf("[%s] %v\n", ev.Kind, ev.Data)
//	}
//
// Tool failures never end a run: malformed arguments, unknown tools and
// errors raised by a tool are returned to the model as {"error": ...} so it
// can correct itself.
package agentloop
