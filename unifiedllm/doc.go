// Package unifiedllm provides a provider-agnostic chat completion layer with
// tool calling, an error taxonomy and retry with exponential backoff.
//
// # Architecture
//
// The package is organised in three layers:
//
//   - Providers: the ProviderAdapter interface, the OpenAI-compatible HTTP
//     adapter used for every hosted provider in the provider table, and a
//     GollmAdapter wrapping github.com/teilomillet/gollm.
//   - Routing: Client holds registered adapters and applies middleware.
//   - Completion: CompletionClient sends a whole conversation plus tool
//     declarations and classifies failures as retryable, fatal or unknown.
//
// # Quick Start
//
//	info, key, err := unifiedllm.ResolveProvider("openrouter", os.Getenv)
//	if err != nil {
//	    return err
//	}
//	adapter := unifiedllm.NewOpenAICompatAdapter(info.Name, info.BaseURL, key)
//	client := unifiedllm.NewCompletionClient(adapter,
//	    unifiedllm.WithCompletionModel("moonshotai/kimi-k2"),
//	)
//
//	resp, err := client.Complete(ctx, []unifiedllm.Message{
//	    unifiedllm.SystemMessage("You are a helpful code assistant."),
//	    unifiedllm.UserMessage("Summarise go.mod"),
//	}, nil)
//
// # Errors
//
// Complete returns *TransientCallError once the retry budget is spent on
// retryable failures, *FatalCallError for failures that retrying cannot fix,
// *AbortError when the context is cancelled, and any other error unchanged.
package unifiedllm
