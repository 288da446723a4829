// Package unifiedllm provides a provider-agnostic chat client used by the
// porting agent.
//
// # Architecture
//
// The package has three layers:
//
//   - Provider interface: the ProviderAdapter interface and the shared
//     Message, Request and Response types
//   - Provider utilities: retry policy and error classification
//   - Core client: Client with provider routing and middleware
//
// # Adapters
//
// OpenAIAdapter talks to the OpenAI chat completions API (or any compatible
// endpoint) with native function calling. GollmAdapter wraps gollm.LLM for the
// other providers gollm supports and renders the transcript into a single
// prompt.
//
//	adapter := unifiedllm.NewOpenAIAdapter(os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "gpt-4.1",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// # Model Catalog
//
// A built-in catalog of known models resolves aliases, infers providers and
// reports context windows:
//
//	info := unifiedllm.GetModelInfo("sonnet")
//	window := unifiedllm.ContextWindow("gpt-4o", 128000)
package unifiedllm
