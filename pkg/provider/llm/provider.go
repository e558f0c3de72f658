// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform, non-streaming
// completion call to the correction pipeline without coupling it to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system
	// prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. A value of
	// 0.0 means "use the provider default".
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field prepend it
	// as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Model is the model that produced the reply, as reported by the backend.
	// May be empty when the backend does not report it.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Transport failures and cancellations are returned as errors. An empty
	// Content with a nil error is a valid (if useless) response; callers that
	// need a non-empty answer should wrap the provider with a fallback.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what the underlying model
	// supports. The result is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}

// ClampMaxTokens returns want limited to the model's MaxOutputTokens. A zero
// limit on either side leaves want unchanged.
func ClampMaxTokens(want int, caps ModelCapabilities) int {
	if want <= 0 || caps.MaxOutputTokens <= 0 {
		return want
	}
	return min(want, caps.MaxOutputTokens)
}
