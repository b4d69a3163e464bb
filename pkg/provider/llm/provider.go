// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., Anthropic Claude,
// OpenAI GPT-4o, or a local Ollama instance) and exposes a uniform interface
// for the extraction pipeline to perform single-shot completions, count
// tokens, and inspect model capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/doppelganger/pkg/types"
)

// Message is re-exported from types for call-site brevity.
type Message = types.Message

// ModelCapabilities is re-exported from types for call-site brevity.
type ModelCapabilities = types.ModelCapabilities

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages,
	// attached images, and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The pipeline always sends exactly
	// one "user" message, optionally carrying one image.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. A value
	// of 0.0 leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. If the provider does not natively support a dedicated
	// system prompt, implementors should prepend it as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list
	// would consume in the model's context window. The aggregator uses it to
	// warn before sending an oversized corpus.
	//
	// The result need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is assumed to be constant for the
	// lifetime of the Provider instance.
	Capabilities() types.ModelCapabilities
}

// imageTokenEstimate is the flat per-image token estimate used by
// EstimateTokens. Most vision models bill a ~1000px frame at roughly this cost.
const imageTokenEstimate = 1_000

// EstimateTokens is the shared character-based approximation used by the
// built-in providers: ~4 characters per token plus a per-message overhead and
// a flat cost per attached image.
// TODO: replace with a real tokenizer (e.g., tiktoken-go) for accurate per-model counting.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
		total += len(m.Images) * imageTokenEstimate
	}
	return total
}
