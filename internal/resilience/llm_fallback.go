package resilience

import (
	"context"

	"github.com/MrWong99/doppelganger/pkg/provider/llm"
)

// LLMFallback sends narration and description requests to the first model
// backend that answers.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an [LLMFallback] that tries primary first.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends backend to the failover order.
func (f *LLMFallback) AddFallback(name string, backend llm.Provider) {
	f.group.AddFallback(name, backend)
}

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the first backend whose counter succeeds.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities, narrowed so that vision is
// only claimed when every backend supports it and the context window is the
// smallest one in the group. A prompt that fits the primary must also fit a
// fallback.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		caps.SupportsVision = caps.SupportsVision && c.SupportsVision
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}
