package resilience

import (
	"context"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

// STTFallback transcribes segment audio with the first speech backend that
// answers, so a local whisper server can stand in for a hosted one.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] that tries primary first.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends backend to the failover order.
func (f *STTFallback) AddFallback(name string, backend stt.Provider) {
	f.group.AddFallback(name, backend)
}

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}
