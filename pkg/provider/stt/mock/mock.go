// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify which clips were submitted and to feed controlled
// transcription results without a speech engine.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &stt.Result{Segments: []stt.Segment{{Text: " hello"}}},
//	}
//	res, _ := p.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, if set, computes the result and takes precedence over
	// Result and Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Result is returned by Transcribe. If nil and Err is nil, an empty Result
	// is returned.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &stt.Result{}
	}
	return res, nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
