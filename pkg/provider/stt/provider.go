// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model, a
// whisper.cpp server, or a hosted API such as Deepgram) and exposes a uniform
// batch interface: one call receives a whole decoded audio clip and returns
// the time-stamped segments the engine recognised.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
	"time"
)

// Request describes one clip to transcribe.
type Request struct {
	// PCM holds 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. Whisper models expect 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// Segment is a contiguous piece of recognised speech.
type Segment struct {
	// Text is the recognised content. Providers return it as produced by the
	// engine, including leading whitespace.
	Text string

	// Start and End are offsets from the beginning of the clip.
	Start time.Duration
	End   time.Duration
}

// Result is returned by Provider.Transcribe.
type Result struct {
	// Segments are the recognised segments in clip order.
	Segments []Segment

	// Language is the detected or requested language, when the provider reports it.
	Language string
}

// Text joins the trimmed segment texts with single spaces.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, " ")
}

// Duration returns the length of PCM audio in req, derived from SampleRate.
func (req Request) Duration() time.Duration {
	if req.SampleRate <= 0 {
		return 0
	}
	samples := len(req.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(req.SampleRate)
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises speech in req and returns the segments. An empty
	// clip yields an empty Result and no error.
	//
	// Returns an error if the engine fails or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
