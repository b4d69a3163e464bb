// Package transcribe converts a segment's audio file into a plain-text
// transcript.
//
// Transcription is best effort: every failure is logged and reported as an
// absent transcript, never as an error, so that a silent or corrupt clip does
// not stop the extraction of the rest of the tutorial.
package transcribe

import (
	"context"
	"time"

	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/internal/vocab"
	"github.com/MrWong99/doppelganger/pkg/audio"
	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

// Decoder turns an audio file into PCM. [*audio.Decoder] implements it.
type Decoder interface {
	Decode(ctx context.Context, path string) (audio.Clip, error)
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithLanguage sets the language hint passed to the speech engine. Empty lets
// the provider use its own default.
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = lang }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithVocabulary rewrites misheard terms in every transcript. A nil or empty
// vocabulary leaves transcripts untouched.
func WithVocabulary(v *vocab.Vocabulary) Option {
	return func(a *Adapter) { a.vocab = v }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(a *Adapter) { a.providerName = name }
}

// Adapter wraps a decoder and a speech-to-text provider.
type Adapter struct {
	decoder      Decoder
	provider     stt.Provider
	language     string
	metrics      *observe.Metrics
	providerName string
	vocab        *vocab.Vocabulary
}

// New returns an Adapter that decodes audio with dec and transcribes it with p.
func New(dec Decoder, p stt.Provider, opts ...Option) *Adapter {
	a := &Adapter{decoder: dec, provider: p, providerName: "stt"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Transcribe returns the transcript of the audio file at audioPath. ok is
// false when the file could not be decoded or the speech engine failed; the
// cause is logged. A clip with no recognised speech yields ("", true).
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) (text string, ok bool) {
	log := observe.Logger(ctx).With("audio", audioPath)

	clip, err := a.decoder.Decode(ctx, audioPath)
	if err != nil {
		log.Warn("transcribe: failed to decode audio, continuing without transcript", "error", err)
		return "", false
	}

	start := time.Now()
	res, err := a.provider.Transcribe(ctx, stt.Request{
		PCM:        clip.PCM,
		SampleRate: clip.SampleRate,
		Language:   a.language,
	})
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, a.providerName, "stt", "error")
		a.metrics.RecordProviderError(ctx, a.providerName, "stt")
		log.Warn("transcribe: speech-to-text failed, continuing without transcript", "error", err)
		return "", false
	}
	a.metrics.RecordProviderRequest(ctx, a.providerName, "stt", "ok")

	text = res.Text()
	if a.vocab.Len() > 0 {
		var fixes []vocab.Correction
		text, fixes = a.vocab.Correct(text)
		for _, c := range fixes {
			log.Debug("transcribe: corrected term", "heard", c.Original, "term", c.Corrected, "method", c.Method, "score", c.Score)
		}
	}
	log.Debug("transcribe: done",
		"duration", clip.Duration(),
		"segments", len(res.Segments),
		"chars", len(text),
		"elapsed", time.Since(start),
	)
	return text, true
}
