// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings.
//
// The model is resource-scoped: it is loaded at the start of every Transcribe
// call and released before the call returns, so no model memory is held
// between segments. Calls are serialised because each one already saturates
// the CPU threads whisper.cpp is configured with.
type NativeProvider struct {
	modelPath        string
	language         string
	threads          uint
	silenceThreshold float64

	mu sync.Mutex

	// loadModel is swapped in tests.
	loadModel func(path string) (whisperlib.Model, error)
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use.
// Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativeSilenceThreshold sets the RMS level below which a clip is
// returned as empty without loading the model. Zero disables the check.
func WithNativeSilenceThreshold(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceThreshold = rms }
}

// NewNative creates a NativeProvider for the whisper.cpp model file at
// modelPath. The file must exist; it is not loaded until the first
// Transcribe call.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: model %q: %w", modelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("whisper: model %q is a directory", modelPath)
	}

	p := &NativeProvider{
		modelPath:        modelPath,
		language:         defaultLanguage,
		silenceThreshold: defaultRMSThreshold,
		loadModel:        whisperlib.New,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. It loads the model, runs inference on
// the whole clip with a fresh context, and closes the model again.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if len(req.PCM) < 2 || isSilent(req.PCM, p.silenceThreshold) {
		return &stt.Result{Language: lang}, nil
	}
	if req.SampleRate != 0 && req.SampleRate != whisperlib.SampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d not supported, want %d", req.SampleRate, whisperlib.SampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	model, err := p.loadModel(p.modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil {
			slog.Warn("whisper: failed to release model", "path", p.modelPath, "error", cerr)
		}
	}()
	slog.Debug("whisper: model loaded", "path", p.modelPath, "elapsed", time.Since(start))

	segments, err := p.infer(model, pcmToFloat32(req.PCM), lang)
	if err != nil {
		return nil, err
	}
	return &stt.Result{Segments: segments, Language: lang}, nil
}

// infer runs whisper.cpp inference using a fresh context and collects the
// recognised segments.
func (p *NativeProvider) infer(model whisperlib.Model, samples []float32, lang string) ([]stt.Segment, error) {
	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var out []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		out = append(out, stt.Segment{
			Text:  segment.Text,
			Start: segment.Start,
			End:   segment.End,
		})
	}
	return out, nil
}
