package main

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/resilience"
	"github.com/MrWong99/doppelganger/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/doppelganger/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/doppelganger/pkg/provider/embeddings/openai"
	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	"github.com/MrWong99/doppelganger/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/doppelganger/pkg/provider/llm/openai"
	"github.com/MrWong99/doppelganger/pkg/provider/stt"
	"github.com/MrWong99/doppelganger/pkg/provider/stt/deepgram"
	"github.com/MrWong99/doppelganger/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires every provider implementation that ships
// with doppelganger into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the Chat Completions API directly so that image detail
	// and organization can be set.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if detail := optString(entry.Options, "image_detail"); detail != "" {
			opts = append(opts, oaillm.WithImageDetail(detail))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go. openai keeps the native
	// client above for image_detail and timeout. vision and context_window
	// describe local models the capability table does not know.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var libOpts []anyllmlib.Option
			if entry.APIKey != "" {
				libOpts = append(libOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				libOpts = append(libOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			opts := []anyllm.Option{anyllm.WithBackendOptions(libOpts...)}
			if v, ok := optBool(entry.Options, "vision"); ok {
				opts = append(opts, anyllm.WithVision(v))
			}
			if n := optInt(entry.Options, "context_window"); n > 0 {
				opts = append(opts, anyllm.WithContextWindow(n))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if terms := optStrings(entry.Options, "keyterms"); len(terms) > 0 {
			opts = append(opts, deepgram.WithKeyterms(terms...))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithNativeSilenceThreshold(rms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "stt", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// providerSet holds the instantiated providers of one process. Text and
// Vision may be the same provider.
type providerSet struct {
	Text       llm.Provider
	TextName   string
	Vision     llm.Provider
	VisionName string

	// STT is nil when no speech engine is configured; transcripts are then
	// absent for every segment.
	STT     stt.Provider
	STTName string

	Embeddings embeddings.Provider
}

// buildProviders instantiates the providers named in cfg, wrapping each one
// in a fallback group with per-provider circuit breakers when fallbacks are
// configured for its kind.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	if cfg.Providers.LLM.Name == "" {
		return nil, errors.New("providers.llm.name is required")
	}
	fbCfg := fallbackConfig(cfg.Fallbacks)
	ps := &providerSet{}

	text, err := buildLLM(reg, "llm", cfg.Providers.LLM, cfg.Fallbacks.LLM, fbCfg)
	if err != nil {
		return nil, err
	}
	ps.Text, ps.TextName = text, cfg.Providers.LLM.Name

	sameAsText := reflect.DeepEqual(cfg.Providers.Vision, cfg.Providers.LLM) && len(cfg.Fallbacks.Vision) == 0
	if cfg.Providers.Vision.Name == "" || sameAsText {
		ps.Vision, ps.VisionName = ps.Text, ps.TextName
	} else {
		vision, err := buildLLM(reg, "vision", cfg.Providers.Vision, cfg.Fallbacks.Vision, fbCfg)
		if err != nil {
			return nil, err
		}
		ps.Vision, ps.VisionName = vision, cfg.Providers.Vision.Name
	}

	if name := cfg.Providers.STT.Name; name != "" {
		primary, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT, ps.STTName = primary, name
		if len(cfg.Fallbacks.STT) > 0 {
			fb := resilience.NewSTTFallback(primary, name, fbCfg)
			for _, entry := range cfg.Fallbacks.STT {
				p, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, p)
			}
			ps.STT = fb
		}
		slog.Info("provider created", "kind", "stt", "name", name, "fallbacks", len(cfg.Fallbacks.STT))
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", p.ModelID())
	}

	return ps, nil
}

func buildLLM(reg *config.Registry, kind string, entry config.ProviderEntry, fallbacks []config.ProviderEntry, fbCfg resilience.FallbackConfig) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model, "fallbacks", len(fallbacks))
	if len(fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, entry.Name, fbCfg)
	for _, e := range fallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", kind, e.Name, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

func fallbackConfig(cfg config.FallbacksConfig) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				if to == resilience.StateOpen {
					slog.Warn("provider disabled after repeated failures, using fallbacks", "provider", name)
				}
			},
		},
	}
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings accepts either a YAML sequence of strings or a single string.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// optInt returns an integer option; YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optBool reports a boolean option and whether it was set.
func optBool(opts map[string]any, key string) (bool, bool) {
	v, ok := opts[key].(bool)
	return v, ok
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a duration string such as "90s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
