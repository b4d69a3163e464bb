package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Providers.Vision.Name == "" {
		cfg.Providers.Vision = cfg.Providers.LLM
	}
	if cfg.Pipeline.Concurrency <= 0 {
		cfg.Pipeline.Concurrency = DefaultConcurrency
	}
	if cfg.Pipeline.FailurePolicy == "" {
		cfg.Pipeline.FailurePolicy = string(pipeline.PolicyAbort)
	}
	if cfg.Cache.Scope == "" {
		cfg.Cache.Scope = string(cache.ScopeRun)
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendMemory
	}
	if cfg.Cache.Backend == CacheBackendSQLite && cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Library.EmbeddingDimensions <= 0 {
		cfg.Library.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.Vision.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; segment transcripts will be empty")
	}

	for _, fb := range []struct {
		field, kind string
		entries     []ProviderEntry
	}{
		{"llm", "llm", cfg.Fallbacks.LLM},
		{"vision", "llm", cfg.Fallbacks.Vision},
		{"stt", "stt", cfg.Fallbacks.STT},
	} {
		for i, e := range fb.entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("fallbacks.%s[%d].name is required", fb.field, i))
				continue
			}
			validateProviderName(fb.kind, e.Name)
		}
	}
	if cfg.Fallbacks.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.max_failures %d must not be negative", cfg.Fallbacks.MaxFailures))
	}
	if cfg.Fallbacks.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.reset_timeout %s must not be negative", cfg.Fallbacks.ResetTimeout))
	}

	if cfg.Pipeline.MaxSegments < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_segments %d must not be negative", cfg.Pipeline.MaxSegments))
	}
	if cfg.Pipeline.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency %d must not be negative", cfg.Pipeline.Concurrency))
	}
	if _, err := pipeline.ParseFailurePolicy(cfg.Pipeline.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.failure_policy: %w", err))
	}
	if t := cfg.Pipeline.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Pipeline.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", cfg.Pipeline.MaxTokens))
	}

	if _, err := cache.ParseScope(cfg.Cache.Scope); err != nil {
		errs = append(errs, fmt.Errorf("cache.scope: %w", err))
	}
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, sqlite", cfg.Cache.Backend))
	}
	if cfg.Cache.Scope == string(cache.ScopePersistent) && cfg.Cache.Backend == CacheBackendMemory {
		slog.Warn("cache.scope is persistent but cache.backend is memory; responses will not survive the process")
	}

	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts %d must not be negative", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.InitialBackoff < 0 || cfg.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry backoff durations must not be negative"))
	}

	if cfg.Library.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("library.embedding_dimensions %d must not be negative", cfg.Library.EmbeddingDimensions))
	}
	if cfg.Library.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("library.postgres_dsn is set but providers.embeddings is not configured"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Library.EmbeddingDimensions == 0 {
		slog.Warn("providers.embeddings is configured but library.embedding_dimensions is not set; defaulting to 1536")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
