// Package modelcall issues single-turn language-model calls on behalf of the
// pipeline stages, with response caching and telemetry.
//
// Every call is identified by a prompt template ID. The cache key combines
// that ID with a hash of the rendered prompt, any attached images, the
// provider name and the sampling parameters, so a change to any of them is a
// miss.
package modelcall

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	"github.com/MrWong99/doppelganger/pkg/types"
	"go.opentelemetry.io/otel/metric"
)

// Option configures a [Caller].
type Option func(*Caller)

// WithCache sets the response cache. The default is [cache.Noop].
func WithCache(s cache.Store) Option {
	return func(c *Caller) { c.store = s }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Caller) { c.metrics = m }
}

// WithTemperature sets the sampling temperature sent with every call.
func WithTemperature(t float64) Option {
	return func(c *Caller) { c.temperature = t }
}

// WithMaxTokens caps the response length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(c *Caller) { c.maxTokens = n }
}

// WithProviderName sets the label used in metrics and cache keys, typically
// "<provider>/<model>".
func WithProviderName(name string) Option {
	return func(c *Caller) { c.providerName = name }
}

// Caller sends prompts to one LLM provider. It is safe for concurrent use if
// the provider and cache are.
type Caller struct {
	provider     llm.Provider
	store        cache.Store
	metrics      *observe.Metrics
	temperature  float64
	maxTokens    int
	providerName string
}

// New returns a Caller for p.
func New(p llm.Provider, opts ...Option) *Caller {
	c := &Caller{
		provider:     p,
		store:        cache.Noop{},
		providerName: "llm",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Provider returns the underlying LLM provider.
func (c *Caller) Provider() llm.Provider { return c.provider }

// Call sends prompt, with optional images, as a single user message and
// returns the raw response text. Cached responses are returned without
// contacting the provider. Provider errors are returned wrapped; cache errors
// are logged and otherwise ignored.
func (c *Caller) Call(ctx context.Context, template, prompt string, images ...types.Image) (string, error) {
	key := c.key(template, prompt, images)

	if v, ok, err := c.store.Get(ctx, key); err != nil {
		slog.Warn("modelcall: cache lookup failed", "template", template, "error", err)
	} else {
		c.metrics.RecordCacheLookup(ctx, template, ok)
		if ok {
			slog.Debug("modelcall: cache hit", "template", template, "key", key.InputHash[:12])
			return v, nil
		}
	}

	ctx, span := observe.StartSpan(ctx, "llm."+template)
	defer span.End()

	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt, Images: images}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("template", template)))
	if err != nil {
		span.RecordError(err)
		c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", "error")
		c.metrics.RecordProviderError(ctx, c.providerName, "llm")
		return "", fmt.Errorf("modelcall: %s: %w", template, err)
	}
	if resp == nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", "error")
		return "", fmt.Errorf("modelcall: %s: provider returned no response", template)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", "ok")

	if resp.Usage.TotalTokens > 0 {
		observe.Logger(ctx).Debug("modelcall: completed",
			"template", template,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"elapsed", time.Since(start),
		)
	}

	if err := c.store.Put(ctx, key, resp.Content); err != nil {
		slog.Warn("modelcall: cache store failed", "template", template, "error", err)
	}
	return resp.Content, nil
}

func (c *Caller) key(template, prompt string, images []types.Image) cache.Key {
	parts := [][]byte{
		[]byte(c.providerName),
		[]byte(strconv.FormatFloat(c.temperature, 'g', -1, 64)),
		[]byte(strconv.Itoa(c.maxTokens)),
		[]byte(prompt),
	}
	for _, img := range images {
		parts = append(parts, []byte(img.MediaType), img.Data)
	}
	return cache.NewKey(template, parts...)
}
