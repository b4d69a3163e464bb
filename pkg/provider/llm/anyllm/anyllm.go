// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the pipeline access to Anthropic, Gemini, Ollama and the other
// hosted or local backends any-llm-go supports.
//
// Frames are sent as OpenAI-style "image_url" parts holding a base64 data
// URL; any-llm-go translates them for backends with a different wire shape.
// Model capabilities come from a table of known model families and can be
// overridden for local models the table does not know.
package anyllm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	"github.com/MrWong99/doppelganger/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

type backendFunc func(...anyllmlib.Option) (anyllmlib.Provider, error)

func backend[P anyllmlib.Provider](newFn func(...anyllmlib.Option) (P, error)) backendFunc {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := newFn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var backends = map[string]backendFunc{
	"anthropic": backend(anthropic.New),
	"deepseek":  backend(deepseek.New),
	"gemini":    backend(gemini.New),
	"groq":      backend(groq.New),
	"llamacpp":  backend(llamacpp.New),
	"llamafile": backend(llamafile.New),
	"mistral":   backend(mistral.New),
	"ollama":    backend(ollama.New),
	"openai":    backend(anyllmoai.New),
}

// Backends lists the backend names accepted by [New], sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Option configures a [Provider].
type Option func(*Provider)

// WithBackendOptions passes options such as anyllmlib.WithAPIKey to the
// backend. Without an API key the backend reads its usual environment
// variable.
func WithBackendOptions(opts ...anyllmlib.Option) Option {
	return func(p *Provider) { p.backendOpts = append(p.backendOpts, opts...) }
}

// WithVision overrides whether the model accepts frame images.
func WithVision(enabled bool) Option {
	return func(p *Provider) { p.caps.SupportsVision = enabled }
}

// WithContextWindow overrides the model's context window in tokens.
func WithContextWindow(tokens int) Option {
	return func(p *Provider) {
		if tokens > 0 {
			p.caps.ContextWindow = tokens
		}
	}
}

// Provider is an [llm.Provider] backed by any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	backendOpts []anyllmlib.Option
	model       string
	caps        types.ModelCapabilities
}

// New returns a Provider for model on the named backend, one of [Backends].
func New(backendName, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	newBackend, ok := backends[strings.ToLower(backendName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backendName, strings.Join(Backends(), ", "))
	}

	p := &Provider{model: model, caps: capabilitiesFor(model)}
	for _, o := range opts {
		o(p)
	}
	b, err := newBackend(p.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", backendName, err)
	}
	p.backend = b
	return p, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: response has no choices", p.model)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens implements llm.Provider with the shared estimate; any-llm-go
// has no tokenizer.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

// convertMessage keeps plain string content for text-only messages. A
// message with frames becomes its text part followed by one image part per
// frame.
func convertMessage(m types.Message) anyllmlib.Message {
	if len(m.Images) == 0 {
		return anyllmlib.Message{Role: m.Role, Content: m.Content}
	}
	parts := make([]anyllmlib.ContentPart, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, anyllmlib.ContentPart{Type: "text", Text: m.Content})
	}
	for _, img := range m.Images {
		parts = append(parts, anyllmlib.ContentPart{Type: "image_url", ImageURL: &anyllmlib.ImageURL{URL: dataURL(img)}})
	}
	return anyllmlib.Message{Role: m.Role, Content: parts}
}

func dataURL(img types.Image) string {
	mt := img.MediaType
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// family is a group of models sharing capabilities. match receives the
// lower-cased model name.
type family struct {
	match func(model string) bool
	caps  types.ModelCapabilities
}

func prefix(p ...string) func(string) bool {
	return func(m string) bool {
		return slices.ContainsFunc(p, func(s string) bool { return strings.HasPrefix(m, s) })
	}
}

func contains(sub ...string) func(string) bool {
	return func(m string) bool {
		return slices.ContainsFunc(sub, func(s string) bool { return strings.Contains(m, s) })
	}
}

func caps(window, output int, vision bool) types.ModelCapabilities {
	return types.ModelCapabilities{ContextWindow: window, MaxOutputTokens: output, SupportsVision: vision}
}

// families is searched in order, so more specific entries come first.
var families = []family{
	{prefix("gpt-4.1"), caps(1_047_576, 32_768, true)},
	{prefix("gpt-4o"), caps(128_000, 16_384, true)},
	{prefix("gpt-4-turbo"), caps(128_000, 4_096, true)},
	{prefix("gpt-4"), caps(8_192, 4_096, false)},
	{prefix("gpt-3.5-turbo"), caps(16_385, 4_096, false)},
	{prefix("o3-mini"), caps(200_000, 100_000, false)},
	{prefix("o1", "o3"), caps(200_000, 100_000, true)},
	{contains("claude-3-opus"), caps(200_000, 4_096, true)},
	{prefix("claude"), caps(200_000, 8_192, true)},
	{contains("gemini-1.5-pro"), caps(2_097_152, 8_192, true)},
	{prefix("gemini"), caps(1_048_576, 8_192, true)},
	{func(m string) bool { return contains("llava", "vision")(m) || prefix("qwen2.5vl", "gemma3")(m) }, caps(32_768, 4_096, true)},
}

// defaultCaps is used for models outside every family: text only.
var defaultCaps = caps(128_000, 4_096, false)

func capabilitiesFor(model string) types.ModelCapabilities {
	m := strings.ToLower(model)
	for _, f := range families {
		if f.match(m) {
			return f.caps
		}
	}
	return defaultCaps
}
