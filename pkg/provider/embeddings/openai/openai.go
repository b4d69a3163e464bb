// Package openai provides an embeddings provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/doppelganger/pkg/provider/embeddings"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
}

type config struct {
	baseURL    string
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions asks the API to shorten vectors to dims. Only the
// text-embedding-3 family supports this; the library uses it to match the
// width of its vector column.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs a new OpenAI Embeddings Provider.
// If model is empty, DefaultModel (text-embedding-3-small) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		dimensions: cfg.dimensions,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// embed issues one request and orders the returned vectors by index.
func (p *Provider) embed(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(resp.Data))
	}

	out := make([][]float32, n)
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= n {
			return nil, fmt.Errorf("unexpected index %d", e.Index)
		}
		out[e.Index] = toFloat32(e.Embedding)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions returns the native embedding width for known OpenAI models.
func modelDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
