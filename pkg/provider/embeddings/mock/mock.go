// Package mock provides a test double for the embeddings.Provider interface.
//
//	p := &mock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
//	vec, _ := p.Embed(ctx, "restart the service")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/doppelganger/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider. Every text passed
// to Embed or EmbedBatch is appended to Texts.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, if set, computes the vector for each text and takes
	// precedence over EmbedResult.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned for every text when EmbedFunc is nil.
	EmbedResult []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// Texts records every embedded text in call order.
	Texts []string
}

// Embed records text and returns its configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch records texts and returns one configured vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

var _ embeddings.Provider = (*Provider)(nil)
