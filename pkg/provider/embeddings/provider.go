// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. The tool library
// embeds every generalized procedure description so that later searches can
// find procedures by meaning rather than by exact wording.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the length reported by
// Dimensions. Vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in one provider call.
	// The i-th result corresponds to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small"). It is stored next to each vector.
	ModelID() string
}
