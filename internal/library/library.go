// Package library keeps extracted tool descriptions in a searchable
// procedure library. Each saved procedure carries an embedding of its
// summary so that an automation agent can find the closest known procedure
// for a free-text request.
//
// The production [Store] is [PostgresStore] (pgvector). [Library] combines a
// Store with an embeddings provider.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/pkg/provider/embeddings"
)

// ErrNotFound is returned by [Store.Get] when no procedure has the requested ID.
var ErrNotFound = errors.New("library: procedure not found")

// DefaultTopK is the number of matches returned when a search does not ask
// for a specific count.
const DefaultTopK = 5

// Procedure is one stored tool description.
type Procedure struct {
	// ID is the run ID that produced the description.
	ID string

	SourceDir string

	// Summary is the short description text that was embedded.
	Summary string

	// Document is the full rendered XML document.
	Document string

	StepCount int

	// Embedding is the vector of Summary. Empty when read back from a search.
	Embedding []float32

	CreatedAt time.Time
}

// Match is a search hit ordered by ascending cosine distance.
type Match struct {
	Procedure Procedure
	Distance  float64
}

// Store persists procedures and searches them by embedding.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts p or replaces an existing procedure with the same ID.
	Save(ctx context.Context, p Procedure) error

	// Search returns up to topK procedures closest to embedding.
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)

	// Get returns the procedure with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Procedure, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	Close()
}

// Library embeds and stores tool descriptions and answers free-text queries.
type Library struct {
	store    Store
	embedder embeddings.Provider
}

// New returns a Library backed by store that vectorises text with embedder.
func New(store Store, embedder embeddings.Provider) *Library {
	return &Library{store: store, embedder: embedder}
}

// Add embeds the summary of td and saves it.
func (l *Library) Add(ctx context.Context, td *document.ToolDescription) (Procedure, error) {
	if td == nil {
		return Procedure{}, errors.New("library: nil tool description")
	}
	summary := td.Summary()
	if summary == "" {
		return Procedure{}, fmt.Errorf("library: run %s has an empty description", td.RunID)
	}

	vec, err := l.embedder.Embed(ctx, summary)
	if err != nil {
		return Procedure{}, fmt.Errorf("library: embed run %s: %w", td.RunID, err)
	}

	p := Procedure{
		ID:        td.RunID,
		SourceDir: td.SourceDir,
		Summary:   summary,
		Document:  td.Render(),
		StepCount: len(td.Steps),
		Embedding: vec,
		CreatedAt: td.CreatedAt,
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := l.store.Save(ctx, p); err != nil {
		return Procedure{}, fmt.Errorf("library: save run %s: %w", td.RunID, err)
	}
	slog.Info("procedure saved to library", "run_id", p.ID, "steps", p.StepCount, "model", l.embedder.ModelID())
	return p, nil
}

// Search embeds query and returns the topK closest procedures. A topK of
// zero or less uses [DefaultTopK].
func (l *Library) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if query == "" {
		return nil, errors.New("library: empty query")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("library: embed query: %w", err)
	}
	matches, err := l.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("library: search: %w", err)
	}
	return matches, nil
}

// Get returns a stored procedure by run ID.
func (l *Library) Get(ctx context.Context, id string) (Procedure, error) {
	return l.store.Get(ctx, id)
}

// Ping checks that the store is reachable.
func (l *Library) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close releases the underlying store.
func (l *Library) Close() {
	l.store.Close()
}
