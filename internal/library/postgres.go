package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by a PostgreSQL procedures table with a
// pgvector HNSW index for approximate nearest-neighbour search.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ddlProcedures returns the schema with the embedding dimension substituted.
// The dimension is baked into the column type at creation time.
func ddlProcedures(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS procedures (
    id          TEXT         PRIMARY KEY,
    source_dir  TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL,
    document    TEXT         NOT NULL,
    step_count  INTEGER      NOT NULL DEFAULT 0,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_procedures_source_dir
    ON procedures (source_dir);

CREATE INDEX IF NOT EXISTS idx_procedures_embedding
    ON procedures USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// NewPostgresStore connects to the database at dsn, registers pgvector types
// on every connection and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the configured
// embeddings model. Changing it after the first migration requires a manual
// schema change.
func NewPostgresStore(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("library: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("library: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("library: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the procedures table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("library migrate: invalid embedding dimensions %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlProcedures(embeddingDimensions)); err != nil {
		return fmt.Errorf("library migrate: %w", err)
	}
	return nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, p Procedure) error {
	const q = `
		INSERT INTO procedures
		    (id, source_dir, summary, document, step_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    source_dir = EXCLUDED.source_dir,
		    summary    = EXCLUDED.summary,
		    document   = EXCLUDED.document,
		    step_count = EXCLUDED.step_count,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		p.ID,
		p.SourceDir,
		p.Summary,
		p.Document,
		p.StepCount,
		pgvector.NewVector(p.Embedding),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("library: save procedure: %w", err)
	}
	return nil
}

// Search implements [Store]. Results are ordered by ascending cosine distance.
func (s *PostgresStore) Search(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	const q = `
		SELECT id, source_dir, summary, document, step_count, created_at,
		       embedding <=> $1 AS distance
		FROM   procedures
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("library: search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(
			&m.Procedure.ID,
			&m.Procedure.SourceDir,
			&m.Procedure.Summary,
			&m.Procedure.Document,
			&m.Procedure.StepCount,
			&m.Procedure.CreatedAt,
			&m.Distance,
		)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("library: scan rows: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Procedure, error) {
	const q = `
		SELECT id, source_dir, summary, document, step_count, embedding, created_at
		FROM   procedures
		WHERE  id = $1`

	var (
		p   Procedure
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&p.ID,
		&p.SourceDir,
		&p.Summary,
		&p.Document,
		&p.StepCount,
		&vec,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Procedure{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Procedure{}, fmt.Errorf("library: get procedure: %w", err)
	}
	p.Embedding = vec.Slice()
	return p, nil
}

// Ping acquires a pooled connection and round-trips to the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
