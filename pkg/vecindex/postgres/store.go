// Package postgres provides a PostgreSQL-backed disclosure index using the
// pgvector extension for cosine nearest-neighbour search. It is a drop-in
// replacement for the in-memory index when the corpus is too large to hold
// resident or must be shared between replicas.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.ImportSnapshot(ctx, snap)
//	matches, _ := store.Query(ctx, queryVec, 5, 0.5, nil)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

var _ vecindex.Searcher = (*Store)(nil)

// Store is a disclosure corpus index backed by a PostgreSQL table with a
// pgvector HNSW index. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate] so the disclosures
// table and vector extension exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// that produced the corpus vectors (e.g. 768 for multilingual-e5-base).
// Changing it after the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("disclosure store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("disclosure store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("disclosure store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("disclosure store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert inserts a single pre-embedded disclosure entry, replacing any
// existing row with the same standard ID.
func (s *Store) Upsert(ctx context.Context, e corpus.Entry) error {
	const q = `
		INSERT INTO disclosures
		    (id, framework, category, topic, title, title_ko, description, description_ko, keywords, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    framework      = EXCLUDED.framework,
		    category       = EXCLUDED.category,
		    topic          = EXCLUDED.topic,
		    title          = EXCLUDED.title,
		    title_ko       = EXCLUDED.title_ko,
		    description    = EXCLUDED.description,
		    description_ko = EXCLUDED.description_ko,
		    keywords       = EXCLUDED.keywords,
		    embedding      = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q,
		e.ID,
		string(e.Framework),
		string(e.Category),
		e.Topic,
		e.Title,
		e.TitleKo,
		e.Description,
		e.DescriptionKo,
		e.Keywords,
		pgvector.NewVector(e.Embedding),
	)
	if err != nil {
		return fmt.Errorf("disclosure store: upsert %s: %w", e.ID, err)
	}
	return nil
}

// ImportSnapshot upserts every document of snap inside a single transaction,
// so readers never observe a half-imported corpus.
func (s *Store) ImportSnapshot(ctx context.Context, snap *corpus.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("disclosure store: begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO disclosures
		    (id, framework, category, topic, title, title_ko, description, description_ko, keywords, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    framework      = EXCLUDED.framework,
		    category       = EXCLUDED.category,
		    topic          = EXCLUDED.topic,
		    title          = EXCLUDED.title,
		    title_ko       = EXCLUDED.title_ko,
		    description    = EXCLUDED.description,
		    description_ko = EXCLUDED.description_ko,
		    keywords       = EXCLUDED.keywords,
		    embedding      = EXCLUDED.embedding`

	for i := range snap.Documents {
		e := &snap.Documents[i]
		if _, err := tx.Exec(ctx, q,
			e.ID,
			string(e.Framework),
			string(e.Category),
			e.Topic,
			e.Title,
			e.TitleKo,
			e.Description,
			e.DescriptionKo,
			e.Keywords,
			pgvector.NewVector(e.Embedding),
		); err != nil {
			return fmt.Errorf("disclosure store: import %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("disclosure store: commit import: %w", err)
	}
	return nil
}

// Count returns the number of indexed disclosure entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM disclosures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("disclosure store: count: %w", err)
	}
	return n, nil
}
