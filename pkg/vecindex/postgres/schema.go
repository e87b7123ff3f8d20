package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlDisclosures returns the disclosures DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlDisclosures(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS disclosures (
    id             TEXT    PRIMARY KEY,
    framework      TEXT    NOT NULL,
    category       TEXT    NOT NULL DEFAULT 'GENERAL',
    topic          TEXT    NOT NULL DEFAULT '',
    title          TEXT    NOT NULL DEFAULT '',
    title_ko       TEXT    NOT NULL DEFAULT '',
    description    TEXT    NOT NULL DEFAULT '',
    description_ko TEXT    NOT NULL DEFAULT '',
    keywords       TEXT[]  NOT NULL DEFAULT '{}',
    embedding      vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_disclosures_framework
    ON disclosures (framework);

CREATE INDEX IF NOT EXISTS idx_disclosures_embedding
    ON disclosures USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the disclosures table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for your
// deployment (e.g. 768 for multilingual-e5-base or gemini-embedding-001 with
// reduced output dimensionality). Changing this value after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlDisclosures(embeddingDimensions)); err != nil {
		return fmt.Errorf("disclosure migrate: %w", err)
	}
	return nil
}
