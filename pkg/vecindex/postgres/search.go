package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

// Query implements [vecindex.Searcher]. It returns the topK entries whose
// embeddings are closest to q by cosine distance, most similar first,
// dropping results whose cosine similarity falls below minSimilarity.
// An empty frameworks slice means no framework restriction.
func (s *Store) Query(ctx context.Context, q []float32, topK int, minSimilarity float64, frameworks []corpus.Framework) ([]vecindex.Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}
	if isZero(q) {
		return nil, fmt.Errorf("%w: zero vector", vecindex.ErrInvalidVector)
	}

	args := []any{pgvector.NewVector(q)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if len(frameworks) > 0 {
		names := make([]string, len(frameworks))
		for i, fw := range frameworks {
			names[i] = string(fw)
		}
		conditions = append(conditions, "framework = ANY("+next(names)+")")
	}
	if minSimilarity > 0 {
		// cosine similarity = 1 - cosine distance
		conditions = append(conditions, "embedding <=> $1 <= "+next(1-minSimilarity))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT id, framework, category, topic, title, title_ko, description, description_ko, keywords, embedding,
		       embedding <=> $1 AS distance
		FROM   disclosures
		%s
		ORDER  BY distance, id
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("disclosure store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vecindex.Candidate, error) {
		var (
			e        corpus.Entry
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(
			&e.ID,
			&e.Framework,
			&e.Category,
			&e.Topic,
			&e.Title,
			&e.TitleKo,
			&e.Description,
			&e.DescriptionKo,
			&e.Keywords,
			&vec,
			&distance,
		); err != nil {
			return vecindex.Candidate{}, err
		}
		e.Embedding = vec.Slice()
		return vecindex.Candidate{Entry: &e, Similarity: 1 - distance}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("disclosure store: scan rows: %w", err)
	}
	return results, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
