package health

import (
	"context"
	"errors"

	"github.com/greenledger/esgmap/pkg/provider/embeddings"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

// CorpusChecker reports ready once the vector index has loaded a non-empty
// corpus snapshot. An empty corpus serves requests but can never produce a
// match, so it is treated as not ready.
func CorpusChecker(ix *vecindex.Index) Checker {
	return Checker{
		Name: "corpus",
		Check: func(_ context.Context) error {
			stats, err := ix.Stats()
			if err != nil {
				return err
			}
			if stats.DocumentCount == 0 {
				return errors.New("corpus is empty")
			}
			return nil
		},
	}
}

// EmbeddingsChecker probes the embedding backend with a short query. A
// backend that cannot embed makes every mapping request fail, so readiness
// follows it.
func EmbeddingsChecker(p embeddings.Provider) Checker {
	return Checker{
		Name: "embeddings",
		Check: func(ctx context.Context) error {
			_, err := p.EmbedQuery(ctx, "readiness probe")
			return err
		},
	}
}
