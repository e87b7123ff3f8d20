// Package vecindex provides an in-memory nearest-neighbour index over the
// ESG standards corpus.
//
// The index holds an [N × D] matrix of unit-norm embedding vectors and
// answers top-K cosine-similarity queries by brute-force dot products, which
// for corpora in the hundreds-to-low-thousands of entries completes in low
// single-digit milliseconds without any external database.
//
// The corpus is loaded lazily on first query and is read-only afterwards;
// [Index.Swap] replaces the whole corpus atomically when a new snapshot
// version is published. All methods are safe for concurrent use.
package vecindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/greenledger/esgmap/pkg/corpus"
)

// ErrInvalidVector is returned by [Index.Query] when the query vector has
// zero norm and therefore no direction to compare against.
var ErrInvalidVector = errors.New("vecindex: query vector has zero norm")

// Candidate pairs a corpus entry with its cosine similarity to a query
// vector. Candidates are produced fresh per query and never persisted.
type Candidate struct {
	Entry *corpus.Entry

	// Similarity is the cosine similarity in [-1, 1]; higher is more similar.
	Similarity float64
}

// Searcher is the query-side capability of a vector index. It is implemented
// by the in-memory [Index] and by the pgvector-backed variant in the
// postgres subpackage.
type Searcher interface {
	// Query returns the topK entries most similar to q, in descending
	// similarity order with ties broken by corpus order. Entries whose
	// similarity is below minSimilarity are dropped; when frameworks is
	// non-empty, entries of other frameworks are excluded.
	Query(ctx context.Context, q []float32, topK int, minSimilarity float64, frameworks []corpus.Framework) ([]Candidate, error)
}

// state is the immutable loaded form of one corpus snapshot.
type state struct {
	meta    corpus.Metadata
	entries []corpus.Entry
	vectors [][]float32 // row i is the unit-norm embedding of entries[i]
}

// Index is the in-memory vector index. Construct with [New] (lazy load on
// first query) or [NewFromSnapshot].
type Index struct {
	load func() (*corpus.Snapshot, error)

	once    sync.Once
	loadErr error

	mu  sync.RWMutex
	cur *state
}

var _ Searcher = (*Index)(nil)

// New creates an Index whose corpus is produced by load. The loader runs at
// most once, on the first query; concurrent first queries share the single
// load. A load failure is sticky and reported by every subsequent query.
func New(load func() (*corpus.Snapshot, error)) *Index {
	return &Index{load: load}
}

// NewFromSnapshot creates an Index over an already-loaded snapshot.
func NewFromSnapshot(snap *corpus.Snapshot) *Index {
	ix := &Index{}
	ix.cur = buildState(snap)
	return ix
}

// buildState normalizes the snapshot's embeddings into a query-ready state.
// Source embeddings are expected to be unit-norm already; rows that are not
// (within 1e-3) are normalized defensively.
func buildState(snap *corpus.Snapshot) *state {
	st := &state{
		meta:    snap.Metadata,
		entries: snap.Documents,
		vectors: make([][]float32, len(snap.Documents)),
	}
	for i := range snap.Documents {
		v := snap.Documents[i].Embedding
		n := norm(v)
		if n == 0 || math.Abs(n-1) <= 1e-3 {
			st.vectors[i] = v
			continue
		}
		scaled := make([]float32, len(v))
		inv := float32(1 / n)
		for j, x := range v {
			scaled[j] = x * inv
		}
		st.vectors[i] = scaled
	}
	return st
}

// ensure returns the loaded state, triggering the lazy load if needed.
func (ix *Index) ensure() (*state, error) {
	ix.mu.RLock()
	st := ix.cur
	ix.mu.RUnlock()
	if st != nil {
		return st, nil
	}

	ix.once.Do(func() {
		if ix.load == nil {
			ix.loadErr = errors.New("vecindex: no corpus loader configured")
			return
		}
		snap, err := ix.load()
		if err != nil {
			ix.loadErr = err
			return
		}
		loaded := buildState(snap)
		ix.mu.Lock()
		if ix.cur == nil { // a concurrent Swap wins
			ix.cur = loaded
		}
		ix.mu.Unlock()
	})

	ix.mu.RLock()
	st = ix.cur
	ix.mu.RUnlock()
	if st == nil {
		return nil, ix.loadErr
	}
	return st, nil
}

// Swap atomically replaces the corpus with a new snapshot. In-flight queries
// finish against the snapshot they started with.
func (ix *Index) Swap(snap *corpus.Snapshot) {
	st := buildState(snap)
	ix.mu.Lock()
	ix.cur = st
	ix.mu.Unlock()
}

// Query implements [Searcher].
//
// The similarity of entries excluded by the framework filter is set to the
// sentinel -1 instead of removing rows, which keeps index alignment and
// avoids a second allocation; a mask guarantees excluded entries never
// surface even when minSimilarity permits -1.
func (ix *Index) Query(_ context.Context, q []float32, topK int, minSimilarity float64, frameworks []corpus.Framework) ([]Candidate, error) {
	st, err := ix.ensure()
	if err != nil {
		return nil, err
	}
	if topK <= 0 || len(st.entries) == 0 {
		return nil, nil
	}
	if st.meta.EmbeddingDim != 0 && len(q) != st.meta.EmbeddingDim {
		return nil, fmt.Errorf("vecindex: query dimension %d, corpus dimension %d", len(q), st.meta.EmbeddingDim)
	}

	qn, err := unitVector(q)
	if err != nil {
		return nil, err
	}

	n := len(st.entries)
	scores := make([]float64, n)
	for i, row := range st.vectors {
		scores[i] = dot(row, qn)
	}

	var excluded []bool
	if len(frameworks) > 0 {
		allowed := make(map[corpus.Framework]bool, len(frameworks))
		for _, f := range frameworks {
			allowed[f] = true
		}
		excluded = make([]bool, n)
		for i := range st.entries {
			if !allowed[st.entries[i].Framework] {
				excluded[i] = true
				scores[i] = -1
			}
		}
	}

	k := topK
	if k > n {
		k = n
	}
	top := topKIndices(scores, k)

	results := make([]Candidate, 0, len(top))
	for _, i := range top {
		if excluded != nil && excluded[i] {
			continue
		}
		if scores[i] < minSimilarity {
			continue
		}
		results = append(results, Candidate{Entry: &st.entries[i], Similarity: scores[i]})
	}
	return results, nil
}

// Stats describes the currently loaded corpus.
type Stats struct {
	DocumentCount  int    `json:"document_count"`
	EmbeddingDim   int    `json:"embedding_dim"`
	EmbeddingModel string `json:"embedding_model"`
	Version        string `json:"version,omitempty"`
}

// Stats returns corpus statistics, triggering the lazy load if needed.
func (ix *Index) Stats() (Stats, error) {
	st, err := ix.ensure()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		DocumentCount:  len(st.entries),
		EmbeddingDim:   st.meta.EmbeddingDim,
		EmbeddingModel: st.meta.EmbeddingModel,
		Version:        st.meta.Version,
	}, nil
}

// norm returns the Euclidean norm of v.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// unitVector returns a unit-norm copy of q, or [ErrInvalidVector] when q has
// zero norm.
func unitVector(q []float32) ([]float32, error) {
	n := norm(q)
	if n == 0 {
		return nil, ErrInvalidVector
	}
	if math.Abs(n-1) <= 1e-4 {
		return q, nil
	}
	out := make([]float32, len(q))
	inv := float32(1 / n)
	for i, x := range q {
		out[i] = x * inv
	}
	return out, nil
}

// dot computes the dot product of two equal-length vectors in float64 to
// limit accumulation error.
func dot(a, b []float32) float64 {
	var sum float64
	for i, x := range a {
		sum += float64(x) * float64(b[i])
	}
	return sum
}
