// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (e.g., the multilingual-e5 family served locally, Gemini
// gemini-embedding-001, or OpenAI text-embedding-3). These vectors are used by
// the disclosure index for semantic retrieval of candidate standards.
//
// Retrieval-tuned models distinguish between the short free-text query and the
// corpus passages being searched, so the interface carries that distinction
// instead of a single Embed method. Implementations apply any model-specific
// formatting (such as e5's "query: " / "passage: " prefixes) themselves.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the
// same dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in the same similarity computation unless both
// use the same model and space.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// EmbedQuery computes the embedding vector for a single retrieval query.
	// Returns a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled. The vector is L2-normalized, so dot products
	// against corpus vectors are cosine similarities.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments computes embedding vectors for a slice of corpus passages
	// in a single provider call, which is typically far more efficient than
	// calling EmbedQuery in a loop. The returned slice has the same length as
	// texts and the i-th element corresponds to texts[i]; every vector is
	// L2-normalized.
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned — on error the entire slice is nil.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider. The value is determined by the underlying model and is
	// constant for the lifetime of the Provider instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for
	// embeddings (e.g., "intfloat/multilingual-e5-base",
	// "gemini-embedding-001"). Useful for logging and for verifying that query
	// vectors match the corpus' embedding space.
	ModelID() string
}
