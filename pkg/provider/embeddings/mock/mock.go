// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned embedding vectors without a live model
// and to verify that the correct texts are submitted for embedding.
//
// Example:
//
//	p := &mock.Provider{
//	    QueryResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	}
//	vec, _ := p.EmbedQuery(ctx, "hello world")
package mock

import (
	"context"
	"sync"

	"github.com/greenledger/esgmap/pkg/provider/embeddings"
)

// QueryCall records a single invocation of EmbedQuery.
type QueryCall struct {
	// Ctx is the context passed to EmbedQuery.
	Ctx context.Context
	// Text is the string passed to EmbedQuery.
	Text string
}

// DocumentsCall records a single invocation of EmbedDocuments.
type DocumentsCall struct {
	// Ctx is the context passed to EmbedDocuments.
	Ctx context.Context
	// Texts is a copy of the string slice passed to EmbedDocuments.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// QueryResult is returned by EmbedQuery. If nil, a zero-length slice is
	// returned.
	QueryResult []float32

	// QueryFunc, if non-nil, overrides QueryResult and is invoked per call.
	QueryFunc func(text string) ([]float32, error)

	// QueryErr, if non-nil, is returned as the error from EmbedQuery.
	QueryErr error

	// DocumentsResult is returned by EmbedDocuments. If nil, a slice of nil
	// slices matching the input length is returned.
	DocumentsResult [][]float32

	// DocumentsErr, if non-nil, is returned as the error from EmbedDocuments.
	DocumentsErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// QueryCalls records every call to EmbedQuery in order.
	QueryCalls []QueryCall

	// DocumentsCalls records every call to EmbedDocuments in order.
	DocumentsCalls []DocumentsCall
}

// EmbedQuery records the call and returns QueryResult, QueryErr (or defers to
// QueryFunc when set).
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryCalls = append(p.QueryCalls, QueryCall{Ctx: ctx, Text: text})
	if p.QueryFunc != nil {
		return p.QueryFunc(text)
	}
	return p.QueryResult, p.QueryErr
}

// EmbedDocuments records the call and returns DocumentsResult, DocumentsErr.
// If DocumentsResult is nil, it returns a slice of nil slices matching the
// length of texts.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.DocumentsCalls = append(p.DocumentsCalls, DocumentsCall{Ctx: ctx, Texts: cp})
	if p.DocumentsErr != nil {
		return nil, p.DocumentsErr
	}
	if p.DocumentsResult != nil {
		return p.DocumentsResult, nil
	}
	// Return a slice of nil slices so the caller gets the right length.
	result := make([][]float32, len(texts))
	return result, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryCalls = nil
	p.DocumentsCalls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
