package app

import (
	"context"
	"errors"

	"github.com/greenledger/esgmap/internal/observe"
	"github.com/greenledger/esgmap/pkg/provider/embeddings"
	"github.com/greenledger/esgmap/pkg/provider/llm"
)

// instrumentedEmbeddings counts embedding provider calls and errors under the
// configured provider name.
type instrumentedEmbeddings struct {
	embeddings.Provider
	name    string
	metrics *observe.Metrics
}

func (p instrumentedEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := p.Provider.EmbedQuery(ctx, text)
	p.record(ctx, err)
	return v, err
}

func (p instrumentedEmbeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := p.Provider.EmbedDocuments(ctx, texts)
	p.record(ctx, err)
	return v, err
}

func (p instrumentedEmbeddings) record(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, p.name, "embeddings")
	}
	p.metrics.RecordProviderRequest(ctx, p.name, "embeddings", status)
}

// instrumentedLLM counts LLM provider calls and errors under the configured
// provider name.
type instrumentedLLM struct {
	llm.Provider
	name    string
	metrics *observe.Metrics
}

func (p instrumentedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.Provider.Generate(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, p.name, "llm")
	}
	p.metrics.RecordProviderRequest(ctx, p.name, "llm", status)
	return resp, err
}

// disabledLLM stands in when no LLM provider is configured. Every call fails,
// so the adjudicator serves similarity-only fallback results.
type disabledLLM struct{}

func (disabledLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("no llm provider configured")
}

func (disabledLLM) ModelID() string { return "" }
