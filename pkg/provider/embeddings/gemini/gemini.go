// Package gemini provides an embeddings provider backed by the Google
// Generative Language API (gemini-embedding-001 and friends).
//
// Gemini embedding models are retrieval-aware: the API distinguishes
// RETRIEVAL_QUERY from RETRIEVAL_DOCUMENT task types, and the output
// dimensionality can be reduced server-side so vectors stay compatible with a
// corpus built by a smaller local model (e.g. 768 dims for e5-base parity).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/greenledger/esgmap/pkg/provider/embeddings"
)

// DefaultBaseURL is the Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the default Gemini embeddings model.
const DefaultModel = "gemini-embedding-001"

// DefaultDimensions is the reduced output dimensionality requested from the
// API. It matches the multilingual-e5-base corpus space.
const DefaultDimensions = 768

// maxBatchSize is the API limit on requests per batchEmbedContents call.
const maxBatchSize = 100

// Chunk retry policy for EmbedDocuments. Corpus indexing issues many chunks
// per run, so a single flaky chunk should not throw the whole batch away.
const (
	chunkRetries      = 2
	chunkRetryBackoff = 250 * time.Millisecond
)

// Task types understood by the embedContents API.
const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// Ensure Provider implements the embeddings.Provider interface at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the Gemini REST API.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

type config struct {
	baseURL    string
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default API base URL. Intended for tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions overrides the requested output dimensionality.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a new Gemini embeddings Provider. If model is empty,
// DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		baseURL:    DefaultBaseURL,
		dimensions: DefaultDimensions,
	}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: cfg.dimensions,
		httpClient: httpClient,
	}, nil
}

// contentPart mirrors the API's Content.parts[].text shape.
type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type embedContentRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embeddingValues struct {
	Values []float32 `json:"values"`
}

type batchEmbedResponse struct {
	Embeddings []embeddingValues `json:"embeddings"`
}

// EmbedQuery implements embeddings.Provider using the RETRIEVAL_QUERY task
// type. Gemini does not guarantee unit vectors at reduced dimensionality, so
// the result is L2-normalized.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callBatch(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("gemini embeddings: embed query: empty response")
	}
	return embeddings.NormalizeL2(vecs[0]), nil
}

// EmbedDocuments implements embeddings.Provider using the RETRIEVAL_DOCUMENT
// task type. Inputs are split into API-sized chunks; the chunks are issued
// sequentially and the results concatenated in input order. Each chunk is
// retried independently with a short backoff, so a transient failure on one
// chunk does not discard the work already done for the others.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("gemini embeddings: embed documents [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return embeddings.NormalizeAllL2(out), nil
}

// embedChunk embeds one API-sized chunk, retrying up to chunkRetries times.
// Context cancellation aborts both the call and the backoff sleep.
func (p *Provider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= chunkRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(chunkRetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		vecs, err := p.callBatch(ctx, texts, taskDocument)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
		}
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Dimensions implements embeddings.Provider by returning the requested output
// dimensionality.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// callBatch sends a POST :batchEmbedContents request for texts and returns
// the vectors in input order.
func (p *Provider) callBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	reqBody := batchEmbedRequest{
		Requests: make([]embedContentRequest, len(texts)),
	}
	for i, t := range texts {
		reqBody.Requests[i] = embedContentRequest{
			Model:                "models/" + p.model,
			Content:              content{Parts: []contentPart{{Text: t}}},
			TaskType:             taskType,
			OutputDimensionality: p.dimensions,
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", p.baseURL, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result batchEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}
