// Package local provides an embeddings provider backed by a locally hosted
// embedding server speaking the Ollama /api/embed protocol.
//
// The default model family is multilingual-e5, which is retrieval-tuned and
// expects asymmetric prefixes: queries are embedded as "query: <text>" and
// corpus passages as "passage: <text>". The provider applies these prefixes
// itself, so callers pass raw text.
//
// Example usage:
//
//	p, err := local.New("", "multilingual-e5-base") // http://localhost:11434
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := p.EmbedQuery(ctx, "Scope 1 greenhouse gas emissions totalled…")
//
// Only standard library packages are used beyond the provider interface.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/greenledger/esgmap/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running embedding server.
const DefaultBaseURL = "http://localhost:11434"

// Prefixes expected by e5-family retrieval models.
const (
	queryPrefix   = "query: "
	passagePrefix = "passage: "
)

// Ensure Provider implements the embeddings.Provider interface at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local embedding server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions option (highest priority).
//  2. Look-up in the built-in knownDimensions table for recognised model names.
//  3. Auto-detection: a single probe embed is issued on the first Dimensions
//     call and the length of the returned vector is cached for the lifetime of
//     the Provider.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	// dimensions holds the resolved vector length. When zero after
	// construction, it is populated lazily by detectOnce.
	dimensions int
	detectOnce sync.Once
	detectErr  error
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension, bypassing the look-up table
// and avoiding the probe request that Dimensions() would otherwise issue for
// unknown models on first call.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a new local embedding Provider.
//
// baseURL is the base URL of the embedding server. If empty, DefaultBaseURL is
// used. A trailing slash is stripped automatically.
//
// model is the model name to use for embeddings (e.g.,
// "multilingual-e5-base"). It must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("local embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}

	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}

	return p, nil
}

// embedRequest is the JSON request body sent to the server's /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON response body returned by /api/embed.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery implements embeddings.Provider. The text is embedded with the
// e5 "query: " prefix and the result is L2-normalized, since inference
// servers are not consistent about returning unit vectors.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{queryPrefix + text})
	if err != nil {
		return nil, fmt.Errorf("local embeddings: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("local embeddings: embed query: empty response")
	}
	return embeddings.NormalizeL2(vecs[0]), nil
}

// EmbedDocuments implements embeddings.Provider. Each text is embedded with
// the e5 "passage: " prefix in a single server request.
//
// The returned slice has the same length as texts and is ordered identically.
// On any error, nil is returned. Passing a nil or empty texts slice returns
// (nil, nil) without issuing any network request.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = passagePrefix + t
	}
	vecs, err := p.callEmbed(ctx, prefixed)
	if err != nil {
		return nil, fmt.Errorf("local embeddings: embed documents: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("local embeddings: embed documents: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return embeddings.NormalizeAllL2(vecs), nil
}

// Dimensions implements embeddings.Provider.
//
// The value is resolved in the following order:
//  1. Explicitly configured value (via WithDimensions).
//  2. Built-in table for known model names (multilingual-e5-base → 768, etc.).
//  3. Auto-detection: a probe embed is issued once against the live server and
//     the dimension is inferred from the vector length. The result is cached;
//     if the probe fails, 0 is returned.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		vecs, err := p.callEmbed(context.Background(), []string{queryPrefix + "probe"})
		if err != nil {
			p.detectErr = err
			return
		}
		if len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider by returning the model name supplied
// at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

// callEmbed sends a POST /api/embed request to the server and returns the raw
// embedding vectors. It respects context cancellation via
// http.NewRequestWithContext.
func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the well-known output dimension for recognised
// embedding model names. Returns 0 for unknown models, which triggers
// auto-detection on the first Dimensions() call.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "e5-large"):
		return 1024
	case strings.Contains(lower, "e5-base"):
		return 768
	case strings.Contains(lower, "e5-small"):
		return 384
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	default:
		return 0 // will be probed on first Dimensions() call
	}
}
