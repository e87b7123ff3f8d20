// Package gemini provides an LLM provider backed by the Google Generative
// Language API (generateContent).
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

	"github.com/greenledger/esgmap/pkg/provider/llm"
)

// DefaultBaseURL is the Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the default Gemini generation model.
const DefaultModel = "gemini-2.0-flash"

// Ensure Provider implements the llm.Provider interface at compile time.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the Gemini REST API.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type config struct {
	baseURL string
	timeout time.Duration
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

// New constructs a new Gemini Provider. If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini llm: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{baseURL: DefaultBaseURL}
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
		httpClient: httpClient,
	}, nil
}

type generationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type contentPart struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Contents []struct {
		Parts []contentPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	// Text is populated by some proxy deployments that flatten the response.
	// When present it takes precedence over the nested candidate structure.
	Text       string `json:"text"`
	Candidates []struct {
		Content struct {
			Parts []contentPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate implements llm.Provider using POST :generateContent.
//
// HTTP 429 responses are reported as [llm.ErrRateLimited]. A candidate with
// finishReason MAX_TOKENS is returned with its (likely truncated) text and
// [llm.FinishMaxTokens]; callers decide whether the text is salvageable.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("gemini llm: prompt must not be empty")
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini llm: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini llm: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gemini llm: %w", llm.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gemini llm: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gemini llm: decode response: %w", err)
	}

	return extractResponse(&result)
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) buildRequest(req llm.Request) generateRequest {
	var out generateRequest
	out.Contents = make([]struct {
		Parts []contentPart `json:"parts"`
	}, 1)
	out.Contents[0].Parts = []contentPart{{Text: req.Prompt}}

	out.GenerationConfig = generationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.JSONOutput {
		out.GenerationConfig.ResponseMimeType = "application/json"
	}

	// The adjudicator processes corporate disclosure text; default safety
	// filters occasionally flag passages about workplace incidents, so relax
	// them to BLOCK_ONLY_HIGH.
	out.SafetySettings = []safetySetting{
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
		{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
	}
	return out
}

// extractResponse pulls text and finish reason out of the API response,
// preferring the flat text field over the nested candidate structure.
func extractResponse(result *generateResponse) (*llm.Response, error) {
	out := &llm.Response{
		FinishReason: llm.FinishStop,
		Usage: llm.Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
	}

	if result.Text != "" {
		out.Text = result.Text
		return out, nil
	}

	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("gemini llm: no candidates in response")
	}
	cand := result.Candidates[0]
	out.FinishReason = mapFinishReason(cand.FinishReason)

	if len(cand.Content.Parts) == 0 {
		if out.FinishReason == llm.FinishSafety {
			return nil, fmt.Errorf("gemini llm: response blocked by safety filter")
		}
		return nil, fmt.Errorf("gemini llm: candidate has no content parts")
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	out.Text = sb.String()
	return out, nil
}

func mapFinishReason(reason string) llm.FinishReason {
	switch strings.ToUpper(reason) {
	case "", "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishMaxTokens
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return llm.FinishSafety
	default:
		return llm.FinishOther
	}
}
