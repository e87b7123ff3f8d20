// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (e.g., Google Gemini, OpenAI,
// Anthropic) and exposes a uniform single-shot generation interface for the
// mapping adjudicator. The adjudicator builds one self-contained prompt per
// request and expects a JSON object back, so the interface carries a prompt
// string rather than a conversation history.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited indicates the backend rejected the request due to quota or
// rate limits. Callers retry these with a longer backoff than other transient
// failures. Implementations wrap this sentinel so callers can test with
// [errors.Is].
var ErrRateLimited = errors.New("llm: rate limited")

// IsRateLimited reports whether err indicates a provider rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	// FinishStop is a natural end of generation.
	FinishStop FinishReason = "stop"
	// FinishMaxTokens means the output token cap was reached; the response
	// text is very likely truncated mid-structure.
	FinishMaxTokens FinishReason = "max_tokens"
	// FinishSafety means the backend suppressed the output.
	FinishSafety FinishReason = "safety"
	// FinishOther covers provider-specific reasons not mapped above.
	FinishOther FinishReason = "other"
)

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Request carries everything the model needs for one generation call.
type Request struct {
	// Prompt is the full self-contained prompt text. Must not be empty.
	Prompt string

	// Temperature controls output randomness. Zero means the backend's
	// default; callers wanting determinism should set a low value.
	Temperature float64

	// MaxOutputTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxOutputTokens int

	// JSONOutput requests that the backend constrain the response to valid
	// JSON where the provider supports a response MIME type or JSON mode.
	// Backends without such a mode ignore this field; the caller repairs
	// malformed output regardless.
	JSONOutput bool
}

// Response is the outcome of a single generation call.
type Response struct {
	// Text is the raw response text. It may be truncated when FinishReason is
	// FinishMaxTokens.
	Text string

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must return promptly when ctx is cancelled.
type Provider interface {
	// Generate sends req to the model and waits for the full response.
	//
	// Rate-limit rejections are reported by wrapping [ErrRateLimited]. Other
	// errors indicate transport failures, invalid credentials, or cancelled
	// contexts.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the provider-specific model identifier used for
	// generation (e.g., "gemini-2.0-flash"). Useful for logging.
	ModelID() string
}
