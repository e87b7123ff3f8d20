// Package adjudicate turns a query text and a shortlist of retrieved
// disclosure candidates into ranked, justified matches using an external LLM.
//
// The adjudicator owns the failure-handling depth of the mapping pipeline:
// bounded retry with exponential backoff and jitter, structural repair of
// responses truncated by the model's output-token limit, and a deterministic
// similarity-only fallback scorer that never fails. Callers receive a ranked
// result for every well-formed request unless the context is cancelled.
package adjudicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/provider/llm"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

// ErrTruncated indicates the model's response was cut off by its output-token
// limit and structural repair could not recover valid JSON. The retry loop
// reacts by resending with a smaller candidate set.
var ErrTruncated = errors.New("adjudicate: truncated response unrepairable")

// errEmptyResponse marks a response with no usable text.
var errEmptyResponse = errors.New("adjudicate: empty response")

const (
	// defaultMaxRetries is the number of additional attempts after the first.
	defaultMaxRetries = 3

	// defaultBaseBackoff doubles on each attempt.
	defaultBaseBackoff = 500 * time.Millisecond

	// defaultMaxJitter is added to every backoff to spread retries of
	// concurrent requests sharing one provider quota.
	defaultMaxJitter = 200 * time.Millisecond

	// defaultTemperature keeps repeated adjudications of the same excerpt
	// stable.
	defaultTemperature = 0.3

	// defaultMaxOutputTokens bounds the response; the repair path handles the
	// occasional overflow.
	defaultMaxOutputTokens = 4096

	// reasoningCap bounds reasoning text carried back to clients.
	reasoningCap = 500

	// descriptionCap bounds the per-match description field.
	descriptionCap = 500
)

// Match is one adjudicated disclosure standard.
type Match struct {
	StandardID      string           `json:"standard_id"`
	Framework       corpus.Framework `json:"framework"`
	Category        string           `json:"category"`
	CategoryDisplay string           `json:"category_display"`
	Topic           string           `json:"topic,omitempty"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Confidence      float64          `json:"confidence"`
	SimilarityScore float64          `json:"similarity_score"`
	Reasoning       string           `json:"reasoning"`
	Keywords        []string         `json:"keywords,omitempty"`
}

// Outcome is the result of one adjudication. Degraded reports that the LLM
// path failed and the matches were scored from vector similarity alone.
type Outcome struct {
	Matches  []Match
	Summary  string
	Degraded bool
}

// llmVerdict is the JSON shape the model is instructed to return.
type llmVerdict struct {
	Matches []struct {
		StandardID string  `json:"standard_id"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"matches"`
	Summary string `json:"summary"`
}

// Adjudicator scores candidate disclosure standards against a query text.
// It is safe for concurrent use.
type Adjudicator struct {
	provider        llm.Provider
	logger          *slog.Logger
	maxRetries      int
	baseBackoff     time.Duration
	maxJitter       time.Duration
	temperature     float64
	maxOutputTokens int
}

// Option is a functional option for Adjudicator.
type Option func(*Adjudicator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adjudicator) {
		a.logger = l
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(a *Adjudicator) {
		a.maxRetries = n
	}
}

// WithBaseBackoff sets the initial retry backoff. It doubles each attempt.
func WithBaseBackoff(d time.Duration) Option {
	return func(a *Adjudicator) {
		a.baseBackoff = d
	}
}

// WithMaxJitter sets the upper bound of the random delay added to each
// backoff.
func WithMaxJitter(d time.Duration) Option {
	return func(a *Adjudicator) {
		a.maxJitter = d
	}
}

// WithTemperature sets the generation temperature.
func WithTemperature(t float64) Option {
	return func(a *Adjudicator) {
		a.temperature = t
	}
}

// WithMaxOutputTokens caps the model's response length.
func WithMaxOutputTokens(n int) Option {
	return func(a *Adjudicator) {
		a.maxOutputTokens = n
	}
}

// New constructs an Adjudicator over the given LLM provider.
func New(provider llm.Provider, opts ...Option) *Adjudicator {
	a := &Adjudicator{
		provider:        provider,
		logger:          slog.Default(),
		maxRetries:      defaultMaxRetries,
		baseBackoff:     defaultBaseBackoff,
		maxJitter:       defaultMaxJitter,
		temperature:     defaultTemperature,
		maxOutputTokens: defaultMaxOutputTokens,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ModelID reports the identifier of the underlying LLM backend.
func (a *Adjudicator) ModelID() string {
	return a.provider.ModelID()
}

// Adjudicate scores candidates against text and returns ranked matches.
//
// The number of candidates actually sent to the model is throttled by text
// length (see candidateBudget); all candidates still participate in ID
// resolution and in the fallback path. lang selects the prompt and fallback
// language ("ko" or "en").
//
// All LLM-side failures degrade to similarity-only scoring; the only error
// returned is context cancellation, which aborts retries without falling
// back.
func (a *Adjudicator) Adjudicate(ctx context.Context, text, lang string, candidates []vecindex.Candidate) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{Matches: []Match{}}, nil
	}

	budget := candidateBudget(len(text))
	if budget > len(candidates) {
		budget = len(candidates)
	}

	verdict, err := a.callWithRetry(ctx, text, lang, candidates, budget)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		a.logger.Warn("llm adjudication failed, using similarity fallback", "error", err)
		return fallbackOutcome(candidates, lang), nil
	}

	return a.resolveVerdict(verdict, lang, candidates), nil
}

// callWithRetry drives the retry state machine. A truncated response that
// cannot be repaired shrinks the candidate set by one before the next
// attempt; other transient errors resend unchanged. Rate-limited errors wait
// twice the current backoff.
func (a *Adjudicator) callWithRetry(ctx context.Context, text, lang string, candidates []vecindex.Candidate, budget int) (*llmVerdict, error) {
	backoff := a.baseBackoff
	var lastErr error

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if llm.IsRateLimited(lastErr) {
				wait *= 2
			}
			wait += rand.N(a.maxJitter + 1)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		verdict, err := a.callOnce(ctx, text, lang, candidates[:budget])
		if err == nil {
			return verdict, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		a.logger.Warn("adjudication attempt failed",
			"attempt", attempt+1,
			"candidates", budget,
			"error", err,
		)

		// A response the model could not fit into its token budget will not
		// fit on an identical retry either; shrink the prompt instead.
		if errors.Is(err, ErrTruncated) && budget > 1 {
			budget--
		}
	}
	return nil, fmt.Errorf("adjudicate: %d attempts exhausted: %w", a.maxRetries+1, lastErr)
}

// callOnce performs a single LLM round trip including extraction and repair.
func (a *Adjudicator) callOnce(ctx context.Context, text, lang string, candidates []vecindex.Candidate) (*llmVerdict, error) {
	prompt := buildPrompt(text, lang, candidates)

	resp, err := a.provider.Generate(ctx, llm.Request{
		Prompt:          prompt,
		Temperature:     a.temperature,
		MaxOutputTokens: a.maxOutputTokens,
		JSONOutput:      true,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, errEmptyResponse
	}

	raw := extractJSON(resp.Text)
	if resp.FinishReason == llm.FinishMaxTokens {
		repaired, err := repairTruncated(raw)
		if err != nil {
			return nil, err
		}
		raw = repaired
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		// The code-fence stripper already ran; an unparseable body that was
		// not flagged as truncated may still be cut off mid-structure.
		repaired, repErr := repairTruncated(raw)
		if repErr != nil {
			return nil, fmt.Errorf("adjudicate: parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
			return nil, fmt.Errorf("adjudicate: parse repaired response: %w", err)
		}
	}
	return &verdict, nil
}

// resolveVerdict joins the model's verdict back to the retrieved candidates,
// clamps confidences, caps reasoning, and sorts by confidence descending.
// Matches naming standards absent from the candidate list are resolved by a
// bounded edit distance when possible and dropped otherwise.
func (a *Adjudicator) resolveVerdict(verdict *llmVerdict, lang string, candidates []vecindex.Candidate) Outcome {
	byID := make(map[string]vecindex.Candidate, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		byID[c.Entry.ID] = c
		ids = append(ids, c.Entry.ID)
	}

	matches := make([]Match, 0, len(verdict.Matches))
	for _, m := range verdict.Matches {
		id := strings.TrimSpace(m.StandardID)
		cand, ok := byID[id]
		if !ok {
			resolved, found := resolveStandardID(id, ids)
			if !found {
				a.logger.Warn("llm returned unknown standard id", "standard_id", id)
				continue
			}
			id = resolved
			cand = byID[id]
		}

		matches = append(matches, newMatch(cand, lang, clamp01(m.Confidence), capReasoning(m.Reasoning)))
	}

	sortMatches(matches)
	return Outcome{
		Matches: matches,
		Summary: verdict.Summary,
	}
}

// newMatch assembles the externally visible match from a retrieved candidate.
func newMatch(c vecindex.Candidate, lang string, confidence float64, reasoning string) Match {
	e := c.Entry
	description := truncateAtRune(e.LocalizedDescription(lang), descriptionCap)
	return Match{
		StandardID:      e.ID,
		Framework:       e.Framework,
		Category:        string(e.Category),
		CategoryDisplay: e.Category.Display(),
		Topic:           e.Topic,
		Title:           e.LocalizedTitle(lang),
		Description:     description,
		Confidence:      confidence,
		SimilarityScore: c.Similarity,
		Reasoning:       reasoning,
		Keywords:        e.Keywords,
	}
}

// sortMatches orders by confidence descending, stable with respect to the
// verdict order for ties.
func sortMatches(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Confidence > matches[j-1].Confidence; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// capReasoning truncates overlong reasoning text with an ellipsis marker.
func capReasoning(s string) string {
	if len(s) <= reasoningCap {
		return s
	}
	return truncateAtRune(s, reasoningCap-3) + "..."
}

// truncateAtRune caps s at limit bytes without splitting a multi-byte rune.
// Korean descriptions are 3 bytes per syllable, so a plain byte slice at the
// cap would regularly produce invalid UTF-8.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
