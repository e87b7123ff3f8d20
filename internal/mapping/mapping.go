// Package mapping orchestrates the disclosure-mapping pipeline: request
// validation, query embedding, vector retrieval, and LLM adjudication, in
// that order, with per-stage timing captured in the response metadata.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/greenledger/esgmap/internal/adjudicate"
	"github.com/greenledger/esgmap/internal/observe"
	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/provider/embeddings"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

var (
	// ErrInvalidRequest marks caller mistakes. It is never retried and always
	// wrapped in a *ValidationError naming the violated fields.
	ErrInvalidRequest = errors.New("mapping: invalid request")

	// ErrMappingUnavailable marks total pipeline failure before any ranked
	// result could be produced, such as the embedding backend being down or
	// the corpus being unloadable.
	ErrMappingUnavailable = errors.New("mapping: unavailable")
)

const (
	minTextLen = 10
	maxTextLen = 10000

	minTopK     = 1
	maxTopK     = 20
	defaultTopK = 5

	defaultMinConfidence = 0.5
	defaultLanguage      = "ko"

	// overfetchCap bounds how many candidates retrieval may hand the
	// adjudicator regardless of top_k.
	overfetchCap = 20
)

// Request is the input contract for one mapping call. Zero values for TopK,
// MinConfidence, and Language select the defaults.
type Request struct {
	Text string `json:"text"`

	// Frameworks optionally restricts retrieval to the named frameworks.
	Frameworks []string `json:"frameworks,omitempty"`

	TopK int `json:"top_k,omitempty"`

	// MinConfidence filters adjudicated matches. Nil selects the default;
	// an explicit 0 disables filtering.
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Language is "ko" or "en" and controls prompt and result localization.
	Language string `json:"language,omitempty"`
}

// ValidationError lists every violated field constraint of a Request.
// It wraps ErrInvalidRequest.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "mapping: invalid request: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// Metadata describes how a response was produced. Durations are in seconds
// rounded to the millisecond.
type Metadata struct {
	CandidateCount int `json:"candidate_count"`
	SelectedCount  int `json:"selected_count"`

	EmbedSeconds      float64 `json:"embed_seconds"`
	RetrieveSeconds   float64 `json:"retrieve_seconds"`
	AdjudicateSeconds float64 `json:"adjudicate_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`

	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model,omitempty"`

	// Degraded reports that matches were scored by similarity alone because
	// the LLM path failed.
	Degraded bool `json:"degraded"`
}

// Response is the output contract for one mapping call.
type Response struct {
	Matches  []adjudicate.Match `json:"matches"`
	Summary  string             `json:"summary,omitempty"`
	Metadata Metadata           `json:"metadata"`
}

// Adjudicator is the slice of [adjudicate.Adjudicator] the orchestrator
// depends on.
type Adjudicator interface {
	Adjudicate(ctx context.Context, text, lang string, candidates []vecindex.Candidate) (adjudicate.Outcome, error)
	ModelID() string
}

// Orchestrator runs the mapping pipeline. It is safe for concurrent use; all
// state is in the injected collaborators.
type Orchestrator struct {
	embedder    embeddings.Provider
	index       vecindex.Searcher
	adjudicator Adjudicator
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics enables per-stage latency histograms and the mapping request
// counter. Nil (the default) disables instrumentation, which keeps tests free
// of meter-provider setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New constructs an Orchestrator over the given pipeline stages.
func New(embedder embeddings.Provider, index vecindex.Searcher, adjudicator Adjudicator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		embedder:    embedder,
		index:       index,
		adjudicator: adjudicator,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Map executes the pipeline for one request.
//
// Errors are limited to *ValidationError (wrapping ErrInvalidRequest),
// ErrMappingUnavailable, and context cancellation. LLM-side failures never
// surface as errors; they produce a degraded response instead.
func (o *Orchestrator) Map(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req = req.withDefaults()
	frameworks, verr := req.validate()
	if verr != nil {
		return nil, verr
	}

	embedStart := time.Now()
	embedCtx, embedSpan := observe.StartStage(ctx, observe.StageEmbed)
	query, err := o.embedder.EmbedQuery(embedCtx, req.Text)
	embedSpan.End()
	if err != nil {
		o.recordOutcome(ctx, start, "error", false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: embed query: %v", ErrMappingUnavailable, err)
	}
	embedElapsed := time.Since(embedStart)
	if o.metrics != nil {
		o.metrics.EmbedDuration.Record(ctx, embedElapsed.Seconds())
	}

	retrieveStart := time.Now()
	fetch := req.TopK * 2
	if fetch > overfetchCap {
		fetch = overfetchCap
	}
	retrieveCtx, retrieveSpan := observe.StartStage(ctx, observe.StageRetrieve)
	candidates, err := o.index.Query(retrieveCtx, query, fetch, 0, frameworks)
	retrieveSpan.End()
	if err != nil {
		o.recordOutcome(ctx, start, "error", false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: retrieve candidates: %v", ErrMappingUnavailable, err)
	}
	retrieveElapsed := time.Since(retrieveStart)
	if o.metrics != nil {
		o.metrics.RetrieveDuration.Record(ctx, retrieveElapsed.Seconds())
	}

	meta := Metadata{
		CandidateCount: len(candidates),
		EmbeddingModel: o.embedder.ModelID(),
	}

	if len(candidates) == 0 {
		meta.EmbedSeconds = stageSeconds(embedElapsed)
		meta.RetrieveSeconds = stageSeconds(retrieveElapsed)
		meta.TotalSeconds = stageSeconds(time.Since(start))
		o.recordOutcome(ctx, start, "ok", false)
		return &Response{Matches: []adjudicate.Match{}, Metadata: meta}, nil
	}

	adjStart := time.Now()
	adjCtx, adjSpan := observe.StartStage(ctx, observe.StageAdjudicate)
	outcome, err := o.adjudicator.Adjudicate(adjCtx, req.Text, req.Language, candidates)
	adjSpan.End()
	if err != nil {
		// The adjudicator absorbs its own failures; an error here is
		// cancellation.
		o.recordOutcome(ctx, start, "error", false)
		return nil, err
	}
	adjElapsed := time.Since(adjStart)
	if o.metrics != nil {
		o.metrics.AdjudicateDuration.Record(ctx, adjElapsed.Seconds())
	}

	matches := selectMatches(outcome.Matches, *req.MinConfidence, req.TopK)

	meta.SelectedCount = len(matches)
	meta.EmbedSeconds = stageSeconds(embedElapsed)
	meta.RetrieveSeconds = stageSeconds(retrieveElapsed)
	meta.AdjudicateSeconds = stageSeconds(adjElapsed)
	meta.TotalSeconds = stageSeconds(time.Since(start))
	meta.LLMModel = o.adjudicator.ModelID()
	meta.Degraded = outcome.Degraded

	o.recordOutcome(ctx, start, "ok", meta.Degraded)

	o.logger.Info("mapping completed",
		"candidates", meta.CandidateCount,
		"selected", meta.SelectedCount,
		"degraded", meta.Degraded,
		"total_seconds", meta.TotalSeconds,
	)

	return &Response{
		Matches:  matches,
		Summary:  outcome.Summary,
		Metadata: meta,
	}, nil
}

// withDefaults fills unset optional fields.
func (r Request) withDefaults() Request {
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if r.MinConfidence == nil {
		v := defaultMinConfidence
		r.MinConfidence = &v
	}
	if r.Language == "" {
		r.Language = defaultLanguage
	}
	return r
}

// validate checks every field constraint and parses the framework allow-list.
// All violations are collected so the caller sees the full list at once.
func (r Request) validate() ([]corpus.Framework, *ValidationError) {
	var violations []string

	if n := utf8.RuneCountInString(r.Text); n < minTextLen || n > maxTextLen {
		violations = append(violations,
			fmt.Sprintf("text: length %d outside [%d, %d]", n, minTextLen, maxTextLen))
	}
	if r.TopK < minTopK || r.TopK > maxTopK {
		violations = append(violations,
			fmt.Sprintf("top_k: %d outside [%d, %d]", r.TopK, minTopK, maxTopK))
	}
	if c := *r.MinConfidence; c < 0 || c > 1 {
		violations = append(violations,
			fmt.Sprintf("min_confidence: %v outside [0, 1]", c))
	}
	if r.Language != "ko" && r.Language != "en" {
		violations = append(violations,
			fmt.Sprintf("language: %q not one of ko, en", r.Language))
	}

	var frameworks []corpus.Framework
	for _, f := range r.Frameworks {
		parsed, err := corpus.ParseFramework(f)
		if err != nil {
			violations = append(violations, fmt.Sprintf("frameworks: unknown framework %q", f))
			continue
		}
		frameworks = append(frameworks, parsed)
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return frameworks, nil
}

// selectMatches applies the caller's confidence floor and result cap. The
// input is already sorted by confidence descending.
func selectMatches(matches []adjudicate.Match, minConfidence float64, topK int) []adjudicate.Match {
	selected := make([]adjudicate.Match, 0, topK)
	for _, m := range matches {
		if m.Confidence < minConfidence {
			continue
		}
		selected = append(selected, m)
		if len(selected) == topK {
			break
		}
	}
	return selected
}

// recordOutcome records the end-to-end latency and the request counter for
// one mapping call. No-op when metrics are disabled.
func (o *Orchestrator) recordOutcome(ctx context.Context, start time.Time, status string, degraded bool) {
	if o.metrics == nil {
		return
	}
	o.metrics.MappingDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.RecordMapping(ctx, status, degraded)
}

// stageSeconds converts a stage duration to seconds rounded to the
// millisecond.
func stageSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
