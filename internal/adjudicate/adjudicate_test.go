package adjudicate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/provider/llm"
	llmmock "github.com/greenledger/esgmap/pkg/provider/llm/mock"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

func testCandidates() []vecindex.Candidate {
	return []vecindex.Candidate{
		{
			Entry: &corpus.Entry{
				ID:        "GRI 305-1",
				Framework: corpus.FrameworkGRI,
				Category:  corpus.CategoryEnvironment,
				Topic:     "Emissions",
				Title:     "Direct (Scope 1) GHG emissions",
				TitleKo:   "직접(Scope 1) 온실가스 배출",
				Keywords:  []string{"scope 1", "ghg"},
			},
			Similarity: 0.91,
		},
		{
			Entry: &corpus.Entry{
				ID:        "GRI 302-1",
				Framework: corpus.FrameworkGRI,
				Category:  corpus.CategoryEnvironment,
				Topic:     "Energy",
				Title:     "Energy consumption within the organization",
			},
			Similarity: 0.84,
		},
		{
			Entry: &corpus.Entry{
				ID:        "SASB EM-EP-110a.1",
				Framework: corpus.FrameworkSASB,
				Category:  corpus.CategoryEnvironment,
				Title:     "Gross global Scope 1 emissions",
			},
			Similarity: 0.78,
		},
	}
}

// fastAdjudicator keeps retry waits negligible in tests.
func fastAdjudicator(p llm.Provider, opts ...Option) *Adjudicator {
	base := []Option{WithBaseBackoff(time.Millisecond), WithMaxJitter(time.Millisecond)}
	return New(p, append(base, opts...)...)
}

func verdictJSON(t *testing.T, matches ...map[string]any) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"matches": matches,
		"summary": "Scope 1 emissions disclosure.",
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestAdjudicate_Success(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text: verdictJSON(t,
			map[string]any{"standard_id": "GRI 302-1", "confidence": 0.6, "reasoning": "partial"},
			map[string]any{"standard_id": "GRI 305-1", "confidence": 0.95, "reasoning": "direct"},
		),
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions were 12,000 tCO2e in 2025.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if out.Degraded {
		t.Error("outcome marked degraded on successful adjudication")
	}
	if len(out.Matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(out.Matches))
	}
	if out.Matches[0].StandardID != "GRI 305-1" {
		t.Errorf("matches not sorted by confidence: first is %s", out.Matches[0].StandardID)
	}
	if out.Matches[0].SimilarityScore != 0.91 {
		t.Errorf("similarity not carried from candidate: got %v", out.Matches[0].SimilarityScore)
	}
	if out.Matches[0].CategoryDisplay != "Environment" {
		t.Errorf("CategoryDisplay = %q", out.Matches[0].CategoryDisplay)
	}
	if out.Summary == "" {
		t.Error("summary missing")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
}

func TestAdjudicate_RequestShape(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text:         `{"matches": [], "summary": ""}`,
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	if _, err := a.Adjudicate(context.Background(), "short excerpt", "en", testCandidates()); err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}

	req := p.GenerateCalls[0].Req
	if !req.JSONOutput {
		t.Error("JSONOutput not requested")
	}
	if req.Temperature != defaultTemperature {
		t.Errorf("temperature = %v, want %v", req.Temperature, defaultTemperature)
	}
	if req.MaxOutputTokens != defaultMaxOutputTokens {
		t.Errorf("max output tokens = %d", req.MaxOutputTokens)
	}
	if !strings.Contains(req.Prompt, "GRI 305-1") || !strings.Contains(req.Prompt, "0.910") {
		t.Error("prompt missing candidate id or formatted similarity")
	}
}

func TestAdjudicate_KoreanPromptAndTitles(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text:         verdictJSON(t, map[string]any{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "직접 공시"}),
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "2025년 Scope 1 배출량은 12,000 tCO2e였습니다.", "ko", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if !strings.Contains(p.GenerateCalls[0].Req.Prompt, "공시 표준 전문가") {
		t.Error("korean prompt not used for lang=ko")
	}
	if out.Matches[0].Title != "직접(Scope 1) 온실가스 배출" {
		t.Errorf("title not localized: %q", out.Matches[0].Title)
	}
}

func TestAdjudicate_RetryThenSuccess(t *testing.T) {
	ok := &llm.Response{
		Text:         verdictJSON(t, map[string]any{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "direct"}),
		FinishReason: llm.FinishStop,
	}
	p := &llmmock.Provider{GenerateFunc: func(call int, _ llm.Request) (*llm.Response, error) {
		if call < 2 {
			return nil, errors.New("upstream 500")
		}
		return ok, nil
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions totals.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if out.Degraded {
		t.Error("degraded despite eventual success")
	}
	if p.CallCount() != 3 {
		t.Errorf("provider called %d times, want 3", p.CallCount())
	}
}

func TestAdjudicate_TruncationShrinksCandidateSet(t *testing.T) {
	ok := &llm.Response{
		Text:         verdictJSON(t, map[string]any{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "direct"}),
		FinishReason: llm.FinishStop,
	}
	p := &llmmock.Provider{GenerateFunc: func(call int, _ llm.Request) (*llm.Response, error) {
		if call == 0 {
			// Cut off before any value completes, so repair cannot help.
			return &llm.Response{Text: `{"matches`, FinishReason: llm.FinishMaxTokens}, nil
		}
		return ok, nil
	}}
	a := fastAdjudicator(p)

	if _, err := a.Adjudicate(context.Background(), "short", "en", testCandidates()); err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if p.CallCount() != 2 {
		t.Fatalf("provider called %d times, want 2", p.CallCount())
	}
	first, second := p.GenerateCalls[0].Req.Prompt, p.GenerateCalls[1].Req.Prompt
	if !strings.Contains(first, "SASB EM-EP-110a.1") {
		t.Error("first prompt missing last candidate")
	}
	if strings.Contains(second, "SASB EM-EP-110a.1") {
		t.Error("retry after truncation did not shrink the candidate set")
	}
}

func TestAdjudicate_RepairedTruncationSucceeds(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text:         `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8, "reasoning": "partial tex`,
		FinishReason: llm.FinishMaxTokens,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("repairable truncation retried: %d calls", p.CallCount())
	}
	if len(out.Matches) != 1 || out.Matches[0].StandardID != "GRI 305-1" {
		t.Fatalf("unexpected matches: %+v", out.Matches)
	}
	if out.Matches[0].Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", out.Matches[0].Confidence)
	}
}

func TestAdjudicate_FallbackAfterExhaustion(t *testing.T) {
	p := &llmmock.Provider{GenerateErr: errors.New("upstream down")}
	a := fastAdjudicator(p, WithMaxRetries(1))

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if !out.Degraded {
		t.Fatal("outcome not marked degraded")
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.CallCount())
	}
	if len(out.Matches) != 3 {
		t.Fatalf("got %d fallback matches, want 3", len(out.Matches))
	}
	want := 0.8 * 0.91
	if diff := out.Matches[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("top fallback confidence = %v, want %v", out.Matches[0].Confidence, want)
	}
	if out.Matches[0].Reasoning != fallbackReasoningEn {
		t.Errorf("fallback reasoning = %q", out.Matches[0].Reasoning)
	}
}

func TestAdjudicate_RateLimitedStillRetries(t *testing.T) {
	ok := &llm.Response{
		Text:         verdictJSON(t, map[string]any{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "direct"}),
		FinishReason: llm.FinishStop,
	}
	p := &llmmock.Provider{GenerateFunc: func(call int, _ llm.Request) (*llm.Response, error) {
		if call == 0 {
			return nil, llm.ErrRateLimited
		}
		return ok, nil
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if out.Degraded {
		t.Error("degraded after recoverable rate limit")
	}
}

func TestAdjudicate_CancellationDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmmock.Provider{GenerateFunc: func(int, llm.Request) (*llm.Response, error) {
		cancel()
		return nil, errors.New("upstream down")
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(ctx, "Scope 1 emissions.", "en", testCandidates())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(out.Matches) != 0 {
		t.Error("cancelled adjudication produced matches")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times after cancellation, want 1", p.CallCount())
	}
}

func TestAdjudicate_NoCandidates(t *testing.T) {
	p := &llmmock.Provider{}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "anything", "en", nil)
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if out.Matches == nil || len(out.Matches) != 0 {
		t.Errorf("want empty non-nil matches, got %#v", out.Matches)
	}
	if p.CallCount() != 0 {
		t.Error("provider called with no candidates")
	}
}

func TestAdjudicate_UnknownIDHandling(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text: verdictJSON(t,
			map[string]any{"standard_id": "GRI305-1", "confidence": 0.9, "reasoning": "missing space"},
			map[string]any{"standard_id": "TCFD GOV-Z", "confidence": 0.8, "reasoning": "hallucinated"},
		),
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if len(out.Matches) != 1 {
		t.Fatalf("got %d matches, want 1 (near miss kept, hallucination dropped)", len(out.Matches))
	}
	if out.Matches[0].StandardID != "GRI 305-1" {
		t.Errorf("near-miss resolved to %q", out.Matches[0].StandardID)
	}
}

func TestAdjudicate_ConfidenceClamped(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text: verdictJSON(t,
			map[string]any{"standard_id": "GRI 305-1", "confidence": 1.4, "reasoning": "over"},
			map[string]any{"standard_id": "GRI 302-1", "confidence": -0.2, "reasoning": "under"},
		),
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if out.Matches[0].Confidence != 1 || out.Matches[1].Confidence != 0 {
		t.Errorf("confidences not clamped: %v, %v", out.Matches[0].Confidence, out.Matches[1].Confidence)
	}
}

func TestAdjudicate_FencedResponse(t *testing.T) {
	p := &llmmock.Provider{GenerateResult: &llm.Response{
		Text: "```json\n" + verdictJSON(t,
			map[string]any{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "direct"},
		) + "\n```",
		FinishReason: llm.FinishStop,
	}}
	a := fastAdjudicator(p)

	out, err := a.Adjudicate(context.Background(), "Scope 1 emissions.", "en", testCandidates())
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if len(out.Matches) != 1 {
		t.Fatalf("fenced response not parsed: %+v", out.Matches)
	}
}

func TestCandidateBudget(t *testing.T) {
	tests := []struct {
		textLen int
		want    int
	}{
		{0, 5},
		{99, 5},
		{100, 4},
		{299, 4},
		{300, 3},
		{5000, 3},
	}
	for _, tt := range tests {
		if got := candidateBudget(tt.textLen); got != tt.want {
			t.Errorf("candidateBudget(%d) = %d, want %d", tt.textLen, got, tt.want)
		}
	}
}

func TestCapReasoning(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := capReasoning(long)
	if len(got) != reasoningCap {
		t.Errorf("len = %d, want %d", len(got), reasoningCap)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("missing ellipsis")
	}
	if s := "short enough"; capReasoning(s) != s {
		t.Error("short reasoning modified")
	}
}

func TestTruncateAtRune(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		limit int
		want  string
	}{
		{"under limit", "short", 10, "short"},
		{"ascii at limit", "abcdef", 3, "abc"},
		{"korean mid-rune", "온실가스", 7, "온실"},
		{"korean at boundary", "온실가스", 6, "온실"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateAtRune(tt.s, tt.limit)
			if got != tt.want {
				t.Errorf("truncateAtRune(%q, %d) = %q, want %q", tt.s, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result %q is not valid UTF-8", got)
			}
		})
	}
}

// TestNewMatch_KoreanDescriptionStaysValidUTF8 verifies the description cap
// never cuts through a Hangul syllable.
func TestNewMatch_KoreanDescriptionStaysValidUTF8(t *testing.T) {
	cand := vecindex.Candidate{
		Entry: &corpus.Entry{
			ID:            "GRI 305-1",
			Framework:     corpus.FrameworkGRI,
			Category:      corpus.CategoryEnvironment,
			Title:         "Direct (Scope 1) GHG emissions",
			TitleKo:       "직접(Scope 1) 온실가스 배출",
			DescriptionKo: strings.Repeat("온실가스 배출량 보고 ", 60),
		},
		Similarity: 0.9,
	}

	m := newMatch(cand, "ko", 0.8, "근거")
	if len(m.Description) > descriptionCap {
		t.Errorf("description length %d exceeds cap %d", len(m.Description), descriptionCap)
	}
	if !utf8.ValidString(m.Description) {
		t.Errorf("description is not valid UTF-8: %q", m.Description)
	}
}

// TestCandidateBlock_KoreanDescriptionStaysValidUTF8 covers the prompt-side
// description cap the same way.
func TestCandidateBlock_KoreanDescriptionStaysValidUTF8(t *testing.T) {
	c := vecindex.Candidate{
		Entry: &corpus.Entry{
			ID:            "GRI 305-1",
			Framework:     corpus.FrameworkGRI,
			TitleKo:       "직접(Scope 1) 온실가스 배출",
			DescriptionKo: strings.Repeat("배출량 산정 기준과 범위 ", 30),
		},
		Similarity: 0.9,
	}

	block := candidateBlock(0, c, "ko")
	if !utf8.ValidString(block) {
		t.Errorf("candidate block is not valid UTF-8: %q", block)
	}
}

func TestCapReasoning_KoreanStaysValidUTF8(t *testing.T) {
	got := capReasoning(strings.Repeat("온실가스", 50))
	if !utf8.ValidString(got) {
		t.Errorf("capped reasoning is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("missing ellipsis")
	}
	if len(got) > reasoningCap {
		t.Errorf("length %d exceeds cap %d", len(got), reasoningCap)
	}
}

func TestResolveStandardID(t *testing.T) {
	ids := []string{"GRI 305-1", "GRI 305-2", "SASB EM-EP-110a.1"}
	tests := []struct {
		name  string
		id    string
		want  string
		found bool
	}{
		{"case and spacing", "gri  305-1", "GRI 305-1", true},
		{"one edit", "GRI305-1", "GRI 305-1", true},
		{"ambiguous between siblings", "GRI 305-9", "", false},
		{"too far", "ESRS E1-6", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := resolveStandardID(tt.id, ids)
			if got != tt.want || found != tt.found {
				t.Errorf("resolveStandardID(%q) = %q, %v; want %q, %v", tt.id, got, found, tt.want, tt.found)
			}
		})
	}
}
