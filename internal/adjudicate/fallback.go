package adjudicate

import "github.com/greenledger/esgmap/pkg/vecindex"

// fallbackWeights discounts vector similarity into a confidence score by
// rank. Without the LLM's judgement a high similarity is weaker evidence, so
// even the top candidate is capped below the direct-match confidence band.
var fallbackWeights = [...]float64{0.8, 0.7, 0.6, 0.5, 0.4}

const (
	fallbackReasoningEn = "Selected by semantic similarity; detailed analysis was unavailable."
	fallbackReasoningKo = "의미 유사도 기반으로 선정되었습니다. 상세 분석은 제공되지 않았습니다."
	fallbackSummaryEn   = "Matches were ranked by semantic similarity only."
	fallbackSummaryKo   = "의미 유사도만으로 매칭 결과를 정렬했습니다."
)

// fallbackOutcome ranks the top candidates by similarity alone. It never
// fails and always returns at least one match when candidates is non-empty,
// so LLM outages degrade service quality rather than availability.
func fallbackOutcome(candidates []vecindex.Candidate, lang string) Outcome {
	n := len(candidates)
	if n > len(fallbackWeights) {
		n = len(fallbackWeights)
	}

	reasoning := fallbackReasoningEn
	summary := fallbackSummaryEn
	if lang == "ko" {
		reasoning = fallbackReasoningKo
		summary = fallbackSummaryKo
	}

	matches := make([]Match, 0, n)
	for i := 0; i < n; i++ {
		c := candidates[i]
		confidence := fallbackWeights[i] * clamp01(c.Similarity)
		matches = append(matches, newMatch(c, lang, confidence, reasoning))
	}

	return Outcome{
		Matches:  matches,
		Summary:  summary,
		Degraded: true,
	}
}
