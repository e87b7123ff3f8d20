package adjudicate

import (
	"fmt"
	"strings"

	"github.com/greenledger/esgmap/pkg/vecindex"
)

// promptDescriptionCap bounds each candidate description inside the prompt so
// long corpus entries do not crowd out the excerpt being classified.
const promptDescriptionCap = 150

// candidateBudget throttles how many candidates are presented to the model.
// Short excerpts carry little signal, so they get more candidates to choose
// from; long excerpts are specific enough that fewer suffice, and the saved
// tokens lower the truncation risk.
func candidateBudget(textLen int) int {
	switch {
	case textLen < 100:
		return 5
	case textLen < 300:
		return 4
	default:
		return 3
	}
}

// buildPrompt renders the adjudication prompt in the requested language.
// lang is "ko" or "en"; anything else falls back to English.
func buildPrompt(text, lang string, candidates []vecindex.Candidate) string {
	if lang == "ko" {
		return buildPromptKo(text, candidates)
	}
	return buildPromptEn(text, candidates)
}

// candidateBlock renders one retrieved standard as a numbered prompt section.
func candidateBlock(i int, c vecindex.Candidate, lang string) string {
	e := c.Entry
	desc := e.LocalizedDescription(lang)
	if len(desc) > promptDescriptionCap {
		desc = truncateAtRune(desc, promptDescriptionCap) + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, e.Framework, e.ID, e.LocalizedTitle(lang))
	if desc != "" {
		fmt.Fprintf(&b, "   Description: %s\n", desc)
	}
	if len(e.Keywords) > 0 {
		fmt.Fprintf(&b, "   Keywords: %s\n", strings.Join(e.Keywords, ", "))
	}
	fmt.Fprintf(&b, "   Vector similarity: %.3f\n", c.Similarity)
	return b.String()
}

func renderCandidates(candidates []vecindex.Candidate, lang string) string {
	var b strings.Builder
	for i, c := range candidates {
		b.WriteString(candidateBlock(i, c, lang))
	}
	return b.String()
}

func buildPromptEn(text string, candidates []vecindex.Candidate) string {
	return fmt.Sprintf(`You are an ESG disclosure standards expert. Determine which of the candidate disclosure standards below genuinely apply to the given sustainability report text.

Text to classify:
"""
%s
"""

Candidate standards (retrieved by semantic similarity):
%s
Instructions:
- Select only standards whose disclosure requirements the text actually addresses. Do not include a standard merely because its topic is adjacent.
- Select at most 5 standards.
- Assign each selected standard a confidence score:
  * 0.9-1.0: the text directly and explicitly addresses this disclosure requirement
  * 0.7-0.9: the text clearly relates to this requirement with strong topical overlap
  * 0.5-0.7: the text partially addresses this requirement
  * below 0.5: weak or speculative relation; prefer to omit
- For each selection give one or two sentences of reasoning grounded in the text.
- Finish with a one-sentence summary of what the text discloses.

Respond with JSON only, no markdown fences, no commentary, exactly this shape:
{"matches": [{"standard_id": "...", "confidence": 0.0, "reasoning": "..."}], "summary": "..."}
Use the standard_id values exactly as given above.`, text, renderCandidates(candidates, "en"))
}

func buildPromptKo(text string, candidates []vecindex.Candidate) string {
	return fmt.Sprintf(`당신은 ESG 공시 표준 전문가입니다. 아래 지속가능경영보고서 텍스트에 실제로 해당하는 공시 표준을 후보 중에서 판별하세요.

분류할 텍스트:
"""
%s
"""

후보 표준 (의미 유사도 기준 검색 결과):
%s
지침:
- 텍스트가 실제로 다루는 공시 요구사항의 표준만 선택하세요. 주제가 비슷하다는 이유만으로 포함하지 마세요.
- 최대 3개의 표준만 선택하세요.
- 선택한 각 표준에 신뢰도 점수를 부여하세요:
  * 0.9-1.0: 텍스트가 해당 공시 요구사항을 직접적이고 명시적으로 다룸
  * 0.7-0.9: 텍스트가 해당 요구사항과 명확히 관련되고 주제가 강하게 겹침
  * 0.5-0.7: 텍스트가 해당 요구사항을 부분적으로 다룸
  * 0.5 미만: 관련성이 약하거나 추측에 불과함, 가급적 제외
- 선택 근거를 텍스트에 기반해 한두 문장으로 작성하세요. 전체 응답은 500토큰 이내로 간결하게 작성하세요.
- 마지막에 텍스트가 공시하는 내용을 한 문장으로 요약하세요.

마크다운 펜스나 설명 없이 JSON만, 정확히 다음 형태로 응답하세요:
{"matches": [{"standard_id": "...", "confidence": 0.0, "reasoning": "..."}], "summary": "..."}
standard_id 값은 위에 제시된 그대로 사용하세요.`, text, renderCandidates(candidates, "ko"))
}
