package adjudicate

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// maxIDEditDistance bounds how far a model-returned standard ID may drift
// from a candidate ID and still be accepted. Two edits covers the common
// slips (dropped hyphen, a swapped digit, stray whitespace) without letting
// "GRI 305-1" resolve to "GRI 306-1" and "GRI 305-2" at once; ambiguous
// distances are rejected.
const maxIDEditDistance = 2

// resolveStandardID maps an ID the model returned to one of the candidate
// IDs. Exact matching has already failed when this is called. Normalized
// comparison (case, spacing) is tried first, then the closest candidate by
// Levenshtein distance provided it is within maxIDEditDistance and no other
// candidate ties it.
func resolveStandardID(id string, candidates []string) (string, bool) {
	norm := normalizeID(id)
	for _, c := range candidates {
		if normalizeID(c) == norm {
			return c, true
		}
	}

	best := ""
	bestDist := maxIDEditDistance + 1
	tied := false
	for _, c := range candidates {
		d := matchr.Levenshtein(norm, normalizeID(c))
		switch {
		case d < bestDist:
			best, bestDist, tied = c, d, false
		case d == bestDist:
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return best, true
}

func normalizeID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
