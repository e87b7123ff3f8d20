package vecindex

import "sort"

// topKIndices returns the indices of the k largest scores, sorted by
// descending score with ties broken by ascending index (original corpus
// order).
//
// When k < len(scores) the k largest are found with quickselect first, so
// only k elements are fully sorted — O(N) average selection plus O(K log K)
// sort instead of O(N log N) for the whole corpus.
func topKIndices(scores []float64, k int) []int {
	n := len(scores)
	if k <= 0 || n == 0 {
		return nil
	}
	if k > n {
		k = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	// ranksBefore is a strict total order: i before j when i's score is
	// higher, with the lower index winning ties for deterministic results.
	ranksBefore := func(i, j int) bool {
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		return i < j
	}

	if k < n {
		quickselect(idx, k, ranksBefore)
		idx = idx[:k]
	}

	sort.Slice(idx, func(a, b int) bool { return ranksBefore(idx[a], idx[b]) })
	return idx
}

// quickselect partially orders idx so that the k elements ranking earliest
// under before occupy idx[:k], in arbitrary internal order. Average O(N).
func quickselect(idx []int, k int, before func(i, j int) bool) {
	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := partition(idx, lo, hi, before)
		switch {
		case p == k-1:
			return
		case p < k-1:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

// partition applies a Lomuto partition to idx[lo:hi+1] around a
// median-of-three pivot and returns the pivot's final position.
func partition(idx []int, lo, hi int, before func(i, j int) bool) int {
	mid := lo + (hi-lo)/2
	// Median of three, moved to hi as the pivot.
	if before(idx[mid], idx[lo]) {
		idx[mid], idx[lo] = idx[lo], idx[mid]
	}
	if before(idx[hi], idx[lo]) {
		idx[hi], idx[lo] = idx[lo], idx[hi]
	}
	if before(idx[mid], idx[hi]) {
		idx[mid], idx[hi] = idx[hi], idx[mid]
	}
	pivot := idx[hi]

	i := lo
	for j := lo; j < hi; j++ {
		if before(idx[j], pivot) {
			idx[i], idx[j] = idx[j], idx[i]
			i++
		}
	}
	idx[i], idx[hi] = idx[hi], idx[i]
	return i
}
