package embeddings

import "math"

// NormalizeL2 scales v in place to unit Euclidean length and returns it.
// Zero vectors and vectors whose norm is not finite are returned unchanged,
// since dividing by such a norm would only replace one unusable vector with
// another.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return v
	}
	inv := 1 / norm
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// NormalizeAllL2 normalizes every vector in vs in place and returns vs.
func NormalizeAllL2(vs [][]float32) [][]float32 {
	for _, v := range vs {
		NormalizeL2(v)
	}
	return vs
}
