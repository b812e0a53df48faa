package resolver

import "math"

// ReducedDim is the fast-ANN embedding width.
const ReducedDim = 768

// Reduce projects a full-dimension embedding down to ReducedDim by
// head-truncation followed by L2 renormalization. This preserves direction
// only approximately, which is acceptable for the candidate-generation
// index since the full-dimension rerank runs afterwards. If full is
// already <= ReducedDim it is renormalized as-is.
func Reduce(full []float32) []float32 {
	n := len(full)
	if n > ReducedDim {
		n = ReducedDim
	}
	out := make([]float32, n)
	copy(out, full[:n])

	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return out
	}
	norm := math.Sqrt(sumSq)
	for i, v := range out {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
