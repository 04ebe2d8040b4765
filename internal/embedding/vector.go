package embedding

import "math"

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// It returns exactly 0.0 for empty vectors or vectors of mismatched
// length rather than erroring; accumulation is done in float64 for
// precision even with float32 inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance returns 1 − Cosine(a, b), the distance metric used by the
// density cluster engine.
func CosineDistance(a, b []float32) float64 {
	return 1.0 - Cosine(a, b)
}
