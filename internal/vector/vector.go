// Package vector holds distance helpers shared by the feature index and its tests.
package vector

import (
	"fmt"
	"math"
)

// DistanceToSimilarity converts a cosine distance into a similarity score.
func DistanceToSimilarity(distance float64) float64 {
	return 1 - distance
}

// CosineDistance returns 1 - cos(a, b), the same measure pgvector's <=> operator computes.
// Zero-length or zero-magnitude inputs are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// CheckDimensions returns an error when v does not have exactly dims components.
func CheckDimensions(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(v), dims)
	}
	return nil
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
	return v
}
