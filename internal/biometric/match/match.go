// Package match compares embeddings by cosine distance.
package match

import "math"

// DefaultThreshold is the maximum distance accepted as the same identity.
const DefaultThreshold = 0.35

// Distance returns 1 - cos(a, b), in [0, 2]. Mismatched dimensions, empty
// vectors and zero-norm vectors yield exactly 1.0.
func Distance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 1.0
	}
	d := 1.0 - dot/denom
	// rounding can push identical vectors a hair outside [0, 2]
	return math.Min(2, math.Max(0, d))
}

// Result is one template/probe comparison.
type Result struct {
	Distance float64
	Matched  bool
}

// Engine applies a fixed acceptance threshold.
type Engine struct {
	Threshold float64
}

func New(threshold float64) Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Engine{Threshold: threshold}
}

// IsMatch reports Distance(a, b) <= Threshold.
func (e Engine) IsMatch(a, b []float64) bool {
	return e.Compare(a, b).Matched
}

func (e Engine) Compare(a, b []float64) Result {
	d := Distance(a, b)
	return Result{Distance: d, Matched: e.Accepts(d)}
}

// Accepts reports whether a precomputed distance is within threshold.
func (e Engine) Accepts(distance float64) bool {
	return distance <= e.Threshold
}
