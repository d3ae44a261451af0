// Package search ranks enrolled templates against a probe embedding.
package search

import (
	"cmp"
	"slices"
)

const (
	MinTopK = 1
	MaxTopK = 25
)

// Template is the minimal view of an enrolled identity the ranker needs.
type Template struct {
	Username  string
	Role      string
	Embedding []float64
}

// Candidate is one ranked result.
type Candidate struct {
	Username string  `json:"username"`
	Role     string  `json:"role"`
	Distance float64 `json:"distance"`
}

// DistanceFunc compares two embeddings; smaller is more similar.
type DistanceFunc func(a, b []float64) float64

// ClampTopK bounds a requested result count to [MinTopK, MaxTopK].
func ClampTopK(topK int) int {
	return max(MinTopK, min(topK, MaxTopK))
}

// Rank scores every template, sorts ascending by distance (ties by username)
// and returns the first ClampTopK(topK) entries.
func Rank(probe []float64, templates []Template, topK int, distance DistanceFunc) []Candidate {
	out := make([]Candidate, 0, len(templates))
	for _, t := range templates {
		out = append(out, Candidate{
			Username: t.Username,
			Role:     t.Role,
			Distance: distance(probe, t.Embedding),
		})
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	if k := ClampTopK(topK); len(out) > k {
		out = out[:k]
	}
	return out
}
