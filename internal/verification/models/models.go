package models

import (
	"time"

	"faceauth/internal/biometric/search"
	idmodels "faceauth/internal/identity/models"
)

type EnrollRequest struct {
	Username string
	Origin   string
	Image    []byte
}

type EnrollResult struct {
	Username string        `json:"username"`
	Role     idmodels.Role `json:"role"`
}

type VerifyRequest struct {
	Username string
	Origin   string
	Image1   []byte
	Image2   []byte
}

// Diagnostics explains a verification decision. It never carries the
// enrolled embedding.
type Diagnostics struct {
	D1              float64 `json:"d1"`
	D2              float64 `json:"d2"`
	MatchThreshold  float64 `json:"match_threshold"`
	Motion          float64 `json:"motion"`
	MotionThreshold float64 `json:"motion_threshold"`
	LivenessPass    bool    `json:"liveness_pass"`
}

// Attrs flattens d into an audit attribute list.
func (d Diagnostics) Attrs() []any {
	return []any{
		"d1", d.D1,
		"d2", d.D2,
		"match_threshold", d.MatchThreshold,
		"motion", d.Motion,
		"motion_threshold", d.MotionThreshold,
		"liveness_pass", d.LivenessPass,
	}
}

// Map is the error-details view of d.
func (d Diagnostics) Map() map[string]any {
	attrs := d.Attrs()
	m := make(map[string]any, len(attrs)/2)
	for i := 0; i < len(attrs); i += 2 {
		m[attrs[i].(string)] = attrs[i+1]
	}
	return m
}

type VerifyResult struct {
	Authenticated bool          `json:"authenticated"`
	Token         string        `json:"token"`
	ExpiresAt     time.Time     `json:"expires_at"`
	Role          idmodels.Role `json:"role"`
	Diagnostics
}

type SearchRequest struct {
	Origin string
	Image  []byte
	TopK   int
}

type SearchResult struct {
	Results        []search.Candidate `json:"results"`
	MatchThreshold float64            `json:"match_threshold"`
}
