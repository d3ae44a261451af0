package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"faceauth/internal/biometric/match"
	"faceauth/internal/biometric/search"
	idmodels "faceauth/internal/identity/models"
	"faceauth/internal/verification/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
)

// Search ranks every enrolled template against the probe. The caller must be
// authenticated; identity lockout does not apply.
func (s *Service) Search(ctx context.Context, caller *idmodels.Caller, req models.SearchRequest) (result *models.SearchResult, err error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("search", start)
	ctx, span := s.tracer.Start(ctx, "verification.search")
	defer func() { endSpan(span, err) }()

	if caller == nil || caller.Username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "authentication required")
	}
	span.SetAttributes(attribute.Int("faceauth.top_k", req.TopK))

	res, err := s.extract(ctx, req.Image)
	if err != nil {
		s.logAudit(ctx, audit.EventSearchError, caller.Username, req.Origin, "error", err.Error())
		s.metrics.RecordOutcome("search", "error", "extraction")
		return nil, extractionError(err)
	}
	if !res.QualityOK {
		s.metrics.RecordOutcome("search", "rejected", "quality_gate")
		return nil, dErrors.NewWithDetails(dErrors.CodeQualityGate, "image failed quality checks",
			map[string]any{"detail": res.QualityReason})
	}
	if res.FaceCount != 1 {
		s.metrics.RecordOutcome("search", "rejected", "invalid_face_count")
		return nil, dErrors.NewWithDetails(dErrors.CodeInvalidFaceCount, "expected exactly 1 face",
			map[string]any{"expected": 1, "found": res.FaceCount})
	}

	templates, err := s.users.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list templates")
	}
	pool := make([]search.Template, 0, len(templates))
	for _, t := range templates {
		pool = append(pool, search.Template{Username: t.Username, Role: t.Role.String(), Embedding: t.Embedding})
	}
	ranked := search.Rank(res.Embedding, pool, req.TopK, match.Distance)

	s.logAudit(ctx, audit.EventSearchSuccess, caller.Username, req.Origin,
		"top_k", req.TopK,
		"returned", len(ranked),
	)
	s.metrics.RecordOutcome("search", "success", "")
	return &models.SearchResult{Results: ranked, MatchThreshold: s.matcher.Threshold}, nil
}
