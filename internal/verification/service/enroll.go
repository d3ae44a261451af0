package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	idmodels "faceauth/internal/identity/models"
	"faceauth/internal/verification/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/requestcontext"
)

// Enroll extracts one embedding from the image and stores it as the
// username's template. New identities get the default role; existing ones
// follow the configured re-enrollment policy. Lockout state is never touched.
func (s *Service) Enroll(ctx context.Context, req models.EnrollRequest) (result *models.EnrollResult, err error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("enroll", start)
	ctx, span := s.tracer.Start(ctx, "verification.enroll")
	defer func() { endSpan(span, err) }()

	username, err := idmodels.NormalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("faceauth.username", username))

	res, err := s.extract(ctx, req.Image)
	if err != nil {
		s.logAudit(ctx, audit.EventEnrollError, username, req.Origin, "error", err.Error())
		s.metrics.RecordOutcome("enroll", "error", "extraction")
		return nil, extractionError(err)
	}

	if !res.QualityOK {
		s.logAudit(ctx, audit.EventEnrollRejected, username, req.Origin,
			"reason", "quality_gate",
			"detail", res.QualityReason,
		)
		s.metrics.RecordOutcome("enroll", "rejected", "quality_gate")
		return nil, dErrors.NewWithDetails(dErrors.CodeQualityGate, "image failed quality checks",
			map[string]any{"detail": res.QualityReason})
	}

	if res.FaceCount != 1 {
		s.logAudit(ctx, audit.EventEnrollRejected, username, req.Origin,
			"reason", "invalid_face_count",
			"face_count", res.FaceCount,
		)
		s.metrics.RecordOutcome("enroll", "rejected", "invalid_face_count")
		return nil, dErrors.NewWithDetails(dErrors.CodeInvalidFaceCount,
			fmt.Sprintf("expected exactly 1 face, found %d", res.FaceCount),
			map[string]any{"expected": 1, "found": res.FaceCount})
	}

	tmpl, err := s.users.Upsert(ctx, username, res.Embedding, idmodels.DefaultRole, s.policy, requestcontext.Now(ctx))
	if err != nil {
		s.logAudit(ctx, audit.EventEnrollError, username, req.Origin, "error", "store_failure")
		s.metrics.RecordOutcome("enroll", "error", "store")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store template")
	}

	s.logAudit(ctx, audit.EventEnrollSuccess, username, req.Origin,
		"note", "user embedding stored",
		"role", tmpl.Role.String(),
		"reenroll_policy", string(s.policy),
	)
	s.metrics.RecordOutcome("enroll", "success", "")
	return &models.EnrollResult{Username: tmpl.Username, Role: tmpl.Role}, nil
}
