package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"faceauth/internal/biometric/archive"
	"faceauth/internal/biometric/extract"
	idmodels "faceauth/internal/identity/models"
	lockoutmodels "faceauth/internal/lockout/models"
	"faceauth/internal/verification/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/platform/sentinel"
	"faceauth/pkg/requestcontext"
)

// Verify authenticates username from two probe frames captured moments apart.
// Both probes must match the enrolled template and the pair must show enough
// motion to pass the liveness heuristic.
//
// Order of checks:
//  1. lockout (no extraction happens while locked)
//  2. template lookup (unknown identities do not count as failures)
//  3. extraction of both probes (decode errors do not count as failures)
//  4. quality gate, then face count (both count as failures)
//  5. distance and liveness decision
func (s *Service) Verify(ctx context.Context, req models.VerifyRequest) (result *models.VerifyResult, err error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("verify", start)
	ctx, span := s.tracer.Start(ctx, "verification.verify")
	defer func() { endSpan(span, err) }()

	username, err := idmodels.NormalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("faceauth.username", username))
	key := lockoutmodels.NewKey(username, req.Origin)

	status, err := s.lockout.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		s.logAudit(ctx, audit.EventVerifyLocked, username, req.Origin,
			"fails", status.Fails,
			"seconds_remaining", status.RetryAfter,
		)
		s.metrics.RecordOutcome("verify", "locked", "too_many_attempts")
		return nil, dErrors.NewWithDetails(dErrors.CodeTooManyAttempts,
			fmt.Sprintf("locked out, try again in %ds", status.RetryAfter),
			map[string]any{"retry_after": status.RetryAfter})
	}

	tmpl, err := s.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logAudit(ctx, audit.EventVerifyFailed, username, req.Origin, "reason", "unknown_identity")
			s.metrics.RecordOutcome("verify", "failed", "unknown_identity")
			return nil, dErrors.New(dErrors.CodeUnknownIdentity, "unknown identity, enroll first")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load template")
	}

	r1, r2, err := s.extractPair(ctx, req.Image1, req.Image2)
	if err != nil {
		s.logAudit(ctx, audit.EventVerifyError, username, req.Origin, "error", err.Error())
		s.metrics.RecordOutcome("verify", "error", "extraction")
		return nil, extractionError(err)
	}

	if !r1.QualityOK || !r2.QualityOK {
		outcome, err := s.lockout.RegisterFailure(ctx, key)
		if err != nil {
			return nil, err
		}
		s.logAudit(ctx, audit.EventVerifyFailed, username, req.Origin,
			"reason", "quality_gate",
			"quality_1", r1.QualityReason,
			"quality_2", r2.QualityReason,
			"fails", outcome.Fails,
			"locked", outcome.LockedNow,
		)
		s.metrics.RecordOutcome("verify", "failed", "quality_gate")
		return nil, dErrors.NewWithDetails(dErrors.CodeQualityGate, "probe failed quality checks",
			map[string]any{"quality_1": r1.QualityReason, "quality_2": r2.QualityReason})
	}

	if r1.FaceCount != 1 || r2.FaceCount != 1 {
		outcome, err := s.lockout.RegisterFailure(ctx, key)
		if err != nil {
			return nil, err
		}
		s.logAudit(ctx, audit.EventVerifyFailed, username, req.Origin,
			"reason", "invalid_face_count",
			"face_count_1", r1.FaceCount,
			"face_count_2", r2.FaceCount,
			"fails", outcome.Fails,
			"locked", outcome.LockedNow,
		)
		s.metrics.RecordOutcome("verify", "failed", "invalid_face_count")
		return nil, dErrors.NewWithDetails(dErrors.CodeInvalidFaceCount, "expected exactly 1 face in each probe",
			map[string]any{"expected": 1, "face_count_1": r1.FaceCount, "face_count_2": r2.FaceCount})
	}

	diag := s.evaluate(tmpl.Embedding, r1, r2, req.Image1, req.Image2)
	span.SetAttributes(
		attribute.Float64("faceauth.d1", diag.D1),
		attribute.Float64("faceauth.d2", diag.D2),
		attribute.Float64("faceauth.motion", diag.Motion),
	)

	if s.matcher.Accepts(diag.D1) && s.matcher.Accepts(diag.D2) && diag.LivenessPass {
		return s.succeed(ctx, key, tmpl, req.Origin, diag)
	}
	return nil, s.fail(ctx, key, req, diag)
}

func (s *Service) evaluate(enrolled []float64, r1, r2 *extract.Result, image1, image2 []byte) models.Diagnostics {
	motion := s.liveness.MotionScore(image1, image2)
	return models.Diagnostics{
		D1:              s.matcher.Compare(r1.Embedding, enrolled).Distance,
		D2:              s.matcher.Compare(r2.Embedding, enrolled).Distance,
		MatchThreshold:  s.matcher.Threshold,
		Motion:          motion,
		MotionThreshold: s.liveness.Threshold,
		LivenessPass:    s.liveness.Passes(motion),
	}
}

func (s *Service) succeed(ctx context.Context, key lockoutmodels.Key, tmpl *idmodels.Template, origin string, diag models.Diagnostics) (*models.VerifyResult, error) {
	if err := s.lockout.RegisterSuccess(ctx, key); err != nil {
		return nil, err
	}
	signed, claims, err := s.tokens.Issue(tmpl.Username, tmpl.Role.String())
	if err != nil {
		s.logAudit(ctx, audit.EventVerifyError, tmpl.Username, origin, "error", "token_issue_failure")
		s.metrics.RecordOutcome("verify", "error", "token")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}

	s.logAudit(ctx, audit.EventVerifySuccess, tmpl.Username, origin, diag.Attrs()...)
	s.metrics.RecordOutcome("verify", "success", "")

	result := &models.VerifyResult{
		Authenticated: true,
		Token:         signed,
		Role:          tmpl.Role,
		Diagnostics:   diag,
	}
	if claims != nil && claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

func (s *Service) fail(ctx context.Context, key lockoutmodels.Key, req models.VerifyRequest, diag models.Diagnostics) error {
	outcome, err := s.lockout.RegisterFailure(ctx, key)
	if err != nil {
		return err
	}

	attrs := diag.Attrs()
	attrs = append(attrs, "fails", outcome.Fails, "locked", outcome.LockedNow)
	if outcome.LockedNow {
		attrs = append(attrs, "locked_until", outcome.LockedUntil.Unix())
	} else {
		attrs = append(attrs, "locked_until", nil)
	}
	if archived := s.archiveProbes(ctx, key, req, diag); archived != "" {
		attrs = append(attrs, "archive_key", archived)
	}

	s.logAudit(ctx, audit.EventVerifyFailed, key.Username, req.Origin, attrs...)
	s.metrics.RecordOutcome("verify", "failed", failureReason(diag, s.matcher.Accepts))

	details := diag.Map()
	details["authenticated"] = false
	details["fails"] = outcome.Fails
	details["locked"] = outcome.LockedNow
	return dErrors.NewWithDetails(dErrors.CodeUnauthenticated, "face verification failed", details)
}

// archiveProbes stores the probe pair when liveness failed. Archival errors
// are logged and never change the decision.
func (s *Service) archiveProbes(ctx context.Context, key lockoutmodels.Key, req models.VerifyRequest, diag models.Diagnostics) string {
	if s.archive == nil || diag.LivenessPass {
		return ""
	}
	prefix, err := s.archive.Store(ctx, archive.Probe{
		Username: key.Username,
		Origin:   req.Origin,
		Reason:   "liveness_failed",
		At:       requestcontext.Now(ctx),
		Images:   [][]byte{req.Image1, req.Image2},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to archive probe pair",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return ""
	}
	return prefix
}

func failureReason(diag models.Diagnostics, accepts func(float64) bool) string {
	if !accepts(diag.D1) || !accepts(diag.D2) {
		return "no_match"
	}
	return "liveness"
}
