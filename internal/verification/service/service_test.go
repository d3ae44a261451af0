package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks
//go:generate mockgen -source=../../biometric/extract/extract.go -destination=mocks/extractor.go -package=mocks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"faceauth/internal/biometric/archive"
	"faceauth/internal/biometric/extract"
	idmodels "faceauth/internal/identity/models"
	lockoutmodels "faceauth/internal/lockout/models"
	"faceauth/internal/token"
	"faceauth/internal/verification/models"
	"faceauth/internal/verification/service/mocks"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/platform/sentinel"
	"faceauth/pkg/requestcontext"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// Collaborators are mocked so each test pins which side effects a decision
// path is allowed to have: lockout updates, token issuance, archival and the
// single audit event.

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	users     *mocks.MockUserStore
	lockout   *mocks.MockLockoutService
	extractor *mocks.MockExtractor
	tokens    *mocks.MockTokenIssuer
	archive   *mocks.MockProbeArchive
	publisher *mocks.MockAuditPublisher
	service   *Service
	ctx       context.Context
	now       time.Time
	events    []audit.Event

	frameA []byte
	frameB []byte
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.users = mocks.NewMockUserStore(s.ctrl)
	s.lockout = mocks.NewMockLockoutService(s.ctrl)
	s.extractor = mocks.NewMockExtractor(s.ctrl)
	s.tokens = mocks.NewMockTokenIssuer(s.ctrl)
	s.archive = mocks.NewMockProbeArchive(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.events = nil

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.events = append(s.events, e)
			return nil
		}).AnyTimes()

	svc, err := New(s.users, s.lockout, s.extractor, s.tokens,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
		WithProbeArchive(s.archive),
	)
	s.Require().NoError(err)
	s.service = svc

	s.now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.frameA = flatPNG(s.T(), 32, 100)
	s.frameB = flatPNG(s.T(), 32, 160)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func flatPNG(t *testing.T, size int, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func good(embedding ...float64) *extract.Result {
	return &extract.Result{Embedding: embedding, FaceCount: 1, QualityOK: true}
}

func (s *ServiceSuite) singleEvent() audit.Event {
	s.Require().Len(s.events, 1)
	return s.events[0]
}

var aliceKey = lockoutmodels.NewKey("alice", "10.0.0.1")

func (s *ServiceSuite) aliceTemplate(role idmodels.Role) *idmodels.Template {
	return &idmodels.Template{Username: "alice", Embedding: []float64{1, 0, 0}, Role: role}
}

// =============================================================================
// Constructor
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil user store", func() {
		_, err := New(nil, s.lockout, s.extractor, s.tokens)
		s.ErrorContains(err, "user store is required")
	})
	s.Run("nil lockout", func() {
		_, err := New(s.users, nil, s.extractor, s.tokens)
		s.ErrorContains(err, "lockout service is required")
	})
	s.Run("nil extractor", func() {
		_, err := New(s.users, s.lockout, nil, s.tokens)
		s.ErrorContains(err, "extractor is required")
	})
	s.Run("nil token issuer", func() {
		_, err := New(s.users, s.lockout, s.extractor, nil)
		s.ErrorContains(err, "token issuer is required")
	})
	s.Run("defaults", func() {
		svc, err := New(s.users, s.lockout, s.extractor, s.tokens)
		s.Require().NoError(err)
		s.Equal(0.35, svc.MatchThreshold())
		s.Equal(idmodels.ReenrollKeepExisting, svc.policy)
	})
}

// =============================================================================
// Enroll
// =============================================================================

func (s *ServiceSuite) TestEnrollStoresTemplateWithDefaultRole() {
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(1, 0, 0), nil)
	s.users.EXPECT().
		Upsert(gomock.Any(), "alice", []float64{1, 0, 0}, idmodels.RoleUser, idmodels.ReenrollKeepExisting, s.now).
		Return(s.aliceTemplate(idmodels.RoleUser), nil)

	res, err := s.service.Enroll(s.ctx, models.EnrollRequest{Username: " alice ", Origin: "10.0.0.1", Image: s.frameA})
	s.Require().NoError(err)
	s.Equal("alice", res.Username)
	s.Equal(idmodels.RoleUser, res.Role)

	event := s.singleEvent()
	s.Equal(audit.EventEnrollSuccess, event.Type)
	s.Equal("alice", event.Username)
	s.Equal("10.0.0.1", event.Origin)
}

func (s *ServiceSuite) TestEnrollReturnsStoredRole() {
	s.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(good(1, 0, 0), nil)
	s.users.EXPECT().Upsert(gomock.Any(), "alice", gomock.Any(), idmodels.RoleUser, gomock.Any(), gomock.Any()).
		Return(s.aliceTemplate(idmodels.RoleAdmin), nil)

	res, err := s.service.Enroll(s.ctx, models.EnrollRequest{Username: "alice", Image: s.frameA})
	s.Require().NoError(err)
	s.Equal(idmodels.RoleAdmin, res.Role)
}

func (s *ServiceSuite) TestEnrollRejections() {
	tests := []struct {
		name      string
		result    *extract.Result
		extErr    error
		wantCode  dErrors.Code
		wantEvent audit.EventType
		wantMeta  map[string]any
	}{
		{
			name:      "decode error",
			extErr:    fmt.Errorf("probe: %w", extract.ErrDecode),
			wantCode:  dErrors.CodeDecodeError,
			wantEvent: audit.EventEnrollError,
		},
		{
			name:      "extractor unavailable",
			extErr:    sentinel.ErrUnavailable,
			wantCode:  dErrors.CodeUnavailable,
			wantEvent: audit.EventEnrollError,
		},
		{
			name:      "quality gate",
			result:    &extract.Result{QualityOK: false, QualityReason: "image_too_dark"},
			wantCode:  dErrors.CodeQualityGate,
			wantEvent: audit.EventEnrollRejected,
			wantMeta:  map[string]any{"reason": "quality_gate", "detail": "image_too_dark"},
		},
		{
			name:      "two faces",
			result:    &extract.Result{QualityOK: true, FaceCount: 2},
			wantCode:  dErrors.CodeInvalidFaceCount,
			wantEvent: audit.EventEnrollRejected,
			wantMeta:  map[string]any{"reason": "invalid_face_count", "face_count": 2},
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.events = nil
			s.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(tt.result, tt.extErr)

			_, err := s.service.Enroll(s.ctx, models.EnrollRequest{Username: "alice", Image: []byte("x")})
			s.True(dErrors.HasCode(err, tt.wantCode), "got %v", err)

			event := s.singleEvent()
			s.Equal(tt.wantEvent, event.Type)
			for k, v := range tt.wantMeta {
				s.Equal(v, event.Metadata[k], k)
			}
		})
	}
}

func (s *ServiceSuite) TestEnrollRejectsBlankUsername() {
	_, err := s.service.Enroll(s.ctx, models.EnrollRequest{Username: "  ", Image: s.frameA})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.events)
}

// =============================================================================
// Verify
// =============================================================================

func (s *ServiceSuite) verifyReq() models.VerifyRequest {
	return models.VerifyRequest{Username: "alice", Origin: "10.0.0.1", Image1: s.frameA, Image2: s.frameB}
}

func (s *ServiceSuite) TestVerifyLockedSkipsExtraction() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).
		Return(&lockoutmodels.Status{Locked: true, Fails: 5, RetryAfter: 42}, nil)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyAttempts))
	s.Equal(42, dErrors.DetailsOf(err)["retry_after"])

	event := s.singleEvent()
	s.Equal(audit.EventVerifyLocked, event.Type)
	s.Equal(42, event.Metadata["seconds_remaining"])
}

func (s *ServiceSuite) TestVerifyUnknownIdentityDoesNotCountFailure() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownIdentity))

	event := s.singleEvent()
	s.Equal(audit.EventVerifyFailed, event.Type)
	s.Equal("unknown_identity", event.Metadata["reason"])
}

func (s *ServiceSuite) TestVerifyDecodeErrorDoesNotCountFailure() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(1, 0, 0), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameB).Return(nil, extract.ErrDecode)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeDecodeError))
	s.Equal(audit.EventVerifyError, s.singleEvent().Type)
}

func (s *ServiceSuite) TestVerifyQualityFailureCountsFailure() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(1, 0, 0), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameB).
		Return(&extract.Result{QualityOK: false, QualityReason: "image_too_blurry(blur=12.0)"}, nil)
	s.lockout.EXPECT().RegisterFailure(gomock.Any(), aliceKey).Return(&lockoutmodels.FailureOutcome{Fails: 1}, nil)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeQualityGate))
	s.Equal("image_too_blurry(blur=12.0)", dErrors.DetailsOf(err)["quality_2"])

	event := s.singleEvent()
	s.Equal("quality_gate", event.Metadata["reason"])
	s.Equal(1, event.Metadata["fails"])
	s.Equal(false, event.Metadata["locked"])
}

func (s *ServiceSuite) TestVerifyFaceCountFailureCountsFailure() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(&extract.Result{QualityOK: true, FaceCount: 0}, nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameB).Return(good(1, 0, 0), nil)
	s.lockout.EXPECT().RegisterFailure(gomock.Any(), aliceKey).Return(&lockoutmodels.FailureOutcome{Fails: 2}, nil)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidFaceCount))

	event := s.singleEvent()
	s.Equal("invalid_face_count", event.Metadata["reason"])
	s.Equal(0, event.Metadata["face_count_1"])
	s.Equal(1, event.Metadata["face_count_2"])
}

func (s *ServiceSuite) TestVerifySuccessIssuesToken() {
	expires := s.now.Add(time.Hour)
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleAnalyst), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(1, 0, 0), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameB).Return(good(2, 0.1, 0), nil)
	s.lockout.EXPECT().RegisterSuccess(gomock.Any(), aliceKey).Return(nil)
	s.tokens.EXPECT().Issue("alice", "analyst").Return("signed.jwt", &token.Claims{
		Role:             "analyst",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(expires)},
	}, nil)

	res, err := s.service.Verify(s.ctx, s.verifyReq())
	s.Require().NoError(err)
	s.True(res.Authenticated)
	s.Equal("signed.jwt", res.Token)
	s.Equal(idmodels.RoleAnalyst, res.Role)
	s.Equal(expires, res.ExpiresAt)
	s.InDelta(0.0, res.D1, 1e-12)
	s.Less(res.D2, 0.35)
	s.True(res.LivenessPass)

	event := s.singleEvent()
	s.Equal(audit.EventVerifySuccess, event.Type)
	s.Equal(0.35, event.Metadata["match_threshold"])
	s.Equal(true, event.Metadata["liveness_pass"])
	s.NotContains(event.Metadata, "embedding")
}

func (s *ServiceSuite) TestVerifyMismatchCountsFailure() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(0, 1, 0), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameB).Return(good(0, 1, 0), nil)
	lockedUntil := s.now.Add(time.Minute)
	s.lockout.EXPECT().RegisterFailure(gomock.Any(), aliceKey).
		Return(&lockoutmodels.FailureOutcome{Fails: 5, LockedNow: true, LockedUntil: lockedUntil}, nil)

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	details := dErrors.DetailsOf(err)
	s.Equal(false, details["authenticated"])
	s.InDelta(1.0, details["d1"], 1e-12)
	s.Equal(true, details["locked"])

	event := s.singleEvent()
	s.Equal(audit.EventVerifyFailed, event.Type)
	s.Equal(5, event.Metadata["fails"])
	s.Equal(lockedUntil.Unix(), event.Metadata["locked_until"])
}

func (s *ServiceSuite) TestVerifyLivenessFailureArchivesProbes() {
	still := flatPNG(s.T(), 32, 120)
	req := models.VerifyRequest{Username: "alice", Origin: "10.0.0.1", Image1: still, Image2: still}

	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), still).Return(good(1, 0, 0), nil).Times(2)
	s.lockout.EXPECT().RegisterFailure(gomock.Any(), aliceKey).Return(&lockoutmodels.FailureOutcome{Fails: 1}, nil)
	s.archive.EXPECT().Store(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p archive.Probe) (string, error) {
			s.Equal("liveness_failed", p.Reason)
			s.Len(p.Images, 2)
			s.Equal(s.now, p.At)
			return "probes/2026/07/01/alice/x/", nil
		})

	_, err := s.service.Verify(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))

	event := s.singleEvent()
	s.Equal(false, event.Metadata["liveness_pass"])
	s.Equal(0.0, event.Metadata["motion"])
	s.Equal("probes/2026/07/01/alice/x/", event.Metadata["archive_key"])
}

func (s *ServiceSuite) TestVerifyArchiveFailureKeepsDecision() {
	still := flatPNG(s.T(), 32, 120)
	req := models.VerifyRequest{Username: "alice", Origin: "10.0.0.1", Image1: still, Image2: still}

	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).Return(&lockoutmodels.Status{}, nil)
	s.users.EXPECT().Get(gomock.Any(), "alice").Return(s.aliceTemplate(idmodels.RoleUser), nil)
	s.extractor.EXPECT().Extract(gomock.Any(), still).Return(good(1, 0, 0), nil).Times(2)
	s.lockout.EXPECT().RegisterFailure(gomock.Any(), aliceKey).Return(&lockoutmodels.FailureOutcome{Fails: 1}, nil)
	s.archive.EXPECT().Store(gomock.Any(), gomock.Any()).Return("", errors.New("bucket missing"))

	_, err := s.service.Verify(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	s.NotContains(s.singleEvent().Metadata, "archive_key")
}

func (s *ServiceSuite) TestVerifyLockoutStoreErrorPropagates() {
	s.lockout.EXPECT().Check(gomock.Any(), aliceKey).
		Return(nil, dErrors.Wrap(errors.New("redis down"), dErrors.CodeInternal, "failed to read lockout state"))

	_, err := s.service.Verify(s.ctx, s.verifyReq())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Empty(s.events)
}

// =============================================================================
// Search
// =============================================================================

func (s *ServiceSuite) TestSearchRequiresCaller() {
	_, err := s.service.Search(s.ctx, nil, models.SearchRequest{Image: s.frameA, TopK: 5})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	s.Empty(s.events)
}

func (s *ServiceSuite) TestSearchRanksTemplates() {
	caller := &idmodels.Caller{Username: "root", Role: idmodels.RoleAdmin}
	s.extractor.EXPECT().Extract(gomock.Any(), s.frameA).Return(good(1, 0), nil)
	s.users.EXPECT().List(gomock.Any()).Return([]*idmodels.Template{
		{Username: "far", Embedding: []float64{0, 1}, Role: idmodels.RoleUser},
		{Username: "near", Embedding: []float64{1, 0.1}, Role: idmodels.RoleAnalyst},
		{Username: "exact", Embedding: []float64{2, 0}, Role: idmodels.RoleUser},
	}, nil)

	res, err := s.service.Search(s.ctx, caller, models.SearchRequest{Origin: "10.0.0.1", Image: s.frameA, TopK: 2})
	s.Require().NoError(err)
	s.Require().Len(res.Results, 2)
	s.Equal("exact", res.Results[0].Username)
	s.Equal("near", res.Results[1].Username)
	s.Equal("analyst", res.Results[1].Role)
	s.Equal(0.35, res.MatchThreshold)

	event := s.singleEvent()
	s.Equal(audit.EventSearchSuccess, event.Type)
	s.Equal("root", event.Username)
	s.Equal(2, event.Metadata["returned"])
}

func (s *ServiceSuite) TestSearchQualityFailureHasNoAudit() {
	caller := &idmodels.Caller{Username: "root", Role: idmodels.RoleUser}
	s.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).
		Return(&extract.Result{QualityOK: false, QualityReason: "image_too_bright"}, nil)

	_, err := s.service.Search(s.ctx, caller, models.SearchRequest{Image: s.frameA, TopK: 5})
	s.True(dErrors.HasCode(err, dErrors.CodeQualityGate))
	s.Empty(s.events)
}

func (s *ServiceSuite) TestSearchDecodeErrorIsAudited() {
	caller := &idmodels.Caller{Username: "root", Role: idmodels.RoleUser}
	s.extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return(nil, extract.ErrDecode)

	_, err := s.service.Search(s.ctx, caller, models.SearchRequest{Image: []byte("nope"), TopK: 5})
	s.True(dErrors.HasCode(err, dErrors.CodeDecodeError))
	s.Equal(audit.EventSearchError, s.singleEvent().Type)
}
