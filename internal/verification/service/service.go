// Package service implements the enrollment, verification and search
// pipelines. Each pipeline is terminal at its first rejection and records
// exactly one audit event per outcome.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"faceauth/internal/biometric/extract"
	"faceauth/internal/biometric/liveness"
	"faceauth/internal/biometric/match"
	idmodels "faceauth/internal/identity/models"
	"faceauth/internal/verification/metrics"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/platform/sentinel"
)

const tracerName = "faceauth/internal/verification"

type Service struct {
	users          UserStore
	lockout        LockoutService
	extractor      extract.Extractor
	tokens         TokenIssuer
	matcher        match.Engine
	liveness       liveness.Scorer
	policy         idmodels.ReenrollPolicy
	archive        ProbeArchive
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithMatchEngine(engine match.Engine) Option {
	return func(s *Service) {
		s.matcher = engine
	}
}

func WithLiveness(scorer liveness.Scorer) Option {
	return func(s *Service) {
		s.liveness = scorer
	}
}

func WithReenrollPolicy(policy idmodels.ReenrollPolicy) Option {
	return func(s *Service) {
		if policy != "" {
			s.policy = policy
		}
	}
}

// WithProbeArchive enables archival of probe pairs that fail liveness.
func WithProbeArchive(a ProbeArchive) Option {
	return func(s *Service) {
		s.archive = a
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func New(users UserStore, lockout LockoutService, extractor extract.Extractor, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if lockout == nil {
		return nil, errors.New("lockout service is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	svc := &Service{
		users:     users,
		lockout:   lockout,
		extractor: extractor,
		tokens:    tokens,
		matcher:   match.New(match.DefaultThreshold),
		liveness:  liveness.New(liveness.DefaultThreshold, liveness.DefaultCanonicalSize),
		policy:    idmodels.ReenrollKeepExisting,
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MatchThreshold is the distance at or below which two embeddings match.
func (s *Service) MatchThreshold() float64 { return s.matcher.Threshold }

// logAudit attaches the identity fields and forwards to audit.LogAudit.
func (s *Service) logAudit(ctx context.Context, eventType audit.EventType, username, origin string, attrs ...any) {
	args := append([]any{"username", username, "ip", origin}, attrs...)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, eventType, args...)
}

// extractPair runs both probe extractions concurrently.
func (s *Service) extractPair(ctx context.Context, image1, image2 []byte) (*extract.Result, *extract.Result, error) {
	var r1, r2 *extract.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r1, err = s.extract(gctx, image1)
		return err
	})
	g.Go(func() error {
		var err error
		r2, err = s.extract(gctx, image2)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return r1, r2, nil
}

func (s *Service) extract(ctx context.Context, image []byte) (*extract.Result, error) {
	res, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("extractor returned no result")
	}
	return res, nil
}

// extractionError maps an extractor failure onto the domain taxonomy.
func extractionError(err error) error {
	switch {
	case errors.Is(err, extract.ErrDecode):
		return dErrors.Wrap(err, dErrors.CodeDecodeError, "image could not be decoded")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "embedding extractor unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "embedding extraction failed")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
