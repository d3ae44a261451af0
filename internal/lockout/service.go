// Package lockout implements the per-identity brute-force lockout state
// machine: five failures from one (username, origin) pair lock that pair for
// one window, and a success resets it.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"faceauth/internal/lockout/metrics"
	"faceauth/internal/lockout/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/requestcontext"
)

const (
	DefaultMaxFails = 5
	DefaultWindow   = 60 * time.Second
)

// Store persists lockout state. RecordFailure must increment the counter and
// apply the lock in one atomic step: when the post-increment count reaches
// threshold, LockedUntil becomes lockUntil.
type Store interface {
	Get(ctx context.Context, key string) (*models.State, error)
	RecordFailure(ctx context.Context, key string, threshold int, lockUntil, now time.Time) (*models.State, error)
	Reset(ctx context.Context, key string, now time.Time) error
}

type Service struct {
	store    Store
	maxFails int
	window   time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithMaxFails(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFails = n
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	svc := &Service{
		store:    store,
		maxFails: DefaultMaxFails,
		window:   DefaultWindow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MaxFails is the failure count that arms the lock.
func (s *Service) MaxFails() int { return s.maxFails }

// Window is the lock duration.
func (s *Service) Window() time.Duration { return s.window }

// Check reports whether key is currently locked.
func (s *Service) Check(ctx context.Context, key models.Key) (*models.Status, error) {
	state, err := s.store.Get(ctx, key.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read lockout state")
	}
	if state == nil {
		return &models.Status{}, nil
	}

	now := requestcontext.Now(ctx)
	status := &models.Status{Fails: state.Fails}
	if state.IsLockedAt(now) {
		status.Locked = true
		status.LockedUntil = state.LockedUntil
		status.RetryAfter = models.CeilSeconds(state.RemainingAt(now))
		s.metrics.IncrementRejections()
	}
	return status, nil
}

// RegisterFailure counts one failed attempt and arms the lock once the count
// reaches MaxFails. Every failure at or beyond the threshold re-arms it.
func (s *Service) RegisterFailure(ctx context.Context, key models.Key) (*models.FailureOutcome, error) {
	now := requestcontext.Now(ctx)
	state, err := s.store.RecordFailure(ctx, key.String(), s.maxFails, now.Add(s.window), now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record authentication failure")
	}
	s.metrics.IncrementFailures()

	outcome := &models.FailureOutcome{Fails: state.Fails}
	if state.Fails >= s.maxFails {
		outcome.LockedNow = true
		outcome.LockedUntil = state.LockedUntil
		s.metrics.IncrementLockouts()
		s.logger.WarnContext(ctx, "identity key locked",
			"key", key.String(),
			"fails", state.Fails,
			"locked_until", state.LockedUntil,
		)
	}
	return outcome, nil
}

// RegisterSuccess clears the counter and any lock.
func (s *Service) RegisterSuccess(ctx context.Context, key models.Key) error {
	if err := s.store.Reset(ctx, key.String(), requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset lockout state")
	}
	s.metrics.IncrementSuccesses()
	return nil
}
