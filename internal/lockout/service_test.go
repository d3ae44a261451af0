package lockout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"faceauth/internal/lockout"
	"faceauth/internal/lockout/models"
	"faceauth/internal/lockout/store/memory"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	svc *lockout.Service
	now time.Time
	key models.Key
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	svc, err := lockout.New(memory.New())
	s.Require().NoError(err)
	s.svc = svc
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.key = models.NewKey("alice", "10.0.0.1")
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := lockout.New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestFreshKeyIsUnlocked() {
	status, err := s.svc.Check(s.at(0), s.key)
	s.Require().NoError(err)
	s.False(status.Locked)
	s.Equal(0, status.Fails)
}

func (s *ServiceSuite) TestFifthFailureLocksForWindow() {
	for i := 1; i <= 4; i++ {
		outcome, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
		s.False(outcome.LockedNow, "failure %d", i)
	}

	outcome, err := s.svc.RegisterFailure(s.at(0), s.key)
	s.Require().NoError(err)
	s.True(outcome.LockedNow)
	s.Equal(5, outcome.Fails)
	s.Equal(s.now.Add(60*time.Second), outcome.LockedUntil)

	status, err := s.svc.Check(s.at(time.Second), s.key)
	s.Require().NoError(err)
	s.True(status.Locked)
	s.Equal(59, status.RetryAfter)
}

func (s *ServiceSuite) TestRetryAfterRoundsUp() {
	for i := 0; i < 5; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	status, err := s.svc.Check(s.at(500*time.Millisecond), s.key)
	s.Require().NoError(err)
	s.Equal(60, status.RetryAfter)
}

func (s *ServiceSuite) TestLockExpiresAfterWindow() {
	for i := 0; i < 5; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	status, err := s.svc.Check(s.at(60*time.Second), s.key)
	s.Require().NoError(err)
	s.False(status.Locked)
}

func (s *ServiceSuite) TestFailureBeyondThresholdRearms() {
	for i := 0; i < 5; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	outcome, err := s.svc.RegisterFailure(s.at(70*time.Second), s.key)
	s.Require().NoError(err)
	s.True(outcome.LockedNow)
	s.Equal(6, outcome.Fails)
	s.Equal(s.now.Add(130*time.Second), outcome.LockedUntil)
}

func (s *ServiceSuite) TestSuccessClearsActiveLock() {
	for i := 0; i < 5; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	status, err := s.svc.Check(s.at(time.Second), s.key)
	s.Require().NoError(err)
	s.Require().True(status.Locked)

	s.Require().NoError(s.svc.RegisterSuccess(s.at(2*time.Second), s.key))

	status, err = s.svc.Check(s.at(3*time.Second), s.key)
	s.Require().NoError(err)
	s.False(status.Locked)
	s.Equal(0, status.Fails)
	s.Zero(status.RetryAfter)
	s.True(status.LockedUntil.IsZero())
}

func (s *ServiceSuite) TestSuccessResetsCounter() {
	for i := 0; i < 3; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.svc.RegisterSuccess(s.at(0), s.key))

	status, err := s.svc.Check(s.at(0), s.key)
	s.Require().NoError(err)
	s.Equal(0, status.Fails)

	for i := 0; i < 4; i++ {
		outcome, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
		s.False(outcome.LockedNow)
	}
}

func (s *ServiceSuite) TestOriginsAreIndependent() {
	for i := 0; i < 5; i++ {
		_, err := s.svc.RegisterFailure(s.at(0), s.key)
		s.Require().NoError(err)
	}
	status, err := s.svc.Check(s.at(0), models.NewKey("alice", "10.0.0.2"))
	s.Require().NoError(err)
	s.False(status.Locked)
}

func (s *ServiceSuite) TestCustomThresholdAndWindow() {
	svc, err := lockout.New(memory.New(), lockout.WithMaxFails(2), lockout.WithWindow(10*time.Second))
	s.Require().NoError(err)

	_, err = svc.RegisterFailure(s.at(0), s.key)
	s.Require().NoError(err)
	outcome, err := svc.RegisterFailure(s.at(0), s.key)
	s.Require().NoError(err)
	s.True(outcome.LockedNow)
	s.Equal(s.now.Add(10*time.Second), outcome.LockedUntil)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*models.State, error) {
	return nil, errors.New("store offline")
}

func (failingStore) RecordFailure(context.Context, string, int, time.Time, time.Time) (*models.State, error) {
	return nil, errors.New("store offline")
}

func (failingStore) Reset(context.Context, string, time.Time) error {
	return errors.New("store offline")
}

func (s *ServiceSuite) TestStoreErrorsSurfaceAsInternal() {
	svc, err := lockout.New(failingStore{})
	s.Require().NoError(err)

	_, err = svc.Check(s.at(0), s.key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	_, err = svc.RegisterFailure(s.at(0), s.key)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.True(dErrors.HasCode(svc.RegisterSuccess(s.at(0), s.key), dErrors.CodeInternal))
}
