//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"faceauth/internal/identity/models"
	"faceauth/pkg/platform/sentinel"
	"faceauth/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "users"))
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TestReenrollKeepsPromotedRole() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "alice", []float64{1, 0}, models.DefaultRole, models.ReenrollKeepExisting, s.now)
	s.Require().NoError(err)

	ok, err := s.store.SetRole(ctx, "alice", models.RoleAdmin, s.now)
	s.Require().NoError(err)
	s.True(ok)

	later := s.now.Add(time.Hour)
	tpl, err := s.store.Upsert(ctx, "alice", []float64{0, 1}, models.DefaultRole, models.ReenrollKeepExisting, later)
	s.Require().NoError(err)
	s.Equal(models.RoleAdmin, tpl.Role)
	s.Equal([]float64{0, 1}, tpl.Embedding)
	s.True(tpl.CreatedAt.Equal(s.now))
	s.True(tpl.UpdatedAt.Equal(later))
}

func (s *PostgresStoreSuite) TestReenrollResetsRole() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "bob", []float64{1}, models.DefaultRole, models.ReenrollResetToDefault, s.now)
	s.Require().NoError(err)
	_, err = s.store.SetRole(ctx, "bob", models.RoleAnalyst, s.now)
	s.Require().NoError(err)

	tpl, err := s.store.Upsert(ctx, "bob", []float64{1}, models.DefaultRole, models.ReenrollResetToDefault, s.now)
	s.Require().NoError(err)
	s.Equal(models.RoleUser, tpl.Role)
}

func (s *PostgresStoreSuite) TestUnknownUser() {
	ctx := context.Background()
	_, err := s.store.Get(ctx, "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)

	ok, err := s.store.SetRole(ctx, "ghost", models.RoleAdmin, s.now)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestListOrdersByUsername() {
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.store.Upsert(ctx, name, []float64{0.5, 0.5}, models.DefaultRole, models.ReenrollKeepExisting, s.now)
		s.Require().NoError(err)
	}

	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("alice", all[0].Username)
	s.Equal("bob", all[1].Username)
	s.Equal("carol", all[2].Username)
}
