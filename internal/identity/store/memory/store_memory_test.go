package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceauth/internal/identity/models"
	"faceauth/pkg/platform/sentinel"
)

var now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func TestGetMissing(t *testing.T) {
	_, err := New().Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestUpsertCreatesWithDefaultRole(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.Upsert(ctx, "alice", []float64{1, 0}, models.RoleUser, models.ReenrollKeepExisting, now)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, created.Role)
	assert.Equal(t, now, created.CreatedAt)

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, got.Embedding)
}

func TestReenrollPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("keep_existing keeps elevated role", func(t *testing.T) {
		s := New()
		_, err := s.Upsert(ctx, "alice", []float64{1, 0}, models.RoleUser, models.ReenrollKeepExisting, now)
		require.NoError(t, err)
		ok, err := s.SetRole(ctx, "alice", models.RoleAdmin, now)
		require.NoError(t, err)
		require.True(t, ok)

		again, err := s.Upsert(ctx, "alice", []float64{0, 1}, models.RoleUser, models.ReenrollKeepExisting, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, again.Role)
		assert.Equal(t, []float64{0, 1}, again.Embedding)
		assert.Equal(t, now, again.CreatedAt)
	})

	t.Run("reset_to_default demotes", func(t *testing.T) {
		s := New()
		_, err := s.Upsert(ctx, "alice", []float64{1, 0}, models.RoleUser, models.ReenrollResetToDefault, now)
		require.NoError(t, err)
		_, err = s.SetRole(ctx, "alice", models.RoleAnalyst, now)
		require.NoError(t, err)

		again, err := s.Upsert(ctx, "alice", []float64{0, 1}, models.RoleUser, models.ReenrollResetToDefault, now)
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, again.Role)
	})
}

func TestSetRoleUnknownUser(t *testing.T) {
	ok, err := New().SetRole(context.Background(), "ghost", models.RoleAdmin, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReturnedTemplatesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Upsert(ctx, "alice", []float64{1, 2}, models.RoleUser, models.ReenrollKeepExisting, now)
	require.NoError(t, err)

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	got.Embedding[0] = 99

	again, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Embedding[0])
}

func TestListSortedByUsername(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.Upsert(ctx, name, []float64{1}, models.RoleUser, models.ReenrollKeepExisting, now)
		require.NoError(t, err)
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "carol", list[2].Username)
}
