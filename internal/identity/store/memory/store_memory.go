package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"faceauth/internal/identity/models"
	"faceauth/pkg/platform/sentinel"
)

// InMemoryStore keeps enrolled templates in a map guarded by one RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*models.Template
}

func New() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*models.Template)}
}

func clone(t *models.Template) *models.Template {
	c := *t
	c.Embedding = slices.Clone(t.Embedding)
	return &c
}

// Get returns sentinel.ErrNotFound when username is not enrolled.
func (s *InMemoryStore) Get(_ context.Context, username string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.users[username]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(t), nil
}

func (s *InMemoryStore) Upsert(_ context.Context, username string, embedding []float64, defaultRole models.Role, policy models.ReenrollPolicy, now time.Time) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.users[username]
	if !ok {
		t = &models.Template{Username: username, Role: defaultRole, CreatedAt: now}
		s.users[username] = t
	} else if policy == models.ReenrollResetToDefault {
		t.Role = defaultRole
	}
	t.Embedding = slices.Clone(embedding)
	t.UpdatedAt = now
	return clone(t), nil
}

// SetRole reports false when username is not enrolled.
func (s *InMemoryStore) SetRole(_ context.Context, username string, role models.Role, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.users[username]
	if !ok {
		return false, nil
	}
	t.Role = role
	t.UpdatedAt = now
	return true, nil
}

// List returns every template ordered by username.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Template, 0, len(s.users))
	for _, t := range s.users {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
