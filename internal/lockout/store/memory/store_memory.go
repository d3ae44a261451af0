package memory

import (
	"context"
	"sync"
	"time"

	"faceauth/internal/lockout/models"
)

type entry struct {
	mu    sync.Mutex
	state models.State
}

// InMemoryStore keeps one mutex per identity key, so updates to distinct keys
// never contend. The map lock only guards entry lookup and creation.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*entry)}
}

func (s *InMemoryStore) lookup(key string) *entry {
	s.mu.RLock()
	e := s.entries[key]
	s.mu.RUnlock()
	return e
}

func (s *InMemoryStore) getOrCreate(key string) *entry {
	if e := s.lookup(key); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &entry{state: models.State{Key: key}}
	s.entries[key] = e
	return e
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*models.State, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.state
	return &state, nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, key string, threshold int, lockUntil, now time.Time) (*models.State, error) {
	e := s.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Fails++
	if e.state.Fails >= threshold {
		e.state.LockedUntil = lockUntil
	}
	e.state.UpdatedAt = now
	state := e.state
	return &state, nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string, now time.Time) error {
	e := s.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Fails = 0
	e.state.LockedUntil = time.Time{}
	e.state.UpdatedAt = now
	return nil
}
