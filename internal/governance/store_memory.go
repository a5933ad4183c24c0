package governance

import (
	"context"
	"sync"

	"credence/pkg/platform/sentinel"
)

// InMemoryStore keeps proposals in process memory.
type InMemoryStore struct {
	mu        sync.RWMutex
	proposals map[uint64]*Proposal
	nextID    uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{proposals: make(map[uint64]*Proposal)}
}

func (s *InMemoryStore) Create(_ context.Context, p *Proposal) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.proposals[p.ID] = p.Clone()
	return p.ID, nil
}

func (s *InMemoryStore) Get(_ context.Context, id uint64) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}
