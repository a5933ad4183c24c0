package store

import (
	"context"
	"sync"

	"credence/internal/bond/models"
	"credence/pkg/platform/sentinel"
)

// InMemoryBondStore keeps bonds in a mutex-guarded map. Test and dev backend.
type InMemoryBondStore struct {
	mu    sync.RWMutex
	bonds map[string]*models.IdentityBond
}

func NewInMemoryBondStore() *InMemoryBondStore {
	return &InMemoryBondStore{bonds: make(map[string]*models.IdentityBond)}
}

func (s *InMemoryBondStore) Create(_ context.Context, bond *models.IdentityBond) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bonds[bond.Identity]; ok && existing.Active {
		return sentinel.ErrConflict
	}
	s.bonds[bond.Identity] = bond.Clone()
	return nil
}

func (s *InMemoryBondStore) Get(_ context.Context, identity string) (*models.IdentityBond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bond, ok := s.bonds[identity]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return bond.Clone(), nil
}

func (s *InMemoryBondStore) Update(_ context.Context, bond *models.IdentityBond) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bonds[bond.Identity]; !ok {
		return sentinel.ErrNotFound
	}
	s.bonds[bond.Identity] = bond.Clone()
	return nil
}

func (s *InMemoryBondStore) CreateAll(_ context.Context, bonds []*models.IdentityBond) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every slot before touching any, so a late collision cannot leave
	// a partially applied batch.
	for _, bond := range bonds {
		if existing, ok := s.bonds[bond.Identity]; ok && existing.Active {
			return sentinel.ErrConflict
		}
	}
	for _, bond := range bonds {
		s.bonds[bond.Identity] = bond.Clone()
	}
	return nil
}

// InMemorySlashHistoryStore is the append-only in-memory slash log.
type InMemorySlashHistoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.SlashRecord
}

func NewInMemorySlashHistoryStore() *InMemorySlashHistoryStore {
	return &InMemorySlashHistoryStore{records: make(map[string][]models.SlashRecord)}
}

func (s *InMemorySlashHistoryStore) Append(_ context.Context, record models.SlashRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Identity] = append(s.records[record.Identity], record)
	return nil
}

func (s *InMemorySlashHistoryStore) List(_ context.Context, identity string) ([]models.SlashRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SlashRecord, len(s.records[identity]))
	copy(out, s.records[identity])
	return out, nil
}

// InMemoryEmergencyStore assigns strictly incrementing record ids in memory.
type InMemoryEmergencyStore struct {
	mu      sync.Mutex
	records map[uint64]*models.EmergencyRecord
	lastID  uint64
}

func NewInMemoryEmergencyStore() *InMemoryEmergencyStore {
	return &InMemoryEmergencyStore{records: make(map[uint64]*models.EmergencyRecord)}
}

func (s *InMemoryEmergencyStore) Append(_ context.Context, record *models.EmergencyRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	cp := *record
	cp.ID = s.lastID
	s.records[s.lastID] = &cp
	return s.lastID, nil
}

func (s *InMemoryEmergencyStore) Get(_ context.Context, id uint64) (*models.EmergencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *InMemoryEmergencyStore) LatestID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID, nil
}
