package guard

import (
	"context"
	"fmt"
	"math"
	"sync"

	"credence/pkg/platform/sentinel"
)

// InMemoryNonceStore keeps replay counters in process memory. Suitable for
// single-instance deployments and tests.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]uint64
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]uint64)}
}

func (s *InMemoryNonceStore) Consume(_ context.Context, identity string, supplied uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.nonces[identity]
	if supplied != current {
		return 0, sentinel.ErrInvalidState
	}
	if current == math.MaxUint64 {
		return 0, fmt.Errorf("nonce counter overflow for %s", identity)
	}
	s.nonces[identity] = current + 1
	return current + 1, nil
}

func (s *InMemoryNonceStore) Current(_ context.Context, identity string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[identity], nil
}
