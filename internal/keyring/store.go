package keyring

import (
	"context"
	"sync"
	"time"
)

// StoredKey is the persisted form of a keypair, PEM-encoded for restart
// continuity across rotations.
type StoredKey struct {
	Kid        string
	PrivatePEM string
	PublicPEM  string
	State      State
	CreatedAt  time.Time
	RetireAt   time.Time
}

// Store persists key material. Losing a Retiring key across a restart is
// acceptable only once its grace window has elapsed, so implementations must
// write through before the in-memory set is updated.
type Store interface {
	Save(ctx context.Context, key *StoredKey) error
	UpdateState(ctx context.Context, kid string, state State, retireAt time.Time) error
	Delete(ctx context.Context, kid string) error
	Load(ctx context.Context) ([]*StoredKey, error)
}

// MemoryStore keeps keys in process memory. Restarts lose everything, which
// is fine for tests and development.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*StoredKey
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*StoredKey)}
}

func (s *MemoryStore) Save(ctx context.Context, key *StoredKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *key
	s.keys[key.Kid] = &clone
	return nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, kid string, state State, retireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[kid]; ok {
		key.State = state
		key.RetireAt = retireAt
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, kid)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) ([]*StoredKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StoredKey, 0, len(s.keys))
	for _, key := range s.keys {
		clone := *key
		out = append(out, &clone)
	}
	return out, nil
}
