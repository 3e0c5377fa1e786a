package memory

import (
	"sync"

	"firesim-sync-service/internal/app"
)

// IdentityStore keeps the learner's resume hint in process memory. The
// server-side learner transport uses one per connection; the identity still
// round-trips to the real client in the join acknowledgement.
type IdentityStore struct {
	mu       sync.Mutex
	identity app.Identity
	ok       bool
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{}
}

func (s *IdentityStore) Save(identity app.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	s.ok = true
	return nil
}

func (s *IdentityStore) Load() (app.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.ok, nil
}

func (s *IdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = app.Identity{}
	s.ok = false
	return nil
}
