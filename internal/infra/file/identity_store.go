package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"firesim-sync-service/internal/app"
)

// IdentityStore persists the learner's resume hint as a small JSON file, the
// device-local equivalent of the browser's localStorage pair. The hint is
// never validated against the store; it only lets a restarted client attempt
// to pick up the same identity.
type IdentityStore struct {
	path string
}

func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

func (s *IdentityStore) Save(identity app.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) Load() (app.Identity, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return app.Identity{}, false, nil
	}
	if err != nil {
		return app.Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	var identity app.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return app.Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	if identity.SessionID == "" || identity.LearnerID == "" {
		return app.Identity{}, false, nil
	}
	return identity, true, nil
}

// Clear removes the hint; clearing an absent hint is not an error.
func (s *IdentityStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}
