// Package profile keeps durable, long-lived facts about the user.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/store"
)

// Store is an overwrite-only durable dictionary. Updates are written to the
// backend before they become visible.
type Store struct {
	backend store.ProfileBackend

	mu      sync.RWMutex
	profile map[string]any
}

// Open loads the persisted profile.
func Open(ctx context.Context, backend store.ProfileBackend) (*Store, error) {
	p, err := backend.LoadProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		p = map[string]any{}
	}
	return &Store{backend: backend, profile: p}, nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.profile[key]
	return v, ok
}

// GetAll returns a snapshot of the whole profile.
func (s *Store) GetAll() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.profile)
}

// Update durably sets key to value; the last write wins.
func (s *Store) Update(ctx context.Context, key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("profile key is required")
	}
	// Cache the value as it will read back after a restart.
	norm, err := normalize(value)
	if err != nil {
		return fmt.Errorf("profile value for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.PutProfile(ctx, key, norm); err != nil {
		return &model.PersistenceError{Op: "update profile", Err: err}
	}
	s.profile[key] = norm
	return nil
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseValue interprets s as JSON when it parses, otherwise as a plain string.
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
