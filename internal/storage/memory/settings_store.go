package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/JakeFAU/fedisync/internal/settings"
)

// SettingsStore keeps runtime settings in a map.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettingsStore returns a store holding a copy of initial.
func NewSettingsStore(initial map[string]string) *SettingsStore {
	values := make(map[string]string, len(initial))
	maps.Copy(values, initial)
	return &SettingsStore{values: values}
}

// Get returns the raw value or settings.ErrNotFound.
func (s *SettingsStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return "", settings.ErrNotFound
	}
	return v, nil
}

// Set stores value under name.
func (s *SettingsStore) Set(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// All returns a copy of every stored setting.
func (s *SettingsStore) All(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values), nil
}

// Seed stores every value whose name is not already present.
func (s *SettingsStore) Seed(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if _, ok := s.values[k]; !ok {
			s.values[k] = v
		}
	}
	return nil
}
