// Package settings holds the live notification settings snapshot.
package settings

import (
	"sync"

	"mapwatch/internal/domain"
)

// PersistFunc saves one settings snapshot to durable storage.
// Params: settings snapshot after a successful in-memory update.
// Returns: persistence error surfaced to the updater.
type PersistFunc func(settings domain.NotifySettings) error

// Store guards the mutable notification settings shared between the
// monitor loop and the management surface.
// Params: current snapshot and optional persist hook.
// Returns: concurrency-safe settings holder.
type Store struct {
	mu      sync.RWMutex
	current domain.NotifySettings
	persist PersistFunc
}

// NewStore creates the store with an initial snapshot.
// Params: initial settings and optional persist hook (nil skips saving).
// Returns: initialized store.
func NewStore(initial domain.NotifySettings, persist PersistFunc) *Store {
	return &Store{current: initial.Clone(), persist: persist}
}

// Get returns the current settings snapshot.
// Params: none.
// Returns: cloned snapshot safe to read without coordination.
func (s *Store) Get() domain.NotifySettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update replaces the settings and persists the new snapshot.
// Params: full replacement settings.
// Returns: persist hook error; the in-memory value is kept either way so
// the running monitor always uses what the user last submitted.
func (s *Store) Update(next domain.NotifySettings) error {
	s.mu.Lock()
	s.current = next.Clone()
	persist := s.persist
	snapshot := s.current.Clone()
	s.mu.Unlock()

	if persist == nil {
		return nil
	}
	return persist(snapshot)
}
