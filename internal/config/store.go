package config

import (
	"errors"
	"fmt"
	"sync"
)

// Snapshot is an immutable view of the configuration at one version.
// Callers must not modify Config.
type Snapshot struct {
	Config  *Config
	Version uint64
}

// Store holds the live configuration. Readers get snapshots; writers go
// through Update, which persists before the new version becomes visible.
type Store struct {
	path string

	mu      sync.RWMutex
	cur     *Config
	version uint64
}

// OpenStore loads path (creating defaults on first run) into a Store.
func OpenStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &Store{path: path, cur: cfg, version: 1}, nil
}

// NewMemoryStore returns a Store that never touches disk.
func NewMemoryStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	cfg.Normalize()
	return &Store{cur: cfg, version: 1}
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Config: s.cur, Version: s.version}
}

// Update applies fn to a copy of the configuration, validates and saves the
// result, then publishes it. If fn or validation fails nothing changes.
func (s *Store) Update(fn func(*Config) error) (Snapshot, error) {
	if fn == nil {
		return Snapshot{}, errors.New("config: nil update func")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Clone()
	if err := fn(next); err != nil {
		return Snapshot{Config: s.cur, Version: s.version}, err
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return Snapshot{Config: s.cur, Version: s.version}, errors.Join(ErrInvalid, err)
	}
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			return Snapshot{Config: s.cur, Version: s.version}, err
		}
	}

	s.cur = next
	s.version++
	return Snapshot{Config: s.cur, Version: s.version}, nil
}
