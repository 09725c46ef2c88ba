package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mapping links an author email to a messaging destination.
type Mapping struct {
	Email         string `json:"email"`
	DestinationID string `json:"destination_id"`
	Kind          string `json:"kind"`
	Source        string `json:"source"` // "config" or "directory"
}

// Store persists resolved mappings between runs.
type Store struct {
	path string
	mu   sync.RWMutex
	data map[string]Mapping // key: kind + "/" + email
}

// NewStore opens (or starts) the identity map under dir.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		path: filepath.Join(dir, "identity_map.json"),
		data: make(map[string]Mapping),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&s.data); err != nil {
		return fmt.Errorf("failed to read identity map %s: %w", s.path, err)
	}
	return nil
}

// Save writes the map to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to save identity map: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to save identity map: %w", err)
	}
	return nil
}

func storeKey(kind, email string) string {
	return kind + "/" + email
}

// Get returns the mapping for email under kind, if any.
func (s *Store) Get(kind, email string) (Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[storeKey(kind, email)]
	return m, ok
}

// Put adds or replaces a mapping. Call Save to persist.
func (s *Store) Put(m Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[storeKey(m.Kind, m.Email)] = m
}
