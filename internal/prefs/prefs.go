package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// OnboardingKey marks that the onboarding tour has been shown.
const OnboardingKey = "nicrolabs_onboarding_seen"

// Store is a small persistent set of boolean flags kept in a JSON file. An
// empty path keeps flags in memory only.
type Store struct {
	mu    sync.Mutex
	path  string
	flags map[string]bool
}

// DefaultPath returns the flag file under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nicrolabs-studio", "prefs.json")
}

func Open(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path), flags: make(map[string]bool)}
	if s.path == "" {
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.flags); err != nil {
		return nil, fmt.Errorf("decode prefs %s: %w", s.path, err)
	}
	return s, nil
}

func (s *Store) Get(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key]
}

func (s *Store) Set(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags[key] == value {
		return nil
	}
	s.flags[key] = value
	return s.saveLocked()
}

// FirstVisit reports whether key was unset and marks it in the same step.
func (s *Store) FirstVisit(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags[key] {
		return false, nil
	}
	s.flags[key] = true
	return true, s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := json.MarshalIndent(s.flags, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}
