// Package store is the Persistence Adapters (C9): three JSON files under a
// data directory (bot-settings.json, trades.json, agents.json), each
// written atomically (temp file + rename) so a crash mid-write never
// corrupts the record. Grounded on the teacher's write-temp-then-rename
// idiom, generalized from a single-struct-per-file layout to the three
// keyed/appended shapes this domain's settings/trades/agents need.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"perp-engine/pkg/types"
)

// SettingsStore is the per-user settings persistence contract (spec.md §4.9).
type SettingsStore interface {
	Get(wallet string) (types.Settings, bool, error)
	Put(wallet string, settings types.Settings) error
}

// JSONSettingsStore implements SettingsStore as a single JSON file mapping
// lowercased wallet address to Settings.
type JSONSettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONSettingsStore opens (creating if absent) bot-settings.json under dir.
func NewJSONSettingsStore(dir string) (*JSONSettingsStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &JSONSettingsStore{path: filepath.Join(dir, "bot-settings.json")}, nil
}

func (s *JSONSettingsStore) readAllLocked() (map[string]types.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]types.Settings{}, nil
		}
		return nil, fmt.Errorf("store: read settings: %w", err)
	}
	out := map[string]types.Settings{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal settings: %w", err)
	}
	return out, nil
}

func (s *JSONSettingsStore) writeAllLocked(all map[string]types.Settings) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal settings: %w", err)
	}
	return atomicWrite(s.path, data)
}

// Get returns a user's settings, with ok=false if none are on record.
func (s *JSONSettingsStore) Get(wallet string) (types.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return types.Settings{}, false, err
	}
	settings, ok := all[strings.ToLower(wallet)]
	return settings, ok, nil
}

// Put writes (overwrites) a user's settings. Concurrent writers for the
// same wallet serialize last-writer-wins via the store's mutex.
func (s *JSONSettingsStore) Put(wallet string, settings types.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return err
	}
	all[strings.ToLower(wallet)] = settings
	return s.writeAllLocked(all)
}

// atomicWrite writes data to path via a temp file plus rename, so a crash
// mid-write never leaves path partially written.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}
