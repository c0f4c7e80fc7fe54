// internal/store/snapshot.go
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type snapshot struct {
	SavedAt time.Time                   `json:"saved_at"`
	Tables  map[string][]map[string]any `json:"tables"`
}

// SaveToFile writes the full store contents to path as one JSON
// document, atomically.
func (s *MemStore) SaveToFile(path string) error {
	s.mu.Lock()
	snap := snapshot{
		SavedAt: s.now().UTC(),
		Tables:  make(map[string][]map[string]any, len(s.tables)),
	}
	for name, rows := range s.tables {
		copied := make([]map[string]any, len(rows))
		for i, row := range rows {
			copied[i] = copyRow(row)
		}
		snap.Tables[name] = copied
	}
	s.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadFromFile replaces the store contents with the snapshot at path.
// A missing file is not an error; the store is left empty.
func (s *MemStore) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string][]map[string]any, len(snap.Tables))
	for name, rows := range snap.Tables {
		s.tables[name] = rows
	}
	return nil
}
