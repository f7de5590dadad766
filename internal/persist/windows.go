package persist

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pkt.systems/cortex/schema"
)

func (s *Store) windowPath(id string) string {
	return filepath.Join(s.dir, windowsDir, sanitize(id)+".json")
}

// SaveWindow writes the snapshot of one window.
func (s *Store) SaveWindow(snapshot schema.WindowSnapshot) (schema.WindowSnapshot, error) {
	if strings.TrimSpace(snapshot.WindowID) == "" {
		return schema.WindowSnapshot{}, schema.BadArgument("windowId", "is required")
	}
	snapshot.SavedAt = time.Now().Unix()
	if err := s.writeJSON(s.windowPath(snapshot.WindowID), snapshot); err != nil {
		return schema.WindowSnapshot{}, schema.IO(err)
	}
	return snapshot, nil
}

// LoadWindow reads the snapshot of one window.
func (s *Store) LoadWindow(id string) (schema.WindowSnapshot, error) {
	var snapshot schema.WindowSnapshot
	ok, err := s.readJSON(s.windowPath(id), &snapshot)
	if err != nil {
		return schema.WindowSnapshot{}, schema.IO(err)
	}
	if !ok {
		return schema.WindowSnapshot{}, schema.NotFound("window session", id)
	}
	return snapshot, nil
}

// ListWindows returns every saved snapshot, newest first.
func (s *Store) ListWindows() ([]schema.WindowSnapshot, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, windowsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, schema.IO(err)
	}
	var out []schema.WindowSnapshot
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var snapshot schema.WindowSnapshot
		ok, err := s.readJSON(filepath.Join(s.dir, windowsDir, entry.Name()), &snapshot)
		if err != nil || !ok {
			continue
		}
		out = append(out, snapshot)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt > out[j].SavedAt })
	return out, nil
}
