// Package persist keeps the app-config directory state: SSH profiles,
// window-session snapshots and settings. Files are written owner-only.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/pslog"
)

const (
	profilesFile = "profiles.json"
	settingsFile = "settings.json"
	windowsDir   = "windows"
)

// Store persists state under one directory.
type Store struct {
	dir string
	log pslog.Logger

	mu sync.Mutex
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "path", path)
			}
			return false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "path", path, "err", err)
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "path", path, "err", err)
		}
		return false, err
	}
	return true, nil
}

// writeJSON replaces path atomically with the indented JSON of v.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.saveFailed(path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.saveFailed(path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return s.saveFailed(path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(path, err)
	}
	if s.log != nil {
		s.log.Trace("state save ok", "path", path)
	}
	return nil
}

func (s *Store) saveFailed(path string, err error) error {
	if s.log != nil {
		s.log.Warn("state save failed", "path", path, "err", err)
	}
	return err
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
