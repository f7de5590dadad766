package fsbatch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/cortex/schema"
)

// WriteFile creates or truncates p. Parent directories are created when
// createParents is set.
func (s *Service) WriteFile(p string, data []byte, createParents bool) error {
	if strings.TrimSpace(p) == "" {
		return schema.BadArgument("path", "is required")
	}
	key := Canonical(p)
	defer s.cache.InvalidateCreateDelete(key)
	if createParents {
		if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
			return fsErr(p, err)
		}
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(key); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(key, data, mode); err != nil {
		return fsErr(p, err)
	}
	s.logger.Debug("fs write ok", "path", key, "bytes", len(data))
	return nil
}

// CreateDirectory creates p, with parents when recursive.
func (s *Service) CreateDirectory(p string, recursive bool) error {
	if strings.TrimSpace(p) == "" {
		return schema.BadArgument("path", "is required")
	}
	key := Canonical(p)
	defer s.cache.InvalidateCreateDelete(key)
	if recursive {
		return fsErr(p, os.MkdirAll(key, 0o755))
	}
	return fsErr(p, os.Mkdir(key, 0o755))
}

// Delete removes p. Non-empty directories need recursive.
func (s *Service) Delete(p string, recursive bool) error {
	if strings.TrimSpace(p) == "" {
		return schema.BadArgument("path", "is required")
	}
	key := Canonical(p)
	if filepath.Dir(key) == key {
		return schema.BadArgument("path", "refusing to delete "+key)
	}
	info, err := os.Lstat(key)
	if err != nil {
		return fsErr(p, err)
	}
	defer s.cache.InvalidateCreateDelete(key)
	if info.IsDir() {
		defer s.cache.InvalidateDirectory(key)
		if recursive {
			return fsErr(p, os.RemoveAll(key))
		}
	}
	return fsErr(p, os.Remove(key))
}

// Rename moves from to to, replacing to when it is a file.
func (s *Service) Rename(from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return schema.BadArgument("path", "source and target are required")
	}
	src, dst := Canonical(from), Canonical(to)
	info, err := os.Lstat(src)
	if err != nil {
		return fsErr(from, err)
	}
	defer s.cache.InvalidateCreateDelete(src)
	defer s.cache.InvalidateCreateDelete(dst)
	if info.IsDir() {
		defer s.cache.InvalidateDirectory(src)
		defer s.cache.InvalidateDirectory(dst)
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, fs.ErrNotExist) {
			return schema.NotFound("path", to)
		}
		return fsErr(from, err)
	}
	return nil
}

// Invalidate drops p from the caches as if it had been written here.
func (s *Service) Invalidate(p string) {
	s.cache.Invalidate(Canonical(p))
}

// InvalidateDirectory drops every cached entry under prefix.
func (s *Service) InvalidateDirectory(prefix string) {
	s.cache.InvalidateDirectory(Canonical(prefix))
}
