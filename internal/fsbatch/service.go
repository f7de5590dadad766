// Package fsbatch runs batched local file system reads behind a short-lived
// cache, routes writes through the same cache so they invalidate it, and
// watches directory trees for external changes.
package fsbatch

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultParallelism bounds concurrent commands in one batch.
	DefaultParallelism = 16
	// MaxReadSize bounds a single file read.
	MaxReadSize = 64 << 20
)

// Config tunes the service.
type Config struct {
	Cache       CacheConfig
	Parallelism int
	// WatchDebounce coalesces watcher events before they are emitted.
	WatchDebounce time.Duration
	// WatchIgnore lists directory names the watcher does not descend into.
	WatchIgnore []string
}

// Service executes file system commands.
type Service struct {
	cfg     Config
	cache   *Cache
	sink    core.EventSink
	logger  pslog.Logger
	watches *watchSet
}

// New constructs a service.
func New(cfg Config, sink core.EventSink, logger pslog.Logger) *Service {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if sink == nil {
		sink = core.DiscardSink{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Service{cfg: cfg, cache: NewCache(cfg.Cache), sink: sink, logger: logger}
	s.watches = newWatchSet(s)
	return s
}

// Cache exposes the cache for explicit invalidation.
func (s *Service) Cache() *Cache { return s.cache }

// Batch runs the commands concurrently and returns results in command order.
// Commands on the same path run one after another in command order, so a
// repeated read is served from the cache. A failing command fails only its
// own result.
func (s *Service) Batch(ctx context.Context, req schema.FSBatchRequest) schema.FSBatchResponse {
	results := make([]schema.FSResult, len(req.Commands))
	var groups [][]int
	byPath := map[string]int{}
	for i, cmd := range req.Commands {
		if cmd.Path == "" || len(cmd.Paths) > 0 {
			groups = append(groups, []int{i})
			continue
		}
		key := Canonical(cmd.Path)
		g, ok := byPath[key]
		if !ok {
			g = len(groups)
			byPath[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, group := range groups {
		g.Go(func() error {
			for _, i := range group {
				results[i] = s.run(gctx, req.Commands[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return schema.FSBatchResponse{Results: results}
}

func (s *Service) run(ctx context.Context, cmd schema.FSCommand) schema.FSResult {
	if err := ctx.Err(); err != nil {
		return failed(cmd.Op, cmd.Path, schema.FromContext(err))
	}
	switch cmd.Op {
	case schema.FSReadText, schema.FSReadBinary, schema.FSMetadata,
		schema.FSExists, schema.FSIsFile, schema.FSIsDirectory:
		if strings.TrimSpace(cmd.Path) == "" {
			return failed(cmd.Op, cmd.Path, schema.BadArgument("path", "is required"))
		}
		return s.single(cmd.Op, cmd.Path)
	}
	single, ok := batchedOps[cmd.Op]
	if !ok {
		return failed(cmd.Op, cmd.Path, schema.BadArgument("op", "unknown operation "+string(cmd.Op)))
	}
	res := schema.FSResult{Op: cmd.Op, Ok: true, Results: make([]schema.FSResult, 0, len(cmd.Paths))}
	for _, p := range cmd.Paths {
		if err := ctx.Err(); err != nil {
			res.Results = append(res.Results, failed(single, p, schema.FromContext(err)))
			continue
		}
		res.Results = append(res.Results, s.single(single, p))
	}
	return res
}

var batchedOps = map[schema.FSOp]schema.FSOp{
	schema.FSReadTextBatch:    schema.FSReadText,
	schema.FSReadBinaryBatch:  schema.FSReadBinary,
	schema.FSMetadataBatch:    schema.FSMetadata,
	schema.FSExistsBatch:      schema.FSExists,
	schema.FSIsFileBatch:      schema.FSIsFile,
	schema.FSIsDirectoryBatch: schema.FSIsDirectory,
}

func (s *Service) single(op schema.FSOp, p string) schema.FSResult {
	switch op {
	case schema.FSReadText:
		data, cached, err := s.ReadFile(p)
		if err != nil {
			return failed(op, p, err)
		}
		if !utf8.Valid(data) {
			return failed(op, p, schema.BadArgument("path", "file is not valid UTF-8 text"))
		}
		text := string(data)
		return schema.FSResult{Op: op, Path: p, Ok: true, Cached: cached, Text: &text}
	case schema.FSReadBinary:
		data, cached, err := s.ReadFile(p)
		if err != nil {
			return failed(op, p, err)
		}
		enc := base64.StdEncoding.EncodeToString(data)
		return schema.FSResult{Op: op, Path: p, Ok: true, Cached: cached, Base64: &enc}
	case schema.FSMetadata:
		md, cached, err := s.Metadata(p)
		if err != nil {
			return failed(op, p, err)
		}
		return schema.FSResult{Op: op, Path: p, Ok: true, Cached: cached, Metadata: &md}
	case schema.FSExists:
		ok, cached, err := s.Exists(p)
		if err != nil {
			return failed(op, p, err)
		}
		return schema.FSResult{Op: op, Path: p, Ok: true, Cached: cached, Value: &ok}
	case schema.FSIsFile, schema.FSIsDirectory:
		md, cached, err := s.Metadata(p)
		var value bool
		switch {
		case errors.Is(err, schema.ErrNotFound):
		case err != nil:
			return failed(op, p, err)
		case op == schema.FSIsFile:
			value = md.IsFile
		default:
			value = md.IsDirectory
		}
		return schema.FSResult{Op: op, Path: p, Ok: true, Cached: cached, Value: &value}
	}
	return failed(op, p, schema.BadArgument("op", "unknown operation "+string(op)))
}

func failed(op schema.FSOp, p string, err error) schema.FSResult {
	return schema.FSResult{Op: op, Path: p, Error: schema.ToWire(err)}
}

func fsErr(p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return schema.NotFound("path", p)
	default:
		return schema.IO(err)
	}
}

// ReadFile returns the contents of p, from the cache when fresh.
func (s *Service) ReadFile(p string) ([]byte, bool, error) {
	key := Canonical(p)
	if data, ok := s.cache.Contents(key); ok {
		return data, true, nil
	}
	f, err := os.Open(key)
	if err != nil {
		return nil, false, fsErr(p, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, false, fsErr(p, err)
	}
	if info.IsDir() {
		return nil, false, schema.BadArgument("path", "is a directory")
	}
	data, err := io.ReadAll(io.LimitReader(f, MaxReadSize+1))
	if err != nil {
		return nil, false, fsErr(p, err)
	}
	if len(data) > MaxReadSize {
		return nil, false, schema.BadArgument("path", "file is larger than the read limit")
	}
	s.cache.StoreContents(key, data)
	return data, false, nil
}

// Metadata describes p, following symlinks.
func (s *Service) Metadata(p string) (schema.FileMetadata, bool, error) {
	key := Canonical(p)
	if md, ok := s.cache.Metadata(key); ok {
		return md, true, nil
	}
	readAt := time.Now()
	linfo, err := os.Lstat(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cache.StoreExists(key, false, readAt)
		}
		return schema.FileMetadata{}, false, fsErr(p, err)
	}
	info := linfo
	if linfo.Mode()&fs.ModeSymlink != 0 {
		if target, err := os.Stat(key); err == nil {
			info = target
		}
	}
	md := metadataFrom(key, info)
	md.IsSymlink = linfo.Mode()&fs.ModeSymlink != 0
	s.cache.StoreMetadata(key, md, readAt)
	return md, false, nil
}

func metadataFrom(p string, info fs.FileInfo) schema.FileMetadata {
	perm := info.Mode().Perm()
	return schema.FileMetadata{
		Path:        p,
		Size:        info.Size(),
		IsFile:      info.Mode().IsRegular(),
		IsDirectory: info.IsDir(),
		Readonly:    perm&0o222 == 0,
		Permissions: uint32(perm),
		Modified:    info.ModTime().Unix(),
	}
}

// Exists reports whether p exists.
func (s *Service) Exists(p string) (bool, bool, error) {
	key := Canonical(p)
	if ok, hit := s.cache.Exists(key); hit {
		return ok, true, nil
	}
	readAt := time.Now()
	_, err := os.Lstat(key)
	switch {
	case err == nil:
		s.cache.StoreExists(key, true, readAt)
		return true, false, nil
	case errors.Is(err, fs.ErrNotExist):
		s.cache.StoreExists(key, false, readAt)
		return false, false, nil
	default:
		return false, false, fsErr(p, err)
	}
}

// ReadDir lists a directory, directories first. Listings are not cached.
func (s *Service) ReadDir(p string) ([]schema.DirEntry, error) {
	dir := Canonical(p)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsErr(p, err)
	}
	out := make([]schema.DirEntry, 0, len(entries))
	for _, e := range entries {
		entry := schema.DirEntry{
			Name:        e.Name(),
			Path:        filepath.Join(dir, e.Name()),
			IsDirectory: e.IsDir(),
			IsSymlink:   e.Type()&fs.ModeSymlink != 0,
		}
		if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
			entry.Modified = info.ModTime().Unix()
		}
		if entry.IsSymlink {
			if target, err := os.Stat(entry.Path); err == nil {
				entry.IsDirectory = target.IsDir()
			}
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDirectory != out[j].IsDirectory {
			return out[i].IsDirectory
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}
