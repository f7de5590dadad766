package fsbatch

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"pkt.systems/cortex/schema"
)

// Cache defaults.
const (
	DefaultContentsSize          = 256
	DefaultContentsTTL           = 5 * time.Second
	DefaultMaxCachedFileSize     = 1 << 20
	DefaultMetadataTTL           = 10 * time.Second
	DefaultExistenceTTL          = 10 * time.Second
	DefaultInvalidationRetention = 60 * time.Second
)

// CacheConfig sizes the caches.
type CacheConfig struct {
	ContentsSize          int
	ContentsTTL           time.Duration
	MaxCachedFileSize     int64
	MetadataTTL           time.Duration
	ExistenceTTL          time.Duration
	InvalidationRetention time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.ContentsSize <= 0 {
		c.ContentsSize = DefaultContentsSize
	}
	if c.ContentsTTL <= 0 {
		c.ContentsTTL = DefaultContentsTTL
	}
	if c.MaxCachedFileSize <= 0 {
		c.MaxCachedFileSize = DefaultMaxCachedFileSize
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = DefaultMetadataTTL
	}
	if c.ExistenceTTL <= 0 {
		c.ExistenceTTL = DefaultExistenceTTL
	}
	if c.InvalidationRetention <= 0 {
		c.InvalidationRetention = DefaultInvalidationRetention
	}
	return c
}

type metaEntry struct {
	md     schema.FileMetadata
	stored time.Time
}

type existsEntry struct {
	exists bool
	stored time.Time
}

// Cache holds file contents, metadata and existence keyed by canonical
// path. While a path or one of its ancestor directories is in the recently
// invalidated set, reads miss and nothing is stored for it.
type Cache struct {
	cfg      CacheConfig
	contents *expirable.LRU[string, []byte]

	mu          sync.Mutex
	meta        map[string]metaEntry
	exists      map[string]existsEntry
	invalidated map[string]time.Time
	dirs        map[string]time.Time
}

// NewCache builds an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:         cfg,
		contents:    expirable.NewLRU[string, []byte](cfg.ContentsSize, nil, cfg.ContentsTTL),
		meta:        make(map[string]metaEntry),
		exists:      make(map[string]existsEntry),
		invalidated: make(map[string]time.Time),
		dirs:        make(map[string]time.Time),
	}
}

// Canonical resolves p to an absolute path with symlinks evaluated. Paths
// that do not exist keep their cleaned absolute form.
func Canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

// recentLocked reports whether key, or a directory above it, was
// invalidated within the retention window.
func (c *Cache) recentLocked(key string) bool {
	now := time.Now()
	if at, ok := c.invalidated[key]; ok && now.Sub(at) <= c.cfg.InvalidationRetention {
		return true
	}
	if len(c.dirs) == 0 {
		return false
	}
	for dir := key; ; {
		if at, ok := c.dirs[dir]; ok && now.Sub(at) <= c.cfg.InvalidationRetention {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// Contents returns cached bytes for key.
func (c *Cache) Contents(key string) ([]byte, bool) {
	c.mu.Lock()
	recent := c.recentLocked(key)
	c.mu.Unlock()
	if recent {
		c.contents.Remove(key)
		return nil, false
	}
	return c.contents.Get(key)
}

// StoreContents caches data unless it is larger than the bypass size or key
// was recently invalidated.
func (c *Cache) StoreContents(key string, data []byte) {
	if int64(len(data)) > c.cfg.MaxCachedFileSize {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recentLocked(key) {
		return
	}
	c.contents.Add(key, data)
}

// Metadata returns cached metadata for key.
func (c *Cache) Metadata(key string) (schema.FileMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.meta[key]
	if !ok {
		return schema.FileMetadata{}, false
	}
	if time.Since(entry.stored) > c.cfg.MetadataTTL || c.recentLocked(key) {
		delete(c.meta, key)
		return schema.FileMetadata{}, false
	}
	return entry.md, true
}

// StoreMetadata caches metadata for key, which also proves existence.
func (c *Cache) StoreMetadata(key string, md schema.FileMetadata, readAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recentLocked(key) {
		return
	}
	c.meta[key] = metaEntry{md: md, stored: readAt}
	c.exists[key] = existsEntry{exists: true, stored: readAt}
}

// Exists returns the cached existence of key.
func (c *Cache) Exists(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.exists[key]
	if !ok {
		return false, false
	}
	if time.Since(entry.stored) > c.cfg.ExistenceTTL || c.recentLocked(key) {
		delete(c.exists, key)
		return false, false
	}
	return entry.exists, true
}

// StoreExists caches the existence of key.
func (c *Cache) StoreExists(key string, exists bool, readAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recentLocked(key) {
		return
	}
	c.exists[key] = existsEntry{exists: exists, stored: readAt}
}

// Invalidate drops key from every cache and marks it recently invalidated.
func (c *Cache) Invalidate(key string) {
	now := time.Now()
	c.contents.Remove(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, key)
	delete(c.exists, key)
	c.invalidated[key] = now
	c.pruneLocked(now)
}

// InvalidateCreateDelete invalidates key and the existence of its parent.
func (c *Cache) InvalidateCreateDelete(key string) {
	c.Invalidate(key)
	parent := filepath.Dir(key)
	if parent == key {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exists, parent)
	c.invalidated[parent] = now
}

// InvalidateDirectory drops every entry under prefix.
func (c *Cache) InvalidateDirectory(prefix string) {
	now := time.Now()
	for _, key := range c.contents.Keys() {
		if under(key, prefix) {
			c.contents.Remove(key)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.meta {
		if under(key, prefix) {
			delete(c.meta, key)
		}
	}
	for key := range c.exists {
		if under(key, prefix) {
			delete(c.exists, key)
		}
	}
	c.dirs[prefix] = now
	c.pruneLocked(now)
}

// Recent reports whether key was invalidated within the retention window.
func (c *Cache) Recent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.invalidated[key]
	return ok && time.Since(at) <= c.cfg.InvalidationRetention
}

func (c *Cache) pruneLocked(now time.Time) {
	for key, at := range c.invalidated {
		if now.Sub(at) > c.cfg.InvalidationRetention {
			delete(c.invalidated, key)
		}
	}
	for key, at := range c.dirs {
		if now.Sub(at) > c.cfg.InvalidationRetention {
			delete(c.dirs, key)
		}
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.contents.Purge()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = make(map[string]metaEntry)
	c.exists = make(map[string]existsEntry)
}

// Stats counts the live entries of each cache.
func (c *Cache) Stats() schema.FSCacheStats {
	contents := c.contents.Len()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(time.Now())
	return schema.FSCacheStats{
		Contents:    contents,
		Metadata:    len(c.meta),
		Existence:   len(c.exists),
		Invalidated: len(c.invalidated) + len(c.dirs),
	}
}

func under(key, prefix string) bool {
	if key == prefix {
		return true
	}
	p := strings.TrimSuffix(prefix, string(filepath.Separator))
	return strings.HasPrefix(key, p+string(filepath.Separator))
}
