package fsbatch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// DefaultWatchDebounce coalesces bursts of watcher events.
const DefaultWatchDebounce = 100 * time.Millisecond

// DefaultWatchIgnore lists directory names the watcher skips.
var DefaultWatchIgnore = []string{".git", "node_modules"}

type watchSet struct {
	svc   *Service
	mu    sync.Mutex
	roots map[string]*treeWatch
}

func newWatchSet(svc *Service) *watchSet {
	return &watchSet{svc: svc, roots: make(map[string]*treeWatch)}
}

type treeWatch struct {
	root     string
	w        *fsnotify.Watcher
	svc      *Service
	logger   pslog.Logger
	ignore   map[string]bool
	debounce time.Duration
	done     chan struct{}
}

// Watch starts a recursive watcher on root. Changed paths are invalidated
// and reported as fs:changed. Watching a root twice is a no-op.
func (s *Service) Watch(root string) (string, error) {
	key := Canonical(root)
	info, err := os.Stat(key)
	if err != nil {
		return "", fsErr(root, err)
	}
	if !info.IsDir() {
		return "", schema.BadArgument("path", "is not a directory")
	}
	s.watches.mu.Lock()
	defer s.watches.mu.Unlock()
	if _, ok := s.watches.roots[key]; ok {
		return key, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return "", schema.IO(err)
	}
	ignore := s.cfg.WatchIgnore
	if ignore == nil {
		ignore = DefaultWatchIgnore
	}
	debounce := s.cfg.WatchDebounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	tw := &treeWatch{
		root:     key,
		w:        w,
		svc:      s,
		logger:   s.logger.With("root", key),
		ignore:   make(map[string]bool, len(ignore)),
		debounce: debounce,
		done:     make(chan struct{}),
	}
	for _, name := range ignore {
		tw.ignore[name] = true
	}
	if err := tw.addTree(key); err != nil {
		_ = w.Close()
		return "", schema.IO(err)
	}
	s.watches.roots[key] = tw
	go tw.loop()
	tw.logger.Info("fs watch start")
	return key, nil
}

// Unwatch stops the watcher on root. Unknown roots succeed.
func (s *Service) Unwatch(root string) error {
	key := Canonical(root)
	s.watches.mu.Lock()
	tw, ok := s.watches.roots[key]
	delete(s.watches.roots, key)
	s.watches.mu.Unlock()
	if !ok {
		return nil
	}
	return tw.close()
}

// Watches lists the watched roots.
func (s *Service) Watches() []string {
	s.watches.mu.Lock()
	defer s.watches.mu.Unlock()
	out := make([]string, 0, len(s.watches.roots))
	for root := range s.watches.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// Close stops every watcher.
func (s *Service) Close() error {
	s.watches.mu.Lock()
	roots := s.watches.roots
	s.watches.roots = make(map[string]*treeWatch)
	s.watches.mu.Unlock()
	var errs []error
	for _, tw := range roots {
		errs = append(errs, tw.close())
	}
	return errors.Join(errs...)
}

func (tw *treeWatch) close() error {
	err := tw.w.Close()
	<-tw.done
	tw.logger.Info("fs watch stop")
	return err
}

func (tw *treeWatch) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && tw.ignore[d.Name()] {
			return filepath.SkipDir
		}
		if err := tw.w.Add(p); err != nil {
			tw.logger.Debug("fs watch add failed", "path", p, "err", err)
		}
		return nil
	})
}

func (tw *treeWatch) loop() {
	defer close(tw.done)
	pending := map[string]bool{}
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-tw.w.Events:
			if !ok {
				return
			}
			tw.handle(ev)
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(tw.debounce)
				fire = timer.C
			}
		case err, ok := <-tw.w.Errors:
			if !ok {
				return
			}
			tw.logger.Warn("fs watch error", "err", err)
		case <-fire:
			timer, fire = nil, nil
			tw.flush(pending)
			pending = map[string]bool{}
		}
	}
}

// handle invalidates immediately so reads never wait for the debounce.
func (tw *treeWatch) handle(ev fsnotify.Event) {
	cache := tw.svc.cache
	switch {
	case ev.Has(fsnotify.Create):
		cache.InvalidateCreateDelete(ev.Name)
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() && !tw.ignore[filepath.Base(ev.Name)] {
			if err := tw.addTree(ev.Name); err != nil {
				tw.logger.Debug("fs watch add failed", "path", ev.Name, "err", err)
			}
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		cache.InvalidateCreateDelete(ev.Name)
		cache.InvalidateDirectory(ev.Name)
	default:
		cache.Invalidate(ev.Name)
	}
}

func (tw *treeWatch) flush(pending map[string]bool) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := tw.svc.sink.Emit(schema.TopicFSChanged, schema.FSChangedEvent{Root: tw.root, Paths: paths}); err != nil {
		tw.logger.Debug("fs changed emit failed", "err", err)
	}
}
