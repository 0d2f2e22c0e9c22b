package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/latticehq/minionrt/internal/async"
	"github.com/latticehq/minionrt/internal/logging"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher monitors config.yaml and the MCP local override files and
// refreshes a Cache asynchronously, debouncing bursts of fs events into a
// single reload (e.g. editors that write via rename-into-place).
type Watcher struct {
	paths    map[string]struct{}
	dirs     []string
	cache    *Cache
	logger   logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes Watcher behavior.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce window for reloads.
func WithWatchDebounce(debounce time.Duration) WatcherOption {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithWatchLogger sets the logger for watcher diagnostics.
func WithWatchLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrNop(logger) }
}

// NewWatcher constructs a Watcher over paths, refreshing cache on change.
func NewWatcher(paths []string, cache *Cache, opts ...WatcherOption) (*Watcher, error) {
	if cache == nil {
		return nil, fmt.Errorf("config: watcher requires a cache")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("config: watcher requires at least one path")
	}

	set := make(map[string]struct{}, len(paths))
	dirSet := make(map[string]struct{}, len(paths))
	var dirs []string
	for _, p := range paths {
		p = normalizePath(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
		dir := filepath.Dir(p)
		if _, ok := dirSet[dir]; !ok {
			dirSet[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}

	w := &Watcher{
		paths:    set,
		dirs:     dirs,
		cache:    cache,
		logger:   logging.OrNop(nil),
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It registers the parent directory of every
// watched path (fsnotify has no per-file watch; watching the directory also
// catches rename-into-place saves).
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("config: watcher is nil")
	}
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	for _, dir := range w.dirs {
		if err := fsWatcher.Add(dir); err != nil {
			w.logger.Warn("config: watch %s: %v", dir, err)
		}
	}

	async.Go(w.logger, "config.watch", w.watchLoop)
	if ctx != nil {
		async.Go(w.logger, "config.watch.ctx", func() {
			<-ctx.Done()
			w.Stop()
		})
	}
	return nil
}

// Stop terminates the watcher. Idempotent.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

// Updates proxies the underlying cache's reload signal channel.
func (w *Watcher) Updates() <-chan struct{} {
	if w == nil || w.cache == nil {
		return nil
	}
	return w.cache.Updates()
}

// Resolve proxies to the underlying cache.
func (w *Watcher) Resolve(ctx context.Context) (Config, Metadata, error) {
	if w == nil || w.cache == nil {
		return Config{}, Metadata{}, fmt.Errorf("config: watcher not initialized")
	}
	return w.cache.Resolve(ctx)
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if _, watched := w.paths[filepath.Clean(event.Name)]; !watched {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if err := w.cache.Reload(context.Background()); err != nil {
			w.logger.Warn("config: reload failed: %v", err)
		}
	})
}
