package workspace

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dqlfmt/internal/logging"
	"dqlfmt/internal/parse"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-formats host files in place as they change. Events are
// debounced per path, and files whose content matches what the watcher
// itself last wrote are skipped.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	runner      Runner
	roots       []string
	dirs        []string
	files       map[string]bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	written     map[string][sha256.Size]byte
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	// OnResult, if set, is called after every processed file from the
	// watcher goroutine.
	OnResult func(Result)

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Processed     int
	Formatted     int
	SelfWrites    int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// NewWatcher creates a watcher over roots. The runner's engine, file
// filters and recorder are reused; its mode is forced to ModeWrite.
func NewWatcher(runner *Runner, roots []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	r := *runner
	r.Mode = ModeWrite
	r.Out = nil

	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		a, err := filepath.Abs(root)
		if err != nil {
			fw.Close()
			return nil, err
		}
		abs = append(abs, a)
	}

	return &Watcher{
		watcher:     fw,
		runner:      r,
		roots:       abs,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		written:     make(map[string][sha256.Size]byte),
		files:       make(map[string]bool),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start registers every non-ignored directory under the roots and begins
// watching in a goroutine. A root naming a single file watches its parent
// directory, but only that file is formatted.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, root := range w.roots {
		info, err := os.Stat(root)
		if err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return err
		}
		if !info.IsDir() {
			w.files[root] = true
			if err := w.watcher.Add(filepath.Dir(root)); err != nil {
				logging.WatchError("failed to watch %s: %v", root, err)
			}
			continue
		}
		w.dirs = append(w.dirs, root)
	}
	for _, dir := range w.dirs {
		w.addTree(dir)
	}

	go w.run(ctx)
	logging.Watch("watching %d directories", len(w.watcher.WatchList()))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

// IsWatching returns true if the watcher is currently running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) addTree(dir string) {
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			logging.WatchError("failed to watch %s: %v", p, err)
		}
		return nil
	})
	if err != nil {
		logging.WatchError("failed to walk %s: %v", dir, err)
	}
}

// inScope reports whether p is a named file root or lies under a directory
// root.
func (w *Watcher) inScope(p string) bool {
	if w.files[p] {
		return true
	}
	for _, dir := range w.dirs {
		if rel, err := filepath.Rel(dir, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ignored applies the ignore patterns relative to the containing root.
func (w *Watcher) ignored(p string) bool {
	for _, root := range w.dirs {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return isIgnoredRel(rel, filepath.Base(p), w.runner.Files.IgnorePatterns)
	}
	return false
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	parser := parse.NewParser()
	defer parser.Close()

	ticker := time.NewTicker(w.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

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
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.processDebounced(ctx, parser)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.inScope(event.Name) && !w.ignored(event.Name) {
				w.addTree(event.Name)
			}
			return
		}
	}
	if !w.inScope(event.Name) || !hasExtension(event.Name, w.runner.Files.Extensions) || w.ignored(event.Name) {
		return
	}

	logging.WatchDebug("%s %s", event.Op, event.Name)
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced(ctx context.Context, parser *parse.Parser) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for p, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, p)
			delete(w.debounceMap, p)
		}
	}
	w.mu.Unlock()

	for _, p := range settled {
		w.process(ctx, parser, p)
	}
}

func (w *Watcher) process(ctx context.Context, parser *parse.Parser, path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WatchError("failed to read %s: %v", path, err)
		}
		return
	}

	w.mu.Lock()
	last, ok := w.written[path]
	w.mu.Unlock()
	if ok && last == sha256.Sum256(src) {
		w.mu.Lock()
		w.stats.SelfWrites++
		w.mu.Unlock()
		return
	}

	res := w.runner.processFile(ctx, parser, path)

	w.mu.Lock()
	w.stats.Processed++
	switch {
	case res.Err != nil:
		w.stats.Errors++
	case res.Changed:
		w.stats.Formatted++
		w.written[path] = sha256.Sum256(res.Output)
	}
	w.mu.Unlock()

	if res.Err != nil {
		logging.WatchError("%v", res.Err)
	} else if res.Changed {
		logging.Watch("formatted %s (%d templates)", path, res.Stats.Formatted)
	}
	if w.OnResult != nil {
		w.OnResult(res)
	}
}
