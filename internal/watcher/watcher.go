// Package watcher watches collection documents directories with fsnotify and reports,
// debounced per collection, when a directory's content has changed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// ChangeFunc is called once per burst of changes under a collection's directory.
type ChangeFunc func(ctx context.Context, collectionID, dir string)

// Watcher maps documents directories to collections and calls onChange after their content
// settles for the debounce interval.
type Watcher struct {
	onChange   ChangeFunc
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	fsw      *fsnotify.Watcher
	roots    map[string]string   // collection id -> root dir
	watched  map[string][]string // collection id -> dirs added to fsw
	timers   map[string]*time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a directory must be quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions limits which file events count as changes. Empty means all files.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(r bool) Option {
	return func(w *Watcher) { w.recursive = r }
}

// New returns a watcher that reports changes to onChange.
func New(onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		onChange:  onChange,
		recursive: true,
		debounce:  defaultDebounce,
		roots:     make(map[string]string),
		watched:   make(map[string][]string),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	}
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	id, ok := w.collectionFor(ev.Name)
	if !ok || ev.Op == fsnotify.Chmod {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name), zap.String("collection", id))
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addNewDirectory(id, ev.Name)
			w.schedule(id)
			return
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		// a removed directory has no extension to match
		if filepath.Ext(ev.Name) == "" || matchExtension(ev.Name, w.extensions) {
			w.schedule(id)
		}
		return
	}
	if matchExtension(ev.Name, w.extensions) {
		w.schedule(id)
	}
}

// collectionFor returns the collection whose root most specifically contains path.
func (w *Watcher) collectionFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	clean := filepath.Clean(path)
	best, bestLen := "", -1
	for id, root := range w.roots {
		if (root == clean || inDir(root, clean)) && len(root) > bestLen {
			best, bestLen = id, len(root)
		}
	}
	return best, bestLen >= 0
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	extNorm := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

// schedule (re)starts the debounce timer of collection id.
func (w *Watcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.timers[id]; ok {
		t.Stop()
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() { w.fire(id) })
}

func (w *Watcher) fire(id string) {
	w.mu.Lock()
	delete(w.timers, id)
	dir, ok := w.roots[id]
	ctx := w.ctx
	stopped := w.fsw == nil
	w.mu.Unlock()
	if !ok || stopped || ctx.Err() != nil {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher reporting change", zap.String("collection", id), zap.String("dir", dir))
	}
	if w.onChange != nil {
		w.onChange(ctx, id, dir)
	}
}

// Watch starts watching dir as the documents directory of collection id, replacing any
// previous directory of id. With syncExisting the current content is reported once.
func (w *Watcher) Watch(id, dir string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", abs)
	}

	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return errors.New("watcher not started")
	}
	if w.roots[id] == abs {
		w.mu.Unlock()
		return nil
	}
	w.unwatchLocked(id)
	paths, err := w.addTreeLocked(abs)
	if err != nil {
		for _, p := range paths {
			_ = w.fsw.Remove(p)
		}
		w.mu.Unlock()
		return err
	}
	w.roots[id] = abs
	w.watched[id] = paths
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("watcher directory added", zap.String("collection", id), zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		w.schedule(id)
	}
	return nil
}

func (w *Watcher) addTreeLocked(root string) ([]string, error) {
	if !w.recursive {
		if err := w.fsw.Add(root); err != nil {
			return nil, err
		}
		return []string{root}, nil
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func (w *Watcher) addNewDirectory(id, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil || !w.recursive {
		return
	}
	paths, err := w.addTreeLocked(dir)
	if err != nil && w.logger != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.watched[id] = append(w.watched[id], paths...)
}

// Unwatch stops watching the directory of collection id.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatchLocked(id)
}

func (w *Watcher) unwatchLocked(id string) {
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
	if w.fsw != nil {
		for _, p := range w.watched[id] {
			_ = w.fsw.Remove(p)
		}
	}
	delete(w.watched, id)
	delete(w.roots, id)
}

// Directories returns a copy of the watched directory of each collection.
func (w *Watcher) Directories() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.roots))
	for id, dir := range w.roots {
		out[id] = dir
	}
	return out
}

// Stop stops the watcher and releases resources. Pending reports are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
