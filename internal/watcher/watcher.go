// Package watcher keeps the course store in step with the docs folders: new and changed
// documents are re-ingested, deleted ones have their course removed.
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

	"github.com/hyperjump/lectern/internal/ingest"
	"github.com/hyperjump/lectern/internal/storage"
)

const defaultDebounce = 400 * time.Millisecond

// Sink applies document changes.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
	DeleteBySource(ctx context.Context, path string) error
}

// Watcher watches docs folders with fsnotify and forwards debounced changes to a Sink.
type Watcher struct {
	sink        Sink
	roots       []string
	extensions  []string
	recursive   bool
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	ctx         context.Context
	mu          sync.Mutex
	pending     map[string]*time.Timer
	rootPaths   map[string][]string // root -> directories added to fsnotify
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
	ingestCount int
	removeCount int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over roots. extensions filters documents (empty = all).
func NewWatcher(sink Sink, roots, extensions []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		rootPaths:  make(map[string][]string),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called. Roots that do
// not exist are logged and dropped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true

	roots := w.roots[:0]
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			w.logger.Warn("not watching docs directory", zap.String("dir", root), zap.Error(err))
			continue
		}
		roots = append(roots, root)
	}
	w.roots = roots
	w.logger.Info("watching docs directories", zap.Strings("dirs", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) || ignored(path) {
		return
	}
	w.logger.Debug("watch event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if ingest.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.scheduleIngest(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if ingest.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.remove(path)
		}
	}
}

// ignored reports hidden files and editor swap or backup files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}

// handleNewDirectory watches a directory created under a root and ingests what it holds.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	if fw == nil {
		w.mu.Unlock()
		return
	}
	if !w.recursive {
		w.mu.Unlock()
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && ignored(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
	w.mu.Unlock()
	w.syncDirectory(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) scheduleIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	res, err := w.sink.IngestFile(w.context(), path)
	switch {
	case errors.Is(err, ingest.ErrSkipped):
		w.logger.Info("document skipped", zap.String("path", path), zap.Error(err))
	case err != nil:
		w.logger.Error("failed to ingest document", zap.String("path", path), zap.Error(err))
	case res.Skipped:
		w.logger.Debug("document unchanged", zap.String("path", path))
	default:
		w.mu.Lock()
		w.ingestCount++
		w.mu.Unlock()
		w.logger.Info("document ingested", zap.String("path", path),
			zap.String("course", res.Course.Name), zap.Int("chunks", res.Chunks))
	}
}

func (w *Watcher) remove(path string) {
	err := w.sink.DeleteBySource(w.context(), path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		w.logger.Debug("removed file had no course", zap.String("path", path))
	case err != nil:
		w.logger.Error("failed to remove course", zap.String("path", path), zap.Error(err))
	default:
		w.mu.Lock()
		w.removeCount++
		w.mu.Unlock()
		w.logger.Info("course removed with its document", zap.String("path", path))
	}
}

// AddDirectory starts watching root and, when syncExisting is set, ingests its documents
// in the background. The directory must exist.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if w.watcher != nil {
		if err := w.addRootLocked(abs); err != nil {
			return err
		}
	} else if info, err := os.Stat(abs); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("docs directory added", zap.String("dir", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	var paths []string
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.rootPaths[root] = []string{root}
		return nil
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		for _, p := range paths {
			_ = w.watcher.Remove(p)
		}
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *Watcher) syncDirectory(root string) {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	recursive := w.recursive
	w.mu.Unlock()
	w.logger.Debug("syncing docs directory", zap.String("dir", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (ignored(path) || !recursive) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ignored(path) && ingest.ExtensionAllowed(filepath.Ext(path), exts) {
			w.ingest(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Courses already ingested from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.watcher.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("docs directory removed", zap.String("dir", abs))
	return nil
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Counts returns how many documents were ingested and removed since Start.
func (w *Watcher) Counts() (ingested, removed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ingestCount, w.removeCount
}

// SyncExistingFiles ingests the documents already present in every root.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and drops pending ingests.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
