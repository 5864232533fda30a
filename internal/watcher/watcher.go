// Package watcher reports debounced batches of changed file paths under a
// set of directory trees.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/jward/xrefdb/internal/config"
	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/observability"
)

// Watcher collects file system events and hands the affected paths to a
// callback once no new event has arrived for the debounce interval.
// Removed and renamed paths are reported like any other change; the
// callback decides what a missing file means.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	logger       *slog.Logger
	debounce     time.Duration
	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob
	accept       func(path string) bool
	onChange     func([]string)
	callbackMu   sync.Mutex

	pending   map[string]struct{}
	pendingMu sync.Mutex
	timer     *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Watcher from the watch settings. onChange is called with
// sorted paths and never concurrently with itself.
func New(cfg config.Watch, logger *slog.Logger, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New(errors.CodeValidationError, "watcher: nil change callback")
	}

	excludeDirs, err := compileAll(cfg.ExcludeDirs)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "watcher: exclude_dirs")
	}
	excludeFiles, err := compileAll(cfg.ExcludeFiles)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "watcher: exclude_files")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "watcher: create")
	}

	return &Watcher{
		fsWatcher:    fsw,
		logger:       logging.OrDefault(logger),
		debounce:     cfg.Debounce,
		excludeDirs:  excludeDirs,
		excludeFiles: excludeFiles,
		onChange:     onChange,
		pending:      make(map[string]struct{}),
		done:         make(chan struct{}),
	}, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// SetFileFilter restricts reported paths to those accept returns true for.
// Must be called before Watch.
func (w *Watcher) SetFileFilter(accept func(path string) bool) {
	w.accept = accept
}

// Watch adds every directory under paths and starts delivering events.
// Delivery stops when ctx is done or Close is called.
func (w *Watcher) Watch(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path); err != nil {
			return errors.AddContext(errors.Wrap(err, errors.CodeInternal, "watcher: add"), errors.CtxPath, path)
		}
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.shouldExcludeDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.shouldExcludeDir(event.Name) {
				return
			}
			if err := w.watchRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				return
			}
			// Files may land before the directory is being watched.
			w.enqueueExistingFiles(event.Name)
			return
		}
	}

	if w.shouldExcludeFile(event.Name) {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.scheduleChange(event.Name)
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	w.logger.Debug("files changed", "count", len(paths))
	w.onChange(paths)
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeFiles {
		if g.Match(base) {
			return true
		}
	}
	if w.accept != nil && !w.accept(path) {
		return true
	}
	return false
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.IsDir() {
			if path != root && w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.shouldExcludeFile(path) {
			w.scheduleChange(path)
		}
		return nil
	})
}

// Close stops the watcher and waits for a running callback to return.
// Changes still waiting out the debounce are dropped. Must not be called
// from the callback.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.pendingMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pendingMu.Unlock()
		err = w.fsWatcher.Close()
		w.callbackMu.Lock()
		w.callbackMu.Unlock()
	})
	return err
}
