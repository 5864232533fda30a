package xrefdb

import (
	"context"
	"os"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/watcher"
)

// Watch keeps the database in step with the files under dirs until ctx is
// done. After each debounce window, changed files are ingested, deleted
// ones removed, and links resolved. Errors from a window are logged and
// watching continues.
func (e *Engine) Watch(ctx context.Context, dirs []string) error {
	w, err := watcher.New(e.cfg.Watch, e.logger, func(paths []string) {
		e.applyChanges(ctx, paths)
	})
	if err != nil {
		return err
	}
	defer w.Close()
	w.SetFileFilter(e.Ingestible)

	if err := w.Watch(ctx, dirs); err != nil {
		return err
	}
	e.logger.Info("watching for changes", "dirs", dirs)
	<-ctx.Done()
	return nil
}

// applyChanges handles one debounced batch of paths from the watcher.
func (e *Engine) applyChanges(ctx context.Context, paths []string) {
	if ctx.Err() != nil {
		return
	}

	var changed []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := e.RemoveFile(ctx, path); err != nil {
				e.logger.Warn("remove failed", "path", path, "error", err)
			}
			continue
		}
		changed = append(changed, path)
	}

	summary, err := e.IngestFiles(ctx, changed)
	if err != nil && !errors.IsCode(err, errors.CodeCancelled) {
		e.logger.Warn("ingest failed", "error", err)
	}
	if err := e.Resolve(ctx); err != nil && !errors.IsCode(err, errors.CodeCancelled) {
		e.logger.Warn("resolve failed", "error", err)
		return
	}
	e.logger.Info("changes applied",
		"changed", len(changed), "removed", len(paths)-len(changed),
		"ingested", summary.Ingested, "failed", summary.Failed)
}
