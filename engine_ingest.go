package xrefdb

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/observability"
	"github.com/jward/xrefdb/internal/runtime"
	"github.com/jward/xrefdb/internal/store"
)

const (
	resultIngested  = "ingested"
	resultImage     = "image"
	resultUnchanged = "unchanged"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// ingestItem holds everything a worker needs to run a file's script.
type ingestItem struct {
	path     string
	fileID   int
	language *model.Language
	script   string
	hash     string
	source   []byte
}

type ingestResult struct {
	item  ingestItem
	batch *runtime.Batch
	err   error
}

// IngestFiles runs each file's ingestion script and reconciles the stored
// topics and links with what it emitted, using a three-phase pipeline:
//
//	Phase A (serial):   Pick the script, skip unchanged files, register the path.
//	                    Image files are registered here and need no script.
//	Phase B (parallel): Run scripts in a worker pool.
//	Phase C (serial):   Apply each batch through a code database accessor.
//
// Only the changed topics and links are written, and every change is
// queued for the next Resolve. Files that fail are counted, logged and
// skipped; the returned error then reports how many failed.
func (e *Engine) IngestFiles(ctx context.Context, paths []string) (summary IngestSummary, err error) {
	ctx, span := observability.Tracer.Start(ctx, "xrefdb.IngestFiles")
	span.SetAttributes(attribute.Int("files", len(paths)))
	defer func() {
		span.SetAttributes(
			attribute.Int("ingested", summary.Ingested),
			attribute.Int("failed", summary.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var errs []error
	count := func(result string) {
		observability.FilesIngestedTotal.WithLabelValues(result).Inc()
		switch result {
		case resultIngested:
			summary.Ingested++
		case resultImage:
			summary.Images++
		case resultUnchanged:
			summary.Unchanged++
		case resultSkipped:
			summary.Skipped++
		case resultFailed:
			summary.Failed++
		}
	}

	// ---- Phase A: Serial file preparation ----
	var items []ingestItem
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, errors.Wrap(err, errors.CodeCancelled, "ingest files")
		}
		item, result, err := e.prepareFile(ctx, path)
		if err != nil {
			e.logger.Warn("ingest prepare failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("prepare %s: %w", path, err))
			count(resultFailed)
			continue
		}
		if result != "" {
			count(result)
			continue
		}
		items = append(items, item)
	}

	if len(items) > 0 {
		// ---- Phase B: Parallel script execution ----
		workers := min(max(e.ingestWorkers, 1), len(items))
		work := make(chan ingestItem)
		results := make(chan ingestResult, workers)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(work)
			for _, item := range items {
				select {
				case work <- item:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
		for range workers {
			g.Go(func() error {
				for item := range work {
					batch, err := e.runtime.IngestFile(gctx, item.script, runtime.File{
						Path:     item.path,
						ID:       item.fileID,
						Language: item.language,
						Source:   item.source,
					})
					select {
					case results <- ingestResult{item: item, batch: batch, err: err}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}

		var waitErr error
		go func() {
			waitErr = g.Wait()
			close(results)
		}()

		// ---- Phase C: Serial commit ----
		for res := range results {
			if res.err == nil {
				res.err = e.commitFile(ctx, res)
			}
			if res.err != nil {
				e.logger.Warn("ingest failed", "path", res.item.path, "error", res.err)
				errs = append(errs, fmt.Errorf("ingest %s: %w", res.item.path, res.err))
				count(resultFailed)
				continue
			}
			e.logger.Debug("file ingested", "path", res.item.path, "file_id", res.item.fileID,
				"topics", len(res.batch.Topics), "links", len(res.batch.Links), "image_links", len(res.batch.ImageLinks))
			count(resultIngested)
		}

		if waitErr != nil {
			return summary, errors.Wrap(waitErr, errors.CodeCancelled, "ingest files")
		}
	}

	if err := ctx.Err(); err != nil {
		return summary, errors.Wrap(err, errors.CodeCancelled, "ingest files")
	}
	if len(errs) > 0 {
		return summary, fmt.Errorf("ingestion had %d error(s): %w", len(errs), errs[0])
	}
	return summary, nil
}

// prepareFile does Phase A work for a single file. A non-empty result means
// the file needs no script run and says why.
func (e *Engine) prepareFile(ctx context.Context, path string) (ingestItem, string, error) {
	path = filepath.Clean(path)
	if runtime.IsImageFile(path) {
		result, err := e.prepareImageFile(ctx, path)
		return ingestItem{}, result, err
	}
	script, langName, ok := e.scriptFor(path)
	if !ok {
		return ingestItem{}, resultSkipped, nil
	}
	lang, ok := e.registry.LanguageByName(langName)
	if !ok {
		return ingestItem{}, "", errors.Newf(errors.CodeValidationError, "unknown language %q", langName)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ingestItem{}, "", errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read file"), errors.CtxPath, path)
	}
	hash := store.HashContent(content)

	existing, err := e.store.FileByPath(ctx, path)
	if err != nil {
		return ingestItem{}, "", err
	}
	if existing != nil && existing.Hash == hash && existing.LanguageID == lang.ID && !e.force {
		return ingestItem{}, resultUnchanged, nil
	}

	fileID, err := e.store.EnsureFile(ctx, path, lang.ID)
	if err != nil {
		return ingestItem{}, "", err
	}
	return ingestItem{
		path:     path,
		fileID:   fileID,
		language: lang,
		script:   script,
		hash:     hash,
		source:   content,
	}, "", nil
}

// prepareImageFile registers an image so image links can resolve to it.
// Its contents don't matter, so a file already registered as an image is
// unchanged.
func (e *Engine) prepareImageFile(ctx context.Context, path string) (string, error) {
	existing, err := e.store.FileByPath(ctx, path)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.IsImage {
		return resultUnchanged, nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "stat image"), errors.CtxPath, path)
	}
	fileID, err := e.store.EnsureImageFile(ctx, path)
	if err != nil {
		return "", err
	}
	e.resolver.AddImageFile(fileID, path)
	e.logger.Debug("image registered", "path", path, "file_id", fileID)
	return resultImage, nil
}

// commitFile applies one file's batch. The hash is recorded in the same
// lock as the topics and links, and only once they are stored, so a failed
// file is retried next time.
func (e *Engine) commitFile(ctx context.Context, res ingestResult) error {
	a, err := e.manager.NewAccessor(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	fileID := res.item.fileID
	a.GetReadPossibleWriteLock()
	defer a.ReleaseLock()
	if err := a.UpdateTopicsInFile(ctx, fileID, res.batch.Topics); err != nil {
		return err
	}
	if err := a.UpdateLinksInFile(ctx, fileID, res.batch.Links); err != nil {
		return err
	}
	if err := a.UpdateImageLinksInFile(ctx, fileID, res.batch.ImageLinks); err != nil {
		return err
	}
	return a.MarkFileIngested(ctx, fileID, res.item.hash, time.Now())
}

// scriptFor returns the script and language for path. The first matching
// ingest rule wins; otherwise the language comes from the extension and the
// script from runtime.IngestScriptPath, if such a script exists.
func (e *Engine) scriptFor(path string) (script, language string, ok bool) {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, r := range e.rules {
		if !r.pattern.Match(slashed) && !r.pattern.Match(base) {
			continue
		}
		language = r.language
		if language == "" {
			if language, ok = runtime.LanguageForFile(path); !ok {
				return "", "", false
			}
		}
		return r.script, language, true
	}

	language, ok = runtime.LanguageForFile(path)
	if !ok {
		return "", "", false
	}
	script = runtime.IngestScriptPath(language)
	if !e.hasScript(script) {
		return "", "", false
	}
	return script, language, true
}

func (e *Engine) hasScript(script string) bool {
	if v, ok := e.scriptExists.Load(script); ok {
		return v.(bool)
	}
	_, err := e.runtime.LoadScript(script)
	exists := err == nil
	e.scriptExists.Store(script, exists)
	return exists
}

// Ingestible reports whether IngestFiles would run a script for path or
// register it as an image.
func (e *Engine) Ingestible(path string) bool {
	if runtime.IsImageFile(path) {
		return true
	}
	_, _, ok := e.scriptFor(path)
	return ok
}

// --- Directory discovery ---

// IngestDirectory ingests every file under root that has a script. If root
// is inside a git repository, git ls-files is used to respect .gitignore;
// otherwise the tree is walked, skipping hidden directories, the configured
// watch exclusions and whatever root's .gitignore matches.
func (e *Engine) IngestDirectory(ctx context.Context, root string) (IngestSummary, error) {
	paths, err := e.gitListFiles(ctx, root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking directory", "root", root, "error", err)
		paths, err = e.walkListFiles(root)
		if err != nil {
			return IngestSummary{}, err
		}
	}
	return e.IngestFiles(ctx, paths)
}

// gitListFiles lists tracked and untracked but not ignored files under root.
func (e *Engine) gitListFiles(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		path := filepath.Join(root, line)
		if e.Ingestible(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (e *Engine) walkListFiles(root string) ([]string, error) {
	excluded := make(map[string]bool, len(e.cfg.Watch.ExcludeDirs))
	for _, dir := range e.cfg.Watch.ExcludeDirs {
		excluded[dir] = true
	}
	// Outside a git checkout the root .gitignore is still honored.
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		gi = nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if gi != nil {
			if rel, err := filepath.Rel(root, path); err == nil && gi.MatchesPath(filepath.ToSlash(rel)) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || excluded[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Ingestible(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "walk directory"), errors.CtxPath, root)
	}
	return paths, nil
}
