package xrefdb

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"

	"github.com/jward/xrefdb/internal/codedb"
	"github.com/jward/xrefdb/internal/config"
	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/links"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/runtime"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/scripts"
)

// Engine orchestrates the xrefdb pipeline: ingestion through Risor scripts,
// link resolution, and read access to the resulting topics and links.
//
// Methods that change the database must not be called concurrently with
// each other. Reads may run at any time.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	manager  *codedb.Manager
	registry *model.Registry
	resolver *links.Resolver
	runtime  *runtime.Runtime

	scriptsFS         fs.FS
	scriptsDir        string
	rules             []ingestRule
	ingestWorkers     int
	resolveWorkers    int
	reparseEverything bool
	force             bool

	// scriptExists caches which scripts can be loaded, keyed by script path.
	scriptExists sync.Map
}

// ingestRule is a compiled config.Rule.
type ingestRule struct {
	pattern  glob.Glob
	script   string
	language string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration. Options applied after it
// still take precedence.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg == nil {
			return
		}
		e.cfg = cfg
		e.ingestWorkers = cfg.Ingest.Workers
		e.resolveWorkers = cfg.Resolver.Workers
		e.reparseEverything = cfg.Resolver.ReparseEverything
		if cfg.Ingest.ScriptsDir != "" {
			e.scriptsDir = cfg.Ingest.ScriptsDir
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithScriptsFS loads ingestion scripts from fsys instead of the built-in
// set. It takes precedence over WithScriptsDir.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithScriptsDir loads ingestion scripts from a directory on disk.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithWorkers sets how many goroutines run ingestion scripts and resolve
// links. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.ingestWorkers = n
			e.resolveWorkers = n
		}
	}
}

// WithReparseEverything tells the resolver that every file is about to be
// ingested again, so new topics don't need to be tracked until the first
// Resolve.
func WithReparseEverything(reparse bool) Option {
	return func(e *Engine) {
		e.reparseEverything = reparse
	}
}

// WithForce makes IngestFiles run scripts on files whose content hash has
// not changed.
func WithForce(force bool) Option {
	return func(e *Engine) {
		e.force = force
	}
}

// New opens or creates the database at dbPath and wires the code database,
// resolver and script runtime. An empty dbPath uses the configured
// database path.
//
// Script loading priority:
//  1. WithScriptsFS
//  2. WithScriptsDir, or ingest.scripts_dir from the config
//  3. the scripts embedded in the binary
func New(dbPath string, opts ...Option) (*Engine, error) {
	cfg := config.Default()
	e := &Engine{
		cfg:            cfg,
		ingestWorkers:  cfg.Ingest.Workers,
		resolveWorkers: cfg.Resolver.Workers,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger)
	if dbPath == "" {
		dbPath = e.cfg.Database.Path
	}

	registry, err := e.cfg.Registry()
	if err != nil {
		return nil, err
	}
	e.registry = registry
	if err := e.compileRules(); err != nil {
		return nil, err
	}

	s, err := store.NewStoreWithTimeout(dbPath, e.cfg.Database.BusyTimeout)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, dbPath)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	e.store = s

	interpreter := e.cfg.Interpreter()
	scorer := links.NewScorer(registry, interpreter)
	e.manager = codedb.NewManager(s,
		codedb.WithLogger(e.logger),
		codedb.WithInterpreter(interpreter),
		codedb.WithClassDefinitionRanker(scorer.IsBetterClassDefinition),
	)
	if err := e.manager.Start(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	e.resolver = links.NewResolver(e.manager, scorer, links.NewUnprocessedChanges(e.reparseEverything), e.logger)
	e.manager.AddChangeWatcher(e.resolver)

	rtOpts := []runtime.RuntimeOption{runtime.WithLogger(e.logger)}
	switch {
	case e.scriptsFS != nil:
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	case e.scriptsDir == "":
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(scripts.FS))
	}
	e.runtime = runtime.NewRuntime(registry, e.scriptsDir, rtOpts...)

	e.logger.Debug("engine opened", "db", dbPath, "ingest_workers", e.ingestWorkers, "resolve_workers", e.resolveWorkers)
	return e, nil
}

func (e *Engine) compileRules() error {
	for _, r := range e.cfg.Ingest.Rules {
		g, err := glob.Compile(r.Pattern, '/')
		if err != nil {
			return errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "compile ingest rule"), "pattern", r.Pattern)
		}
		e.rules = append(e.rules, ingestRule{pattern: g, script: r.Script, language: r.Language})
	}
	return nil
}

// Close saves the database state and releases its resources.
func (e *Engine) Close() error {
	return e.manager.Close(context.Background())
}

// Registry returns the language and topic type registry in use.
func (e *Engine) Registry() *model.Registry {
	return e.registry
}

// Resolve works through every queued change until all links point at their
// best topics, then deletes classes and contexts nothing refers to any
// more.
func (e *Engine) Resolve(ctx context.Context) error {
	if err := e.resolver.Run(ctx, e.resolveWorkers); err != nil {
		return err
	}
	return e.manager.Cleanup(ctx)
}

// Pending returns the number of changes waiting for Resolve.
func (e *Engine) Pending() int {
	return e.resolver.Status().Remaining
}

// RemoveFile deletes a file's topics, links and image links and forgets the
// file, all under one code database lock. Links elsewhere that targeted its
// topics, or image links that targeted it as an image, are queued for
// resolution. Unknown paths are ignored.
func (e *Engine) RemoveFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	f, err := e.store.FileByPath(ctx, path)
	if err != nil || f == nil {
		return err
	}

	a, err := e.manager.NewAccessor(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	a.GetReadPossibleWriteLock()
	err = e.removeFileLocked(ctx, a, f)
	a.ReleaseLock()
	if err != nil {
		return errors.AddContext(err, errors.CtxPath, path)
	}
	e.logger.Debug("file removed", "path", path, "file_id", f.ID, "image", f.IsImage)
	return nil
}

// removeFileLocked deletes everything stored for f, then f itself, under
// a's lock.
func (e *Engine) removeFileLocked(ctx context.Context, a *codedb.Accessor, f *store.File) error {
	if f.IsImage {
		affected, err := a.DeleteImageFileTargets(ctx, f.ID)
		if err != nil {
			return err
		}
		if err := a.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
		e.resolver.DeleteImageFile(f.ID, f.Path, affected)
		return nil
	}

	if err := a.DeleteTopicsInFile(ctx, f.ID); err != nil {
		return err
	}
	if err := a.DeleteLinksInFile(ctx, f.ID); err != nil {
		return err
	}
	if err := a.DeleteImageLinksInFile(ctx, f.ID); err != nil {
		return err
	}
	return a.DeleteFile(ctx, f.ID)
}

// --- Reads ---

// TopicsInFile returns a file's topics in file order.
func (e *Engine) TopicsInFile(ctx context.Context, path string) ([]*Topic, error) {
	f, err := e.fileByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	a, err := e.manager.NewAccessor(ctx, false)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	a.GetReadOnlyLock()
	defer a.ReleaseLock()
	return a.GetTopicsInFile(ctx, f.ID, 0)
}

// LinksInFile returns a file's links, each with the topic it resolved to.
// Target is nil for links that are unresolved or matched nothing.
func (e *Engine) LinksInFile(ctx context.Context, path string) ([]*ResolvedLink, error) {
	f, err := e.fileByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	a, err := e.manager.NewAccessor(ctx, false)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	a.GetReadOnlyLock()
	defer a.ReleaseLock()

	fileLinks, err := a.GetLinksInFile(ctx, f.ID, 0)
	if err != nil {
		return nil, err
	}

	targetIDs := idset.New()
	for _, l := range fileLinks {
		if l.TargetTopicID > 0 {
			targetIDs.Add(l.TargetTopicID)
		}
	}
	targets := make(map[int]*Topic, targetIDs.Count())
	if !targetIDs.IsEmpty() {
		topics, err := a.GetTopicsByID(ctx, targetIDs, codedb.BodyLengthOnly)
		if err != nil {
			return nil, err
		}
		for _, t := range topics {
			targets[t.TopicID] = t
		}
	}

	resolved := make([]*ResolvedLink, 0, len(fileLinks))
	for _, l := range fileLinks {
		resolved = append(resolved, &ResolvedLink{Link: l, Target: targets[l.TargetTopicID]})
	}
	return resolved, nil
}

// ImageLinksInFile returns a file's image links, each with the image file it
// resolved to. Target is nil for image links that are unresolved or matched
// nothing.
func (e *Engine) ImageLinksInFile(ctx context.Context, path string) ([]*ResolvedImageLink, error) {
	f, err := e.fileByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	a, err := e.manager.NewAccessor(ctx, false)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	a.GetReadOnlyLock()
	defer a.ReleaseLock()

	imageLinks, err := a.GetImageLinksInFile(ctx, f.ID, 0)
	if err != nil {
		return nil, err
	}
	resolved := make([]*ResolvedImageLink, 0, len(imageLinks))
	for _, l := range imageLinks {
		rl := &ResolvedImageLink{Link: l}
		if l.IsResolved() {
			if rl.Target, err = e.store.FileByID(ctx, l.TargetFileID); err != nil {
				return nil, err
			}
		}
		resolved = append(resolved, rl)
	}
	return resolved, nil
}

// Files returns every ingested file ordered by path.
func (e *Engine) Files(ctx context.Context) ([]*File, error) {
	return e.store.Files(ctx)
}

// Stats summarizes the database and the resolver's queue.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Stats: *st, Pending: e.Pending()}, nil
}

func (e *Engine) fileByPath(ctx context.Context, path string) (*File, error) {
	path = filepath.Clean(path)
	f, err := e.store.FileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "file has not been ingested"), errors.CtxPath, path)
	}
	return f, nil
}
