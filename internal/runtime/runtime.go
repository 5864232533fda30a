// Package runtime runs the Risor scripts that turn a source file into the
// ordered topics and links stored for it. Scripts get tree-sitter host
// functions so topics can be derived from code declarations.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/model"
)

// Runtime evaluates ingestion scripts. Every call gets its own parse state
// and Batch, so one Runtime may be shared by any number of goroutines.
type Runtime struct {
	registry   *model.Registry
	logger     *slog.Logger
	scriptsDir string
	fsys       fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Import statements resolve against the same FS.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger sets the logger behind the scripts' log global.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime creates a Runtime that resolves language and topic type names
// through registry and loads scripts from scriptsDir. A nil registry means
// model.DefaultRegistry().
func NewRuntime(registry *model.Registry, scriptsDir string, opts ...RuntimeOption) *Runtime {
	if registry == nil {
		registry = model.DefaultRegistry()
	}
	r := &Runtime{
		registry:   registry,
		scriptsDir: scriptsDir,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// File is the input to one ingestion run.
type File struct {
	Path     string
	ID       int
	Language *model.Language
	Source   []byte
}

// IngestFile runs script against f and returns everything it emitted.
// Topics are ordered by the line they start on, with emission order
// breaking ties, since their position in the file is taken from their
// order in the batch. Links keep emission order. Nothing is written to the
// database.
func (r *Runtime) IngestFile(ctx context.Context, script string, f File) (*Batch, error) {
	if f.Language == nil {
		return nil, errors.AddContext(
			errors.New(errors.CodeValidationError, "ingest file: no language"), errors.CtxPath, f.Path)
	}
	src, err := r.LoadScript(script)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	e := &emitter{registry: r.registry, file: f, batch: batch}
	globals := map[string]any{
		"path":       f.Path,
		"source":     string(f.Source),
		"file_id":    int64(f.ID),
		"language":   f.Language.Name,
		"emit_topic": e.topicFn(),
		"emit_link":  e.linkFn(),

		"emit_image_link": e.imageLinkFn(),
	}
	if err := r.eval(ctx, src, script, f.Path, globals); err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, f.Path)
	}
	sort.SliceStable(batch.Topics, func(i, j int) bool {
		return startLine(batch.Topics[i]) < startLine(batch.Topics[j])
	})
	r.logger.Debug("script ingested file",
		"path", f.Path, "script", script, "topics", len(batch.Topics), "links", len(batch.Links),
		"image_links", len(batch.ImageLinks))
	return batch, nil
}

// startLine is where a topic begins: its comment if it has one, otherwise
// its code.
func startLine(t *model.Topic) int {
	if t.CommentLineNumber > 0 {
		return t.CommentLineNumber
	}
	return t.CodeLineNumber
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, "", extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", "", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label, path string, extraGlobals map[string]any) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeCancelled, "run script")
	}
	globals := r.buildGlobals(path, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.CodeCancelled, "run script")
		}
		return errors.AddContext(errors.Wrap(err, errors.CodeScriptFailure, "run script"), errors.CtxScript, label)
	}
	return nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code. Paths are
// relative to the configured fs.FS, or to scriptsDir on disk.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		// fs.FS paths never start with a separator.
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "load script"), errors.CtxScript, fsPath)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "load script"), errors.CtxScript, fullPath)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
// Parsed trees live only as long as the call that created them.
func (r *Runtime) buildGlobals(path string, extra map[string]any) map[string]any {
	sources := newSourceStore()
	logger := r.logger
	if path != "" {
		logger = logger.With("path", path)
	}
	globals := map[string]any{
		"parse_src":       makeParseSrcFn(sources),
		"node_text":       makeNodeTextFn(sources),
		"node_child":      makeNodeChildFn(),
		"query":           makeQueryFn(sources),
		"symbol":          makeSymbolFn(),
		"context":         makeContextFn(),
		"class_string":    makeClassStringFn(r.registry),
		"doc_links":       makeDocLinksFn(),
		"doc_image_links": makeDocImageLinksFn(),
		"log":             mustProxy(&logObject{logger: logger}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
