// Package xrefdb builds a cross-reference database: source and
// documentation files are ingested into topics (things that can be linked
// to) and links (references to them), and every link is resolved to the
// topic that best matches it.
//
// # Pipeline
//
//  1. Ingest: for each file, a Risor script picked by the file's language or
//     an ingest rule emits the file's topics and links. Only the
//     differences from what is stored are written, and each change is
//     queued for resolution.
//
//  2. Resolve: queued links are scored against every topic sharing their
//     ending symbol, and links that could now match newly added topics are
//     rescored. Unchanged parts of the database are never revisited.
//
// # Usage
//
//	e, err := xrefdb.New("xrefdb.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	_, err = e.IngestDirectory(ctx, "path/to/project")
//	err = e.Resolve(ctx)
//
//	links, err := e.LinksInFile(ctx, "path/to/project/main.go")
//
// # Scripts
//
// Scripts are embedded in the binary under scripts/ingest/{language}.risor
// and may be replaced with [WithScriptsFS] or [WithScriptsDir]. Besides
// tree-sitter host functions, scripts receive emit_topic and emit_link;
// see the internal/runtime package for the full set of globals.
package xrefdb
