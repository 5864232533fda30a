package runtime

import (
	"bytes"
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb/internal/config"
	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

const goDeclarationsScript = `
root := parse_src(source, language).RootNode()
pkg := ""
for _, m := range query("(package_clause (package_identifier) @name)", root) {
	pkg = node_text(m["name"])
}

for _, m := range query("(function_declaration name: (identifier) @name) @decl", root) {
	name := node_text(m["name"])
	emit_topic({
		"title": name,
		"type": "function",
		"symbol": pkg + "." + name,
		"prototype": node_text(m["decl"]),
		"code_line": int(m["decl"].StartPoint().Row) + 1
	})
}

for _, m := range query("(type_declaration (type_spec name: (type_identifier) @name)) @decl", root) {
	name := node_text(m["name"])
	emit_topic({
		"title": name,
		"type": "class",
		"symbol": pkg + "." + name,
		"class": pkg + "." + name,
		"defines_class": true,
		"code_line": int(m["decl"].StartPoint().Row) + 1
	})
}

emit_link({"text": "<Greet>", "context": context(pkg)})
emit_link({"type": "type", "symbol": "fmt.Stringer", "context": context(pkg, "fmt")})
`

func goFile(src string) File {
	lang, _ := model.DefaultRegistry().LanguageByName("Go")
	return File{Path: "main.go", ID: 7, Language: lang, Source: []byte(src)}
}

func ingestInline(t *testing.T, script string, f File) (*Batch, error) {
	t.Helper()
	rt := NewRuntime(nil, "", WithRuntimeFS(fstest.MapFS{
		"test.risor": &fstest.MapFile{Data: []byte(script)},
	}))
	return rt.IngestFile(context.Background(), "test.risor", f)
}

// =============================================================================
// IngestFile
// =============================================================================

func TestIngestFile_TopicsFromDeclarations(t *testing.T) {
	t.Parallel()
	batch, err := ingestInline(t, goDeclarationsScript, goFile(goTestSource))
	require.NoError(t, err)

	require.Len(t, batch.Topics, 3)
	var titles []string
	for _, topic := range batch.Topics {
		titles = append(titles, topic.Title)
		assert.Equal(t, 7, topic.FileID)
		assert.Equal(t, 2, topic.LanguageID)
		assert.Equal(t, model.AccessPublic, topic.EffectiveAccessLevel)
		assert.Zero(t, topic.TopicID, "IDs are assigned when stored")
	}
	assert.Equal(t, []string{"Greet", "Add", "Server"}, titles, "topics come back in source order")

	greet := batch.Topics[0]
	assert.Equal(t, symbols.SymbolString("main.Greet"), greet.Symbol)
	assert.Equal(t, 5, greet.CodeLineNumber)
	assert.Contains(t, greet.Prototype, "func Greet(name string) string")

	server := batch.Topics[2]
	assert.True(t, server.DefinesClass)
	assert.Equal(t, symbols.SymbolString("main.Server"), server.ClassString.Symbol())
	assert.True(t, server.ClassString.CaseSensitive())
	assert.Equal(t, 2, server.ClassString.LanguageID())
}

func TestIngestFile_Links(t *testing.T) {
	t.Parallel()
	batch, err := ingestInline(t, goDeclarationsScript, goFile(goTestSource))
	require.NoError(t, err)

	require.Len(t, batch.Links, 2)
	text := batch.Links[0]
	assert.Equal(t, model.LinkNaturalDocs, text.Type)
	assert.Equal(t, "<Greet>", text.TextOrSymbol, "free text is stored as written")
	assert.Equal(t, symbols.SymbolString("main"), text.Context.Scope())
	assert.Equal(t, 7, text.FileID)

	typed := batch.Links[1]
	assert.Equal(t, model.LinkTypeReference, typed.Type)
	assert.Equal(t, "fmt.Stringer", typed.TextOrSymbol)
	usings := typed.Context.UsingStatements()
	require.Len(t, usings, 1)
	assert.Equal(t, symbols.SymbolString("fmt"), usings[0].PrefixToAdd())
}

func TestIngestFile_ScriptGlobals(t *testing.T) {
	t.Parallel()
	script := `
assert(path == "main.go")
assert(file_id == 7)
assert(language == "Go")
assert(len(source) > 0)
`
	batch, err := ingestInline(t, script, goFile(goTestSource))
	require.NoError(t, err)
	assert.Empty(t, batch.Topics)
	assert.Empty(t, batch.Links)
}

func TestIngestFile_Helpers(t *testing.T) {
	t.Parallel()
	script := `
assert(symbol("Pkg::Widget") == "Pkg.Widget")
assert(symbol("Add(a, b)") == "Add")

emit_link({
	"text": "Widget",
	"context": context("Pkg.Sub", "System", ["Old", "New"]),
	"class_string": class_string("Pkg.Widget", "Python", 3)
})
emit_link({"text": "Gadget", "context": context(nil, "System")})
`
	batch, err := ingestInline(t, script, goFile(""))
	require.NoError(t, err)
	require.Len(t, batch.Links, 2)

	ctx := batch.Links[0].Context
	assert.Equal(t, symbols.SymbolString("Pkg.Sub"), ctx.Scope())
	usings := ctx.UsingStatements()
	require.Len(t, usings, 2)
	assert.Equal(t, symbols.UsingAddPrefix, usings[0].Type())
	assert.Equal(t, symbols.UsingReplacePrefix, usings[1].Type())
	assert.Equal(t, symbols.SymbolString("Old"), usings[1].PrefixToRemove())
	assert.Equal(t, symbols.SymbolString("New"), usings[1].PrefixToAdd())

	class := batch.Links[0].ClassString
	assert.Equal(t, 3, class.HierarchyID())
	assert.Equal(t, 3, class.LanguageID())

	assert.True(t, batch.Links[1].Context.ScopeIsGlobal())
	assert.True(t, batch.Links[1].Context.HasUsingStatements())
}

func TestIngestFile_TopicsSortedByStartLine(t *testing.T) {
	t.Parallel()
	script := `
emit_topic({"title": "Later", "type": "function", "code_line": 20})
emit_topic({"title": "Documented", "type": "function", "comment_line": 4, "code_line": 6})
emit_topic({"title": "Early", "type": "class", "code_line": 4})
emit_topic({"title": "Sibling", "type": "function", "code_line": 20})
`
	batch, err := ingestInline(t, script, goFile(""))
	require.NoError(t, err)

	var titles []string
	for _, topic := range batch.Topics {
		titles = append(titles, topic.Title)
	}
	assert.Equal(t, []string{"Documented", "Early", "Later", "Sibling"}, titles,
		"comment lines count as the start and ties keep emission order")
}

func TestIngestFile_TopicFields(t *testing.T) {
	t.Parallel()
	script := `
emit_topic({
	"title": "Widget.Resize(width, height)",
	"type": "Function",
	"body": "Resizes the widget.",
	"summary": "Resizes.",
	"access": "private",
	"effective_access": "internal",
	"comment_line": 3,
	"is_embedded": true,
	"tags": [2, 4],
	"language": "Text"
})
`
	batch, err := ingestInline(t, script, goFile(""))
	require.NoError(t, err)
	require.Len(t, batch.Topics, 1)

	topic := batch.Topics[0]
	assert.Equal(t, symbols.SymbolString("Widget.Resize"), topic.Symbol, "title parameters are not part of the symbol")
	assert.Equal(t, model.AccessPrivate, topic.DeclaredAccessLevel)
	assert.Equal(t, model.AccessInternal, topic.EffectiveAccessLevel)
	assert.Equal(t, len("Resizes the widget."), topic.BodyLength)
	assert.Equal(t, 3, topic.CommentLineNumber)
	assert.True(t, topic.IsEmbedded)
	assert.Equal(t, []int{2, 4}, topic.Tags.Slice())
	assert.Equal(t, 1, topic.LanguageID)
	assert.True(t, topic.ClassString.IsNull())
}

func TestIngestFile_InvalidEmits(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"missing title":    `emit_topic({"type": "function"})`,
		"unknown type":     `emit_topic({"title": "X", "type": "widget"})`,
		"unknown access":   `emit_topic({"title": "X", "type": "function", "access": "secret"})`,
		"list and embed":   `emit_topic({"title": "X", "type": "function", "is_list": true, "is_embedded": true})`,
		"not a map":        `emit_topic("X")`,
		"empty link":       `emit_link({"text": "  "})`,
		"unknown link":     `emit_link({"text": "X", "type": "hyperlink"})`,
		"unknown language": `emit_link({"text": "X", "language": "Cobol"})`,
		"bad using":        `emit_link({"text": "X", "context": context("A", 5)})`,
	}
	for name, script := range tests {
		_, err := ingestInline(t, script, goFile(""))
		require.Error(t, err, name)
		assert.True(t, errors.IsCode(err, errors.CodeScriptFailure), name)
	}
}

func TestIngestFile_RequiresLanguage(t *testing.T) {
	t.Parallel()
	f := goFile("")
	f.Language = nil
	_, err := ingestInline(t, `x := 1`, f)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestIngestFile_ScriptLogsThroughSlog(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := logging.NewWithWriter(config.Log{Level: "debug", Format: "text"}, &buf)
	rt := NewRuntime(nil, "", WithLogger(logger), WithRuntimeFS(fstest.MapFS{
		"test.risor": &fstest.MapFile{Data: []byte(`log.Warn("odd declaration")`)},
	}))

	_, err := rt.IngestFile(context.Background(), "test.risor", goFile(""))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "odd declaration")
	assert.Contains(t, buf.String(), "path=main.go")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestDocLinks(t *testing.T) {
	t.Parallel()
	tests := map[string][]string{
		"See <Greet> and <Server.Address>.":   {"Greet", "Server.Address"},
		"no links here":                       nil,
		"<b>bold</b> <!-- note -->":           {"b"},
		"a <broken\nlink> then <Next>":        {"Next"},
		"nested << Inner >> text":             {"Inner"},
		"unterminated <Greet":                 nil,
		"spaces < Server > are trimmed":       {"Server"},
		"empty <> and <  > are skipped <Add>": {"Add"},
	}
	for text, want := range tests {
		assert.Equal(t, want, docLinks(text), text)
	}
}

func TestIngestFile_DocLinksGlobal(t *testing.T) {
	t.Parallel()
	script := `
for _, text := range doc_links("// Greet wraps <fmt.Sprintf>, see <Server>") {
	emit_link({"text": text})
}
`
	batch, err := ingestInline(t, script, goFile(""))
	require.NoError(t, err)
	require.Len(t, batch.Links, 2)
	assert.Equal(t, "fmt.Sprintf", batch.Links[0].TextOrSymbol)
	assert.Equal(t, "Server", batch.Links[1].TextOrSymbol)
}

func TestDocImageLinks(t *testing.T) {
	t.Parallel()
	tests := map[string][]docImageLink{
		"Layout (see images/layout.png).": {{text: "(see images/layout.png)", path: "images/layout.png"}},
		"(See Diagram.SVG) and (see a.gif)": {
			{text: "(See Diagram.SVG)", path: "Diagram.SVG"},
			{text: "(see a.gif)", path: "a.gif"},
		},
		"(see <Greet>) is a link, not an image": nil,
		"(see broken\nimage.png)":               nil,
		"unterminated (see image.png":           nil,
		`(see docs\flow.jpg)`:                   {{text: `(see docs\flow.jpg)`, path: `docs\flow.jpg`}},
	}
	for text, want := range tests {
		assert.Equal(t, want, docImageLinks(text), text)
	}
}

func TestIngestFile_ImageLinks(t *testing.T) {
	t.Parallel()
	script := `
for _, l := range doc_image_links("// Layout (see images/layout.png), flow (see docs\\flow.jpg)") {
	emit_image_link(l)
}
emit_image_link({"text": "(see logo.png)", "class": "main.Server"})
emit_image_link({"text": "pictured", "path": "shots/run.gif"})
`
	batch, err := ingestInline(t, script, goFile(""))
	require.NoError(t, err)
	require.Len(t, batch.ImageLinks, 4)

	first := batch.ImageLinks[0]
	assert.Equal(t, "(see images/layout.png)", first.OriginalText)
	assert.Equal(t, "images/layout.png", first.Path)
	assert.Equal(t, 7, first.FileID)
	assert.True(t, first.ClassString.IsNull())

	assert.Equal(t, "docs/flow.jpg", batch.ImageLinks[1].Path, "backslashes become slashes")
	assert.Equal(t, "logo.png", batch.ImageLinks[2].Path, "the path comes from the text")
	assert.False(t, batch.ImageLinks[2].ClassString.IsNull())
	assert.Equal(t, "shots/run.gif", batch.ImageLinks[3].Path)
}

func TestIngestFile_InvalidImageLinks(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"no text":       `emit_image_link({"path": "a.png"})`,
		"no image path": `emit_image_link({"text": "(see Server)"})`,
		"not a map":     `emit_image_link("a.png")`,
	}
	for name, script := range tests {
		_, err := ingestInline(t, script, goFile(""))
		assert.Error(t, err, name)
	}
}
