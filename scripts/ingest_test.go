package scripts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/runtime"
	"github.com/jward/xrefdb/internal/symbols"
	"github.com/jward/xrefdb/scripts"
)

func ingest(t *testing.T, language, path, src string) *runtime.Batch {
	t.Helper()
	registry := model.DefaultRegistry()
	lang, ok := registry.LanguageByName(language)
	require.True(t, ok, language)

	rt := runtime.NewRuntime(registry, "", runtime.WithRuntimeFS(scripts.FS))
	batch, err := rt.IngestFile(context.Background(), runtime.IngestScriptPath(language), runtime.File{
		Path:     path,
		ID:       1,
		Language: lang,
		Source:   []byte(src),
	})
	require.NoError(t, err)
	return batch
}

func topicsBySymbol(batch *runtime.Batch) map[symbols.SymbolString]*model.Topic {
	m := make(map[symbols.SymbolString]*model.Topic, len(batch.Topics))
	for _, topic := range batch.Topics {
		m[topic.Symbol] = topic
	}
	return m
}

func linkTexts(batch *runtime.Batch, linkType model.LinkType) []string {
	var texts []string
	for _, l := range batch.Links {
		if l.Type == linkType {
			texts = append(texts, l.TextOrSymbol)
		}
	}
	return texts
}

// =============================================================================
// Go
// =============================================================================

const goSource = `package shapes

import "fmt"

// Area returns the area of any <Shape>.
func Area(s Shape) float64 {
	return s.Area()
}

func describe(s fmt.Stringer) string {
	return s.String()
}

type Shape interface {
	Area() float64
}

type Base struct {
	Name string
}

type Square struct {
	Base
	Side float64
	Owner *Owner
}

type Owner struct{}

type Meters float64

// Area implements <Shape.Area>.
func (s *Square) Area() float64 {
	return s.Side * s.Side
}
`

func TestGoScript_Topics(t *testing.T) {
	t.Parallel()
	batch := ingest(t, "Go", "shapes/shapes.go", goSource)
	topics := topicsBySymbol(batch)

	area := topics["shapes.Area"]
	require.NotNil(t, area)
	assert.Equal(t, "func Area(s Shape) float64", area.Prototype)
	assert.Equal(t, model.AccessPublic, area.DeclaredAccessLevel)
	assert.Equal(t, 6, area.CodeLineNumber)

	describe := topics["shapes.describe"]
	require.NotNil(t, describe)
	assert.Equal(t, model.AccessInternal, describe.DeclaredAccessLevel)

	square := topics["shapes.Square"]
	require.NotNil(t, square)
	assert.True(t, square.DefinesClass)
	assert.Equal(t, "type Square struct", square.Prototype)
	assert.Equal(t, symbols.SymbolString("shapes.Square"), square.ClassString.Symbol())

	meters := topics["shapes.Meters"]
	require.NotNil(t, meters)
	assert.False(t, meters.DefinesClass)
	assert.True(t, meters.ClassString.IsNull())

	method := topics["shapes.Square.Area"]
	require.NotNil(t, method)
	assert.Equal(t, "func (s *Square) Area() float64", method.Prototype)
	assert.Equal(t, symbols.SymbolString("shapes.Square"), method.ClassString.Symbol())
}

func TestGoScript_Links(t *testing.T) {
	t.Parallel()
	batch := ingest(t, "Go", "shapes/shapes.go", goSource)

	assert.Equal(t, []string{"Shape", "Shape.Area"}, linkTexts(batch, model.LinkNaturalDocs))
	assert.Equal(t, []string{"Base"}, linkTexts(batch, model.LinkClassParent))

	types := linkTexts(batch, model.LinkTypeReference)
	assert.Contains(t, types, "Shape")
	assert.Contains(t, types, "fmt.Stringer")
	assert.Contains(t, types, "Owner", "pointer field types are references too")
	assert.NotContains(t, types, "float64", "unexported names are not linked")

	for _, l := range batch.Links {
		assert.Equal(t, symbols.SymbolString("shapes"), l.Context.Scope())
	}
}

func TestGoScript_ImageLinks(t *testing.T) {
	t.Parallel()
	src := `package shapes

// Square is drawn in the docs (see images/square.png).
// Its corners (see <Corner>) are not images.
type Square struct{}
`
	batch := ingest(t, "Go", "shapes/shapes.go", src)

	require.Len(t, batch.ImageLinks, 1)
	assert.Equal(t, "(see images/square.png)", batch.ImageLinks[0].OriginalText)
	assert.Equal(t, "images/square.png", batch.ImageLinks[0].Path)
	assert.Equal(t, "square.png", batch.ImageLinks[0].FileName())
}

// =============================================================================
// Python
// =============================================================================

const pythonSource = `# Geometry helpers. See <Circle.area>.

def scale(shape, factor):
    return shape

class Shape:
    pass

class Circle(Shape):
    """A circle, unlike <Square>."""

    def area(self):
        return 3.14

    def _cache(self):
        pass
`

func TestPythonScript(t *testing.T) {
	t.Parallel()
	batch := ingest(t, "Python", "pkg/geometry.py", pythonSource)
	topics := topicsBySymbol(batch)

	scale := topics["geometry.scale"]
	require.NotNil(t, scale)
	assert.Equal(t, "def scale(shape, factor)", scale.Prototype)

	circle := topics["geometry.Circle"]
	require.NotNil(t, circle)
	assert.True(t, circle.DefinesClass)

	area := topics["geometry.Circle.area"]
	require.NotNil(t, area)
	assert.Equal(t, symbols.SymbolString("geometry.Circle"), area.ClassString.Symbol())
	assert.Equal(t, model.AccessPrivate, topics["geometry.Circle._cache"].DeclaredAccessLevel)

	assert.Equal(t, []string{"Shape"}, linkTexts(batch, model.LinkClassParent))
	assert.ElementsMatch(t, []string{"Circle.area", "Square"}, linkTexts(batch, model.LinkNaturalDocs))
}

// =============================================================================
// JavaScript
// =============================================================================

const javascriptSource = `// Renders a <Widget>.
function render(widget, target) {}

class Widget {
  draw(ctx) {}
  _reset() {}
}

class Button extends Widget {}
`

func TestJavaScriptScript(t *testing.T) {
	t.Parallel()
	batch := ingest(t, "JavaScript", "ui.js", javascriptSource)
	topics := topicsBySymbol(batch)

	require.NotNil(t, topics["render"])
	assert.Equal(t, "function render(widget, target)", topics["render"].Prototype)
	require.NotNil(t, topics["Widget"])
	require.NotNil(t, topics["Button"])
	require.NotNil(t, topics["Widget.draw"])
	assert.Equal(t, model.AccessPrivate, topics["Widget._reset"].DeclaredAccessLevel)

	assert.Equal(t, []string{"Widget"}, linkTexts(batch, model.LinkClassParent))
	assert.Equal(t, []string{"Widget"}, linkTexts(batch, model.LinkNaturalDocs))
}

// =============================================================================
// Text
// =============================================================================

func TestTextScript(t *testing.T) {
	t.Parallel()
	src := "# Overview\n\nStart with <Engine>.\n\n## Resolving Links\nSee <Resolver.Run> and <Scorer>.\n#\n"
	batch := ingest(t, "Text", "README.md", src)

	require.Len(t, batch.Topics, 2)
	assert.Equal(t, "Overview", batch.Topics[0].Title)
	assert.Equal(t, 1, batch.Topics[0].CodeLineNumber)
	assert.Equal(t, "Resolving Links", batch.Topics[1].Title)
	assert.Equal(t, 5, batch.Topics[1].CodeLineNumber)

	assert.Equal(t, []string{"Engine", "Resolver.Run", "Scorer"}, linkTexts(batch, model.LinkNaturalDocs))
	assert.Empty(t, batch.ImageLinks)
}

func TestTextScript_ImageLinks(t *testing.T) {
	t.Parallel()
	src := "# Layout\nThe pipeline (see docs/pipeline.svg) feeds <Resolver>.\n"
	batch := ingest(t, "Text", "README.md", src)

	require.Len(t, batch.ImageLinks, 1)
	assert.Equal(t, "docs/pipeline.svg", batch.ImageLinks[0].Path)
	assert.Equal(t, []string{"Resolver"}, linkTexts(batch, model.LinkNaturalDocs))
}

func TestEveryDefaultLanguageHasAScript(t *testing.T) {
	t.Parallel()
	for _, lang := range model.DefaultLanguages() {
		if lang.Name == "C#" {
			continue
		}
		_, err := scripts.FS.Open(runtime.IngestScriptPath(lang.Name))
		assert.NoError(t, err, lang.Name)
	}
}
