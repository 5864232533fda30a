package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/symbols"
)

func sampleTopic() *Topic {
	return &Topic{
		Title:                  "Func",
		Body:                   "Does things.",
		Summary:                "Does things.",
		Symbol:                 "A.B.Func",
		SymbolDefinitionNumber: 1,
		TopicTypeID:            1,
		EffectiveAccessLevel:   AccessPublic,
		FileID:                 3,
		FilePosition:           1,
		CommentLineNumber:      10,
		CodeLineNumber:         12,
		LanguageID:             2,
		BodyContext:            symbols.NewContextString("A.B"),
	}
}

// =============================================================================
// Topic.Compare
// =============================================================================

func TestTopicCompare_Same(t *testing.T) {
	t.Parallel()
	a, b := sampleTopic(), sampleTopic()
	b.TopicID = 99
	b.ClassID = 7
	cmp, flags := a.Compare(b)
	assert.Equal(t, CompareSame, cmp)
	assert.Zero(t, flags)
}

func TestTopicCompare_Similar(t *testing.T) {
	t.Parallel()
	a, b := sampleTopic(), sampleTopic()
	b.Summary = "Other."
	b.CommentLineNumber = 20
	b.FilePosition = 4
	cmp, flags := a.Compare(b)
	assert.Equal(t, CompareSimilar, cmp)
	assert.Equal(t, ChangeSummary|ChangeCommentLineNumber|ChangeFilePosition, flags)
}

func TestTopicCompare_Different(t *testing.T) {
	t.Parallel()
	mutations := map[string]func(*Topic){
		"title":      func(t *Topic) { t.Title = "Other" },
		"symbol":     func(t *Topic) { t.Symbol = "A.Other" },
		"body":       func(t *Topic) { t.Body = "" },
		"definition": func(t *Topic) { t.SymbolDefinitionNumber = 2 },
		"file":       func(t *Topic) { t.FileID = 4 },
		"tags":       func(t *Topic) { t.Tags = idset.New(1) },
		"access":     func(t *Topic) { t.EffectiveAccessLevel = AccessPrivate },
	}
	for name, mutate := range mutations {
		a, b := sampleTopic(), sampleTopic()
		mutate(b)
		cmp, flags := a.Compare(b)
		assert.Equal(t, CompareDifferent, cmp, name)
		assert.Equal(t, ChangeAll, flags, name)
	}
}

func TestTopicCompare_EmptyTagsEqualNil(t *testing.T) {
	t.Parallel()
	a, b := sampleTopic(), sampleTopic()
	b.Tags = idset.New()
	cmp, _ := a.Compare(b)
	assert.Equal(t, CompareSame, cmp)
}

func TestTopic_LineNumberFallback(t *testing.T) {
	t.Parallel()
	topic := &Topic{CodeLineNumber: 5}
	assert.Equal(t, 5, topic.EffectiveCommentLineNumber())
	assert.Equal(t, 5, topic.EffectiveCodeLineNumber())
}

func TestTopic_TitleParameters(t *testing.T) {
	t.Parallel()
	topic := &Topic{Title: "Func (int, string)"}
	assert.Equal(t, 2, topic.TitleParameters().Count())
	assert.Equal(t, 0, (&Topic{Title: "Func"}).TitleParameters().Count())
}

// =============================================================================
// Link identity
// =============================================================================

func TestLink_IdentifyingProperties(t *testing.T) {
	t.Parallel()
	a := &Link{Type: LinkNaturalDocs, TextOrSymbol: "<Func>", FileID: 1, LanguageID: 2,
		Context: symbols.NewContextString("A.B")}
	b := a.Clone()
	b.LinkID = 9
	b.TargetTopicID = 4
	b.TargetScore = 77
	assert.True(t, a.SameIdentifyingProperties(b))

	b.FileID = 2
	assert.False(t, a.SameIdentifyingProperties(b))
	assert.Equal(t, -1, a.CompareIdentifyingProperties(b))
}

func TestLink_CopyNonIdentifyingProperties(t *testing.T) {
	t.Parallel()
	stored := &Link{LinkID: 5, ContextID: 2, ClassID: 3, EndingSymbol: "func",
		TargetTopicID: 8, TargetClassID: 1, TargetScore: 42}
	fresh := &Link{TextOrSymbol: "<Func>"}
	fresh.CopyNonIdentifyingPropertiesFrom(stored)
	assert.Equal(t, 5, fresh.LinkID)
	assert.Equal(t, 8, fresh.TargetTopicID)
	assert.Equal(t, int64(42), fresh.TargetScore)
	assert.Equal(t, "<Func>", fresh.TextOrSymbol)
}

func TestImageLink_Identity(t *testing.T) {
	t.Parallel()
	a := &ImageLink{OriginalText: "(see img/Layout.PNG)", Path: "img/Layout.PNG", FileID: 1}
	assert.Equal(t, "layout.png", a.FileName())

	stored := a.Clone()
	stored.ImageLinkID = 3
	stored.TargetFileID = 12
	stored.TargetScore = 99
	assert.True(t, a.SameIdentifyingProperties(stored))
	assert.False(t, a.IsResolved())

	a.CopyNonIdentifyingPropertiesFrom(stored)
	assert.Equal(t, 3, a.ImageLinkID)
	assert.True(t, a.IsResolved())

	other := a.Clone()
	other.FileID = 2
	assert.Equal(t, -1, a.CompareIdentifyingProperties(other))
}

func TestImageFileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "flow.jpg", ImageFileName(`docs\Flow.JPG`))
	assert.Equal(t, "a.png", ImageFileName("/x/y/a.png"))
	assert.Equal(t, "a.png", ImageFileName("a.png"))
}

func TestParseLinkType(t *testing.T) {
	t.Parallel()
	for _, lt := range []LinkType{LinkNaturalDocs, LinkClassParent, LinkTypeReference} {
		got, ok := ParseLinkType(lt.String())
		require.True(t, ok)
		assert.Equal(t, lt, got)
	}
	_, ok := ParseLinkType("bogus")
	assert.False(t, ok)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_Defaults(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()
	goLang, ok := r.LanguageByName("go")
	require.True(t, ok)
	assert.True(t, goLang.CaseSensitive)
	assert.Equal(t, symbols.ParameterStylePascal, goLang.ParameterStyle)

	class, ok := r.TopicTypeByName("Class")
	require.True(t, ok)
	assert.True(t, class.Has(FlagClassHierarchy))
	assert.False(t, class.Has(FlagFile))

	langs := r.Languages()
	require.NotEmpty(t, langs)
	assert.Equal(t, 1, langs[0].ID)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry([]Language{{ID: 1, Name: "Go"}, {ID: 1, Name: "Rust"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = NewRegistry(nil, []TopicType{{ID: 1, Name: "Class"}, {ID: 2, Name: "class"}})
	require.Error(t, err)
}

func TestAccessLevel_RoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, AccessProtectedInternal, ParseAccessLevel(AccessProtectedInternal.String()))
	assert.Equal(t, AccessUnknown, ParseAccessLevel("nonsense"))
}
