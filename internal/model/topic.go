// Package model holds the Topic and Link value types exchanged between the
// ingestion layer, the code database and the link resolver.
package model

import (
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/symbols"
)

type AccessLevel uint8

const (
	AccessUnknown AccessLevel = iota
	AccessPublic
	AccessProtected
	AccessInternal
	AccessProtectedInternal
	AccessPrivate
)

var accessLevelNames = map[AccessLevel]string{
	AccessUnknown:           "unknown",
	AccessPublic:            "public",
	AccessProtected:         "protected",
	AccessInternal:          "internal",
	AccessProtectedInternal: "protected internal",
	AccessPrivate:           "private",
}

func (a AccessLevel) String() string { return accessLevelNames[a] }

// ParseAccessLevel maps a name such as "public" to its AccessLevel.
// Unrecognized names yield AccessUnknown.
func ParseAccessLevel(name string) AccessLevel {
	for level, n := range accessLevelNames {
		if n == name {
			return level
		}
	}
	return AccessUnknown
}

// IgnoreFields marks Topic fields that were not loaded by a query.
type IgnoreFields uint32

const (
	IgnoreBody IgnoreFields = 1 << iota
	IgnoreBodyLength
	IgnoreSummary
	IgnorePrototype
	IgnoreClassString
	IgnorePrototypeContext
	IgnoreBodyContext
)

// ChangeFlags records which fields differ between two similar topics.
type ChangeFlags uint32

const (
	ChangeSummary ChangeFlags = 1 << iota
	ChangeClass
	ChangeIsEmbedded
	ChangeCommentLineNumber
	ChangeCodeLineNumber
	ChangeFilePosition
	ChangePrototypeContext
	ChangeBodyContext

	// ChangeAll is reported alongside CompareDifferent.
	ChangeAll ChangeFlags = 1<<iota - 1
)

// Comparison is the result of Topic.Compare.
type Comparison uint8

const (
	CompareSame Comparison = iota
	CompareDifferent
	// CompareSimilar means only fields that never affect link resolution
	// differ, so the stored row may be updated in place.
	CompareSimilar
)

// Topic is a documented symbol definition.
type Topic struct {
	TopicID int

	Title     string
	Body      string
	Summary   string
	Prototype string
	// BodyLength is set from Body, or loaded alone when a query asks for
	// body lengths only.
	BodyLength int

	Symbol                 symbols.SymbolString
	SymbolDefinitionNumber int
	ClassString            symbols.ClassString
	ClassID                int
	IsEmbedded             bool
	IsList                 bool
	DefinesClass           bool

	TopicTypeID          int
	DeclaredAccessLevel  AccessLevel
	EffectiveAccessLevel AccessLevel
	Tags                 *idset.NumberSet

	FileID            int
	FilePosition      int
	CommentLineNumber int
	CodeLineNumber    int
	LanguageID        int

	PrototypeContext   symbols.ContextString
	PrototypeContextID int
	BodyContext        symbols.ContextString
	BodyContextID      int

	IgnoredFields IgnoreFields
}

// EndingSymbol returns the coarse index key of the topic's symbol.
func (t *Topic) EndingSymbol() symbols.EndingSymbol {
	return t.Symbol.EndingSymbol()
}

// HasBody reports whether the topic has body text, using BodyLength when the
// body itself wasn't loaded.
func (t *Topic) HasBody() bool {
	return t.Body != "" || t.BodyLength > 0
}

// EffectiveBodyLength returns the body's length in bytes.
func (t *Topic) EffectiveBodyLength() int {
	if t.Body != "" {
		return len(t.Body)
	}
	return t.BodyLength
}

// EffectiveCommentLineNumber falls back to the code line number when the
// comment line number is unset, and vice versa for EffectiveCodeLineNumber.
func (t *Topic) EffectiveCommentLineNumber() int {
	if t.CommentLineNumber == 0 {
		return t.CodeLineNumber
	}
	return t.CommentLineNumber
}

func (t *Topic) EffectiveCodeLineNumber() int {
	if t.CodeLineNumber == 0 {
		return t.CommentLineNumber
	}
	return t.CodeLineNumber
}

// TitleParameters returns the parameter list written in the title, if any.
func (t *Topic) TitleParameters() symbols.ParameterString {
	_, params := symbols.SplitFromEndingParameters(t.Title)
	if params == "" {
		return symbols.ParameterString{}
	}
	return symbols.ParseParameterString(params)
}

// Clone returns a deep copy.
func (t *Topic) Clone() *Topic {
	c := *t
	if t.Tags != nil {
		c.Tags = t.Tags.Clone()
	}
	return &c
}

// Compare classifies other against t. Database IDs are not compared since
// topics fresh from ingestion don't have them. Fields that feed link scoring
// make the topics Different; the rest make them Similar, with the changed
// fields reported in the returned flags.
func (t *Topic) Compare(other *Topic) (Comparison, ChangeFlags) {
	if t.TopicTypeID != other.TopicTypeID ||
		t.DeclaredAccessLevel != other.DeclaredAccessLevel ||
		t.EffectiveAccessLevel != other.EffectiveAccessLevel ||
		t.Title != other.Title ||
		t.Body != other.Body ||
		t.Prototype != other.Prototype ||
		t.Symbol != other.Symbol ||
		t.SymbolDefinitionNumber != other.SymbolDefinitionNumber ||
		t.FileID != other.FileID ||
		t.LanguageID != other.LanguageID ||
		t.IsList != other.IsList ||
		t.DefinesClass != other.DefinesClass ||
		!tagsEqual(t.Tags, other.Tags) {
		return CompareDifferent, ChangeAll
	}

	var flags ChangeFlags
	if t.Summary != other.Summary {
		flags |= ChangeSummary
	}
	if t.ClassString != other.ClassString {
		flags |= ChangeClass
	}
	if t.IsEmbedded != other.IsEmbedded {
		flags |= ChangeIsEmbedded
	}
	if t.EffectiveCommentLineNumber() != other.EffectiveCommentLineNumber() {
		flags |= ChangeCommentLineNumber
	}
	if t.EffectiveCodeLineNumber() != other.EffectiveCodeLineNumber() {
		flags |= ChangeCodeLineNumber
	}
	if t.FilePosition != other.FilePosition {
		flags |= ChangeFilePosition
	}
	if t.PrototypeContext != other.PrototypeContext {
		flags |= ChangePrototypeContext
	}
	if t.BodyContext != other.BodyContext {
		flags |= ChangeBodyContext
	}

	if flags == 0 {
		return CompareSame, 0
	}
	return CompareSimilar, flags
}

func tagsEqual(a, b *idset.NumberSet) bool {
	aEmpty := a == nil || a.IsEmpty()
	bEmpty := b == nil || b.IsEmpty()
	if aEmpty || bEmpty {
		return aEmpty == bEmpty
	}
	return a.Equal(b)
}
