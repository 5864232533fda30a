package model

import (
	"strings"

	"github.com/jward/xrefdb/internal/symbols"
)

type LinkType uint8

const (
	// LinkNaturalDocs is a free-text link written in documentation.
	LinkNaturalDocs LinkType = iota + 1
	// LinkClassParent is a language-level inheritance relation.
	LinkClassParent
	// LinkTypeReference is a language-level type reference.
	LinkTypeReference
)

func (t LinkType) String() string {
	switch t {
	case LinkNaturalDocs:
		return "naturaldocs"
	case LinkClassParent:
		return "classparent"
	case LinkTypeReference:
		return "type"
	}
	return "unknown"
}

// ParseLinkType maps the names produced by LinkType.String back to values.
func ParseLinkType(name string) (LinkType, bool) {
	switch strings.ToLower(name) {
	case "naturaldocs", "natural_docs", "text":
		return LinkNaturalDocs, true
	case "classparent", "class_parent", "parent":
		return LinkClassParent, true
	case "type":
		return LinkTypeReference, true
	}
	return 0, false
}

// Resolution sentinels stored in Link.TargetTopicID.
const (
	// TargetUnresolved marks a link that has never been resolved.
	TargetUnresolved = 0
	// TargetDeleted marks a link whose target was deleted and which is
	// waiting to be resolved again.
	TargetDeleted = -1
	// TargetNone marks a resolved link that matched no topic.
	TargetNone = -2
)

// Link is a symbolic reference and its resolution outcome.
type Link struct {
	LinkID int
	Type   LinkType
	// TextOrSymbol is the raw link text for NaturalDocs links, including
	// any angle brackets, and a normalized symbol for the others.
	TextOrSymbol string
	Context      symbols.ContextString
	ContextID    int
	FileID       int
	ClassString  symbols.ClassString
	ClassID      int
	LanguageID   int

	EndingSymbol symbols.EndingSymbol

	TargetTopicID int
	TargetClassID int
	TargetScore   int64
}

// IsResolved reports whether the link points at a topic.
func (l *Link) IsResolved() bool { return l.TargetTopicID > 0 }

// Symbol returns TextOrSymbol as a symbol. Only meaningful for typed links.
func (l *Link) Symbol() symbols.SymbolString {
	return symbols.SymbolString(l.TextOrSymbol)
}

// Clone returns a copy.
func (l *Link) Clone() *Link {
	c := *l
	return &c
}

// CompareIdentifyingProperties orders links by the properties that decide
// whether two links are the same reference: TextOrSymbol, Context,
// ClassString, Type, FileID and LanguageID.
func (l *Link) CompareIdentifyingProperties(other *Link) int {
	if c := strings.Compare(l.TextOrSymbol, other.TextOrSymbol); c != 0 {
		return c
	}
	if c := strings.Compare(l.Context.String(), other.Context.String()); c != 0 {
		return c
	}
	if c := strings.Compare(l.ClassString.String(), other.ClassString.String()); c != 0 {
		return c
	}
	if c := compareInts(int(l.Type), int(other.Type)); c != 0 {
		return c
	}
	if c := compareInts(l.FileID, other.FileID); c != 0 {
		return c
	}
	return compareInts(l.LanguageID, other.LanguageID)
}

// SameIdentifyingProperties reports whether CompareIdentifyingProperties
// returns zero.
func (l *Link) SameIdentifyingProperties(other *Link) bool {
	return l.CompareIdentifyingProperties(other) == 0
}

// CopyNonIdentifyingPropertiesFrom copies everything that
// CompareIdentifyingProperties ignores.
func (l *Link) CopyNonIdentifyingPropertiesFrom(other *Link) {
	l.LinkID = other.LinkID
	l.ContextID = other.ContextID
	l.ClassID = other.ClassID
	l.EndingSymbol = other.EndingSymbol
	l.TargetTopicID = other.TargetTopicID
	l.TargetClassID = other.TargetClassID
	l.TargetScore = other.TargetScore
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
