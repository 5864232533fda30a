package symbols

import (
	"strings"
)

// ClassSeparator divides the fields of a ClassString and of a replace-prefix
// UsingString.
const ClassSeparator = '\x1E'

// ClassString identifies a class (or other scope-defining element) within a
// hierarchy and language. Its serialized form is
//
//	('C' | 'i') hierarchyID SEP languageID SEP symbol
//
// with the IDs in base-64 digits. Case-insensitive classes get a lookup key
// whose symbol portion is lower-cased so that differently capitalized
// references intern to the same ID.
type ClassString struct {
	text      string
	lookupKey string
}

// NewClassString builds a ClassString from its parts. A null symbol yields
// the null ClassString.
func NewClassString(hierarchyID, languageID int, caseSensitive bool, symbol SymbolString) ClassString {
	if symbol == "" {
		return ClassString{}
	}
	var b strings.Builder
	if caseSensitive {
		b.WriteByte('C')
	} else {
		b.WriteByte('i')
	}
	appendBase64Int(&b, hierarchyID)
	b.WriteByte(ClassSeparator)
	appendBase64Int(&b, languageID)
	b.WriteByte(ClassSeparator)
	prefix := b.String()
	text := prefix + string(symbol)
	if caseSensitive {
		return ClassString{text: text, lookupKey: text}
	}
	return ClassString{text: text, lookupKey: prefix + strings.ToLower(string(symbol))}
}

// ClassStringFromExported rebuilds a ClassString from its serialized form as
// stored in the Classes table.
func ClassStringFromExported(text string) ClassString {
	if text == "" {
		return ClassString{}
	}
	if text[0] == 'C' {
		return ClassString{text: text, lookupKey: text}
	}
	i := symbolStart(text)
	if i < 0 {
		return ClassString{text: text, lookupKey: text}
	}
	return ClassString{text: text, lookupKey: text[:i] + strings.ToLower(text[i:])}
}

// symbolStart returns the index just past the second separator.
func symbolStart(text string) int {
	first := strings.IndexByte(text, ClassSeparator)
	if first < 0 {
		return -1
	}
	second := strings.IndexByte(text[first+1:], ClassSeparator)
	if second < 0 {
		return -1
	}
	return first + 1 + second + 1
}

func (c ClassString) String() string { return c.text }

// LookupKey is the key used to intern the class.
func (c ClassString) LookupKey() string { return c.lookupKey }

// IsNull reports whether this is the null class (global scope).
func (c ClassString) IsNull() bool { return c.text == "" }

// CaseSensitive reports whether the class was built case-sensitive.
func (c ClassString) CaseSensitive() bool { return c.text != "" && c.text[0] == 'C' }

// Symbol returns the class's symbol.
func (c ClassString) Symbol() SymbolString {
	i := symbolStart(c.text)
	if i < 0 {
		return ""
	}
	return SymbolString(c.text[i:])
}

// HierarchyID returns the hierarchy the class belongs to.
func (c ClassString) HierarchyID() int {
	if c.text == "" {
		return 0
	}
	return decodeBase64Int(c.text[1:])
}

// LanguageID returns the language the class belongs to.
func (c ClassString) LanguageID() int {
	first := strings.IndexByte(c.text, ClassSeparator)
	if first < 0 {
		return 0
	}
	return decodeBase64Int(c.text[first+1:])
}

const base64Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz!@"

// appendBase64Int writes value most significant digit first.
func appendBase64Int(b *strings.Builder, value int) {
	if value < 0 {
		value = 0
	}
	var digits [12]byte
	n := 0
	for {
		digits[n] = base64Digits[value&0x3F]
		n++
		value >>= 6
		if value == 0 {
			break
		}
	}
	for i := n - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
}

// decodeBase64Int reads digits up to the next separator or end of text.
func decodeBase64Int(text string) int {
	result := 0
	for i := 0; i < len(text) && text[i] != ClassSeparator; i++ {
		d := strings.IndexByte(base64Digits, text[i])
		if d < 0 {
			break
		}
		result = result<<6 | d
	}
	return result
}
