// Package symbols holds the normalized string value types that identify
// documented code elements: fully qualified symbols, their ending segments,
// interned class and context strings, and link text interpretations.
package symbols

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SeparatorChar divides the segments of a SymbolString.
const SeparatorChar = '.'

// SymbolString is a normalized, fully qualified symbol such as "A.B.Func".
// The empty string is the null symbol.
type SymbolString string

// EndingSymbol is the lower-cased last segment of a SymbolString, used as a
// coarse index key when gathering link candidates.
type EndingSymbol string

// SymbolFromPlainText normalizes text into a SymbolString after removing any
// trailing parameter list, which is returned separately. If removing the
// parameters would leave nothing, the whole text is used instead and the
// returned parameters are empty.
func SymbolFromPlainText(text string) (SymbolString, string) {
	undecorated, parameters := SplitFromEndingParameters(text)
	symbol := normalizeSymbol(undecorated)
	if symbol == "" && parameters != "" {
		return normalizeSymbol(text), ""
	}
	return symbol, parameters
}

// SymbolFromPlainTextNoParameters normalizes text that is already known to
// have no trailing parameter list.
func SymbolFromPlainTextNoParameters(text string) SymbolString {
	return normalizeSymbol(text)
}

// normalizeSymbol applies Unicode composition, converts "::" and "->" to the
// separator, drops empty segments, and collapses whitespace to a single space
// only where it separates two word characters.
func normalizeSymbol(text string) SymbolString {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "::", ".")
	text = strings.ReplaceAll(text, "->", ".")

	var out strings.Builder
	out.Grow(len(text))
	pendingSpace := false
	var last rune
	for _, r := range text {
		switch {
		case r == SeparatorChar:
			if out.Len() > 0 && last != SeparatorChar {
				out.WriteRune(SeparatorChar)
				last = SeparatorChar
			}
			pendingSpace = false
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if pendingSpace && isWordRune(last) && isWordRune(r) {
				out.WriteByte(' ')
			}
			pendingSpace = false
			out.WriteRune(r)
			last = r
		}
	}
	return SymbolString(strings.TrimSuffix(out.String(), string(SeparatorChar)))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s SymbolString) String() string { return string(s) }

// IsNull reports whether the symbol is empty.
func (s SymbolString) IsNull() bool { return s == "" }

// Segments splits the symbol on its separator.
func (s SymbolString) Segments() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), string(SeparatorChar))
}

// LastSegment returns the text after the final separator.
func (s SymbolString) LastSegment() string {
	i := strings.LastIndexByte(string(s), SeparatorChar)
	return string(s[i+1:])
}

// WithoutLastSegment returns the symbol with its final segment removed.
func (s SymbolString) WithoutLastSegment() SymbolString {
	i := strings.LastIndexByte(string(s), SeparatorChar)
	if i < 0 {
		return ""
	}
	return s[:i]
}

// EndingSymbol returns the lower-cased last segment.
func (s SymbolString) EndingSymbol() EndingSymbol {
	if s == "" {
		return ""
	}
	return EndingSymbol(strings.ToLower(s.LastSegment()))
}

// Join appends other as additional segments.
func (s SymbolString) Join(other SymbolString) SymbolString {
	switch {
	case s == "":
		return other
	case other == "":
		return s
	}
	return s + SymbolString(SeparatorChar) + other
}

// Equals compares two symbols, optionally ignoring case.
func (s SymbolString) Equals(other SymbolString, ignoreCase bool) bool {
	if ignoreCase {
		return strings.EqualFold(string(s), string(other))
	}
	return s == other
}

// StartsWith reports whether other is a whole-segment prefix of s and s is
// longer than other.
func (s SymbolString) StartsWith(other SymbolString, ignoreCase bool) bool {
	if len(s) <= len(other) || s[len(other)] != SeparatorChar {
		return false
	}
	return s[:len(other)].Equals(other, ignoreCase)
}

// EndsWith reports whether other is a whole-segment suffix of s and s is
// longer than other.
func (s SymbolString) EndsWith(other SymbolString, ignoreCase bool) bool {
	if len(s) <= len(other) || s[len(s)-len(other)-1] != SeparatorChar {
		return false
	}
	return s[len(s)-len(other):].Equals(other, ignoreCase)
}

// CountSeparators returns the number of separators in the symbol.
func (s SymbolString) CountSeparators() int {
	return strings.Count(string(s), string(SeparatorChar))
}

func (e EndingSymbol) String() string { return string(e) }
