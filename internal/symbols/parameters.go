package symbols

import (
	"strings"
	"unicode"
)

// ParametersIndex returns the index of the opening brace of a parameter list
// at the end of text, or -1 if text doesn't end in one. Nested braces are
// balanced, so "text (a) text2 (b)" yields the index of "(b)".
func ParametersIndex(text string) int {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if len(text) < 2 || !isClosingBrace(text[len(text)-1]) {
		return -1
	}
	stack := []byte{text[len(text)-1]}
	for i := len(text) - 2; i >= 0; i-- {
		c := text[i]
		switch {
		case isClosingBrace(c):
			stack = append(stack, c)
		case isOpeningBrace(c):
			if !bracesMatch(c, stack[len(stack)-1]) {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// SplitFromEndingParameters separates a trailing parameter list from text.
func SplitFromEndingParameters(text string) (string, string) {
	i := ParametersIndex(text)
	if i < 0 {
		return text, ""
	}
	return strings.TrimRightFunc(text[:i], unicode.IsSpace), strings.TrimRightFunc(text[i:], unicode.IsSpace)
}

func isOpeningBrace(c byte) bool { return c == '(' || c == '[' || c == '{' || c == '<' }

func isClosingBrace(c byte) bool { return c == ')' || c == ']' || c == '}' || c == '>' }

func bracesMatch(open, close byte) bool {
	switch open {
	case '(':
		return close == ')'
	case '[':
		return close == ']'
	case '{':
		return close == '}'
	case '<':
		return close == '>'
	}
	return false
}

// tokenize splits text into word tokens and single punctuation tokens,
// dropping whitespace. "::" and "..." are kept whole.
func tokenize(text string) []string {
	var tokens []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isWordRune(r) || r == '$':
			j := i + 1
			for j < len(runes) && (isWordRune(runes[j]) || runes[j] == '$') {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case r == ':' && i+1 < len(runes) && runes[i+1] == ':':
			tokens = append(tokens, "::")
			i += 2
		case r == '.' && i+2 < len(runes) && runes[i+1] == '.' && runes[i+2] == '.':
			tokens = append(tokens, "...")
			i += 3
		default:
			tokens = append(tokens, string(r))
			i++
		}
	}
	return tokens
}

// splitTopLevel splits a brace-free parameter body on commas that are not
// nested inside braces.
func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case isOpeningBrace(c):
			depth++
		case isClosingBrace(c):
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, body[start:i])
			start = i + 1
		}
	}
	parts = append(parts, body[start:])
	return parts
}

// ParameterString is a parameter list written in link or title text, such
// as "(int, string)", broken into per-parameter tokens.
type ParameterString struct {
	params [][]string
}

// ParseParameterString parses a parameter list including its braces.
func ParseParameterString(text string) ParameterString {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && isOpeningBrace(text[0]) && bracesMatch(text[0], text[len(text)-1]) {
		text = text[1 : len(text)-1]
	}
	if strings.TrimSpace(text) == "" {
		return ParameterString{}
	}
	var ps ParameterString
	for _, part := range splitTopLevel(text) {
		ps.params = append(ps.params, tokenize(part))
	}
	return ps
}

// Count returns the number of parameters.
func (p ParameterString) Count() int { return len(p.params) }

// Parameter returns the tokens of parameter i.
func (p ParameterString) Parameter(i int) ([]string, bool) {
	if i < 0 || i >= len(p.params) {
		return nil, false
	}
	return p.params[i], true
}

// String returns the normalized form, with single spaces only between word
// tokens, used to compare title parameters.
func (p ParameterString) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, param := range p.params {
		if i > 0 {
			b.WriteString(", ")
		}
		for j, tok := range param {
			if j > 0 && isWordToken(param[j-1]) && isWordToken(tok) {
				b.WriteByte(' ')
			}
			b.WriteString(tok)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Equals compares two parameter lists, optionally ignoring case.
func (p ParameterString) Equals(other ParameterString, ignoreCase bool) bool {
	if ignoreCase {
		return strings.EqualFold(p.String(), other.String())
	}
	return p.String() == other.String()
}

func isWordToken(tok string) bool {
	r := []rune(tok)
	return len(r) > 0 && (isWordRune(r[0]) || r[0] == '$')
}
