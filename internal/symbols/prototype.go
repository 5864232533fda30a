package symbols

import (
	"strings"
)

// TokenKind classifies a token inside a prototype parameter.
type TokenKind uint8

const (
	TokenOther TokenKind = iota
	TokenType
	TokenTypeModifier
	TokenTypeQualifier
	TokenOpeningTypeSuffix
	TokenClosingTypeSuffix
	TokenTypeSuffix
	TokenName
	TokenNamePrefixPartOfType
	TokenNameSuffixPartOfType
	TokenDefaultValue
)

// ParameterStyle says where a language puts parameter names relative to
// their types when no explicit "name: type" colon is present.
type ParameterStyle uint8

const (
	// ParameterStyleC is "type name", as in C, C#, Java.
	ParameterStyleC ParameterStyle = iota
	// ParameterStylePascal is "name type", as in Go.
	ParameterStylePascal
)

// PrototypeToken is one classified token of a prototype parameter.
type PrototypeToken struct {
	Text string
	Kind TokenKind
}

// ParsedPrototype is a prototype broken into classified parameter tokens.
type ParsedPrototype struct {
	params [][]PrototypeToken
}

var typeModifierWords = map[string]bool{
	"const": true, "volatile": true, "unsigned": true, "signed": true,
	"static": true, "ref": true, "out": true, "in": true, "params": true,
	"final": true, "mut": true, "readonly": true, "struct": true,
	"enum": true, "class": true,
}

// ParsePrototype extracts the first parameter list of prototype and
// classifies each parameter's tokens. A prototype without a parameter list
// parses to zero parameters.
func ParsePrototype(prototype string, style ParameterStyle) *ParsedPrototype {
	body, ok := firstParameterBody(prototype)
	pp := &ParsedPrototype{}
	if !ok || strings.TrimSpace(body) == "" {
		return pp
	}
	for _, part := range splitTopLevel(body) {
		pp.params = append(pp.params, classifyParameter(tokenize(part), style))
	}
	return pp
}

// firstParameterBody returns the text inside the first balanced pair of
// parentheses.
func firstParameterBody(prototype string) (string, bool) {
	start := strings.IndexByte(prototype, '(')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(prototype); i++ {
		switch prototype[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return prototype[start+1 : i], true
			}
		}
	}
	return "", false
}

// Count returns the number of parameters.
func (p *ParsedPrototype) Count() int {
	if p == nil {
		return 0
	}
	return len(p.params)
}

// Parameter returns the tokens of parameter i.
func (p *ParsedPrototype) Parameter(i int) ([]PrototypeToken, bool) {
	if p == nil || i < 0 || i >= len(p.params) {
		return nil, false
	}
	return p.params[i], true
}

func classifyParameter(tokens []string, style ParameterStyle) []PrototypeToken {
	out := make([]PrototypeToken, len(tokens))
	for i, t := range tokens {
		out[i] = PrototypeToken{Text: t}
	}

	// Default value: everything from a top-level '=' on.
	end := len(out)
	depth := 0
	for i, t := range out {
		switch t.Text {
		case "(", "[", "{", "<":
			depth++
		case ")", "]", "}", ">":
			depth--
		case "=":
			if depth == 0 && end == len(out) {
				end = i
			}
		}
	}
	for i := end; i < len(out); i++ {
		out[i].Kind = TokenDefaultValue
	}
	decl := out[:end]

	// "name: type" forms win regardless of style.
	for i, t := range decl {
		if t.Text == ":" {
			classifyName(decl[:i])
			decl[i].Kind = TokenOther
			classifyType(decl[i+1:])
			return out
		}
	}

	nameIndex := -1
	words := topLevelWords(decl)
	switch style {
	case ParameterStylePascal:
		if len(words) >= 2 || (len(words) == 1 && len(decl) == 1) {
			nameIndex = words[0]
		}
	default:
		if len(words) >= 2 {
			nameIndex = words[len(words)-1]
		}
	}

	if nameIndex < 0 {
		classifyType(decl)
		return out
	}
	if style == ParameterStylePascal {
		classifyName(decl[:nameIndex+1])
		classifyType(decl[nameIndex+1:])
		return out
	}
	classifyType(decl[:nameIndex])
	classifyName(decl[nameIndex:])
	return out
}

// topLevelWords returns the indexes of word tokens that are not nested in
// braces and are not type modifier keywords.
func topLevelWords(tokens []PrototypeToken) []int {
	var words []int
	depth := 0
	for i, t := range tokens {
		switch t.Text {
		case "(", "[", "{", "<":
			depth++
			continue
		case ")", "]", "}", ">":
			depth--
			continue
		}
		if depth == 0 && isWordToken(t.Text) && !typeModifierWords[t.Text] {
			words = append(words, i)
		}
	}
	return words
}

func classifyType(tokens []PrototypeToken) {
	depth := 0
	for i := range tokens {
		t := tokens[i].Text
		switch {
		case t == "<" || t == "[":
			tokens[i].Kind = TokenOpeningTypeSuffix
			depth++
		case t == ">" || t == "]":
			tokens[i].Kind = TokenClosingTypeSuffix
			if depth > 0 {
				depth--
			}
		case depth > 0:
			tokens[i].Kind = TokenTypeSuffix
		case typeModifierWords[t]:
			tokens[i].Kind = TokenTypeModifier
		case t == "*" || t == "&" || t == "?" || t == "...":
			tokens[i].Kind = TokenTypeModifier
		case t == "." || t == "::":
			tokens[i].Kind = TokenTypeQualifier
		case isWordToken(t):
			if i+1 < len(tokens) && (tokens[i+1].Text == "." || tokens[i+1].Text == "::") {
				tokens[i].Kind = TokenTypeQualifier
			} else {
				tokens[i].Kind = TokenType
			}
		default:
			tokens[i].Kind = TokenOther
		}
	}
}

func classifyName(tokens []PrototypeToken) {
	seenName := false
	for i := range tokens {
		t := tokens[i].Text
		switch {
		case typeModifierWords[t]:
			tokens[i].Kind = TokenTypeModifier
		case isWordToken(t) && !seenName:
			tokens[i].Kind = TokenName
			seenName = true
		case !seenName && (t == "*" || t == "&" || t == "..." || t == "$" || t == "@"):
			tokens[i].Kind = TokenNamePrefixPartOfType
		case seenName && (t == "[" || t == "]" || isWordToken(t)):
			tokens[i].Kind = TokenNameSuffixPartOfType
		default:
			tokens[i].Kind = TokenOther
		}
	}
}
