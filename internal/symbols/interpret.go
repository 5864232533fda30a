package symbols

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Interpretation is one possible reading of a free-text link.
type Interpretation struct {
	// Target is the text to look up, without parameters.
	Target string
	// Text is the text to display.
	Text                 string
	NamedLink            bool
	PluralConversion     bool
	PossessiveConversion bool
}

// IsLiteral reports whether the interpretation is the unaltered input.
func (i Interpretation) IsLiteral() bool {
	return !i.NamedLink && !i.PluralConversion && !i.PossessiveConversion
}

// InterpretFlags control which interpretations are generated.
type InterpretFlags uint8

const (
	ExcludeLiteral InterpretFlags = 1 << iota
	AllowNamedLinks
	AllowPluralsAndPossessives
	FromOriginalText
)

// Conversion maps a lower-case ending to its replacement, which may be
// empty.
type Conversion struct {
	Ending      string
	Replacement string
}

// Interpreter generates link interpretations using configured plural and
// possessive conversions, named-link keywords and URL protocols.
type Interpreter struct {
	Plurals      []Conversion
	Possessives  []Conversion
	AtKeywords   map[string]bool
	URLProtocols map[string]bool
}

// DefaultInterpreter returns an Interpreter with English conversions.
func DefaultInterpreter() *Interpreter {
	return &Interpreter{
		Plurals: []Conversion{
			{"s", ""}, {"es", ""}, {"ies", "y"}, {"ves", "f"}, {"ves", "fe"},
			{"men", "man"}, {"ices", "ex"}, {"ices", "ix"}, {"i", "us"},
			{"a", "um"}, {"a", "on"}, {"people", "person"},
		},
		Possessives: []Conversion{
			{"'s", ""}, {"'", ""}, {"’s", ""}, {"’", ""},
		},
		AtKeywords:   map[string]bool{"at": true, "on": true},
		URLProtocols: map[string]bool{"http": true, "https": true, "ftp": true, "news": true, "file": true},
	}
}

// Interpretations returns every reading of linkText. Unless ExcludeLiteral is
// set the literal reading is always first. The order is stable for a given
// input. The trailing parameter list, if any, is returned separately and
// reattached only to the literal's display text.
func (in *Interpreter) Interpretations(linkText string, flags InterpretFlags) ([]Interpretation, string) {
	input := strings.TrimSpace(linkText)
	if flags&FromOriginalText != 0 {
		input = stripAngleBrackets(input)
		flags &^= FromOriginalText
	}

	idx := ParametersIndex(input)
	var parameters string
	withoutParameters := input
	spaceBefore := false
	if idx >= 0 {
		withoutParameters = input[:idx]
		parameters = strings.TrimSpace(input[idx:])
		spaceBefore = idx > 0 && input[idx-1] == ' '
	}

	result := in.InterpretationsNoParameters(withoutParameters, flags)
	if parameters != "" {
		for i := range result {
			if result[i].IsLiteral() {
				if spaceBefore {
					result[i].Text += " "
				}
				result[i].Text += parameters
			}
		}
	}
	return result, parameters
}

// InterpretationsNoParameters is Interpretations for text known to carry no
// trailing parameter list.
func (in *Interpreter) InterpretationsNoParameters(linkText string, flags InterpretFlags) []Interpretation {
	input := strings.Join(strings.Fields(linkText), " ")
	if flags&FromOriginalText != 0 {
		input = stripAngleBrackets(input)
	}

	var result []Interpretation
	if flags&ExcludeLiteral == 0 {
		result = append(result, Interpretation{Target: input, Text: input})
	}

	if flags&AllowNamedLinks != 0 {
		result = append(result, in.namedLinks(input)...)
	}

	if flags&AllowPluralsAndPossessives != 0 {
		result = append(result, in.pluralsAndPossessives(input)...)
	}
	return result
}

func (in *Interpreter) namedLinks(input string) []Interpretation {
	var result []Interpretation

	// "text: target", skipping "::" and URL protocols such as "http:".
	for colon := strings.IndexByte(input, ':'); colon >= 0; {
		if colon != 0 && colon != len(input)-1 && input[colon+1] != ':' && input[colon-1] != ':' {
			wordStart := strings.LastIndexByte(input[:colon], ' ') + 1
			word := strings.ToLower(input[wordStart:colon])
			if !in.URLProtocols[word] && word != "mailto" {
				result = append(result, Interpretation{
					Text:      strings.TrimSpace(input[:colon]),
					Target:    strings.TrimSpace(input[colon+1:]),
					NamedLink: true,
				})
			}
		}
		next := strings.IndexByte(input[colon+1:], ':')
		if next < 0 {
			break
		}
		colon += next + 1
	}

	// "text at target" and similar keywords.
	for first := strings.IndexByte(input, ' '); first >= 0; {
		for second := indexByteFrom(input, ' ', first+1); second >= 0; second = indexByteFrom(input, ' ', second+1) {
			keyword := strings.ToLower(input[first+1 : second])
			if in.AtKeywords[keyword] {
				result = append(result, Interpretation{
					Text:      input[:first],
					Target:    input[second+1:],
					NamedLink: true,
				})
			}
		}
		first = indexByteFrom(input, ' ', first+1)
	}
	return result
}

func (in *Interpreter) pluralsAndPossessives(input string) []Interpretation {
	var result []Interpretation
	n := norm.NFC.String(input)
	lower := strings.ToLower(n)

	// -1 stands for "no conversion" so each list is also tried alone.
	for pi := -1; pi < len(in.Possessives); pi++ {
		nWithout, lowerWithout := n, lower
		if pi >= 0 {
			conv := in.Possessives[pi]
			if !strings.HasSuffix(lower, conv.Ending) {
				continue
			}
			nWithout = n[:len(n)-len(conv.Ending)] + conv.Replacement
			lowerWithout = lower[:len(lower)-len(conv.Ending)] + conv.Replacement
		}

		for li := -1; li < len(in.Plurals); li++ {
			var target string
			switch {
			case li == -1 && pi == -1:
				continue
			case li == -1:
				target = nWithout
			default:
				conv := in.Plurals[li]
				if !strings.HasSuffix(lowerWithout, conv.Ending) {
					continue
				}
				target = nWithout[:len(nWithout)-len(conv.Ending)] + conv.Replacement
			}
			if target == "" {
				continue
			}
			result = append(result, Interpretation{
				Text:                 input,
				Target:               target,
				PluralConversion:     li >= 0,
				PossessiveConversion: pi >= 0,
			})
		}
	}
	return result
}

func stripAngleBrackets(s string) string {
	if len(s) > 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s[1 : len(s)-1]
	}
	return s
}

func indexByteFrom(s string, c byte, from int) int {
	if from >= len(s) {
		return -1
	}
	i := strings.IndexByte(s[from:], c)
	if i < 0 {
		return -1
	}
	return from + i
}

// EndingSymbols returns the primary ending symbol of a free-text link, taken
// from its first interpretation, and the distinct ending symbols of every
// other interpretation.
func (in *Interpreter) EndingSymbols(linkText string) (EndingSymbol, []EndingSymbol) {
	interps, _ := in.Interpretations(linkText, FromOriginalText|AllowNamedLinks|AllowPluralsAndPossessives)
	if len(interps) == 0 {
		return "", nil
	}
	primary := SymbolFromPlainTextNoParameters(interps[0].Target).EndingSymbol()
	seen := map[EndingSymbol]bool{primary: true}
	var alternates []EndingSymbol
	for _, interp := range interps[1:] {
		ending := SymbolFromPlainTextNoParameters(interp.Target).EndingSymbol()
		if ending == "" || seen[ending] {
			continue
		}
		seen[ending] = true
		alternates = append(alternates, ending)
	}
	return primary, alternates
}
