package links

import (
	"cmp"
	"strings"

	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// Score is how well a topic satisfies a link. Fields are ordered from most
// to least significant. Ranks are better when lower, every other field is
// better when higher.
type Score struct {
	LanguageMatch        bool
	CaseMatch            bool
	Exact                bool
	TitleParametersMatch bool
	// Parameters holds 0-3 per parameter slot. Slot 9 is the worst of every
	// parameter from the tenth on.
	Parameters [10]uint8

	ScopeRank          int
	InterpretationRank int

	HasBody         bool
	DefinitionRank  int
	HasPrototype    bool
	BodyBucket      int
	PrototypeBucket int
}

const (
	maxScopeRank          = 1023
	maxInterpretationRank = 63
	maxDefinitionRank     = 63
	maxBodyBucket         = 255
	maxPrototypeBucket    = 63
	maxParameterScore     = 3

	// topicBits covers the fields that depend only on the topic.
	topicBits int64 = 1<<23 - 1

	// languageMismatchCeiling is the highest packed score a topic in another
	// language can reach.
	languageMismatchCeiling int64 = 0x3FFFFFFFFFFFFFFF
)

// normalized clamps every field to the range it packs into.
func (s Score) normalized() Score {
	s.ScopeRank = clamp(s.ScopeRank, maxScopeRank)
	s.InterpretationRank = clamp(s.InterpretationRank, maxInterpretationRank)
	s.DefinitionRank = clamp(s.DefinitionRank, maxDefinitionRank)
	s.BodyBucket = clamp(s.BodyBucket, maxBodyBucket)
	s.PrototypeBucket = clamp(s.PrototypeBucket, maxPrototypeBucket)
	for i, p := range s.Parameters {
		s.Parameters[i] = min(p, maxParameterScore)
	}
	return s
}

func clamp(n, high int) int {
	return max(0, min(n, high))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compare returns -1, 0 or +1 as s is a worse, equal or better match than o.
func (s Score) Compare(o Score) int {
	a, b := s.normalized(), o.normalized()
	for _, c := range []int{
		cmp.Compare(boolInt(a.LanguageMatch), boolInt(b.LanguageMatch)),
		cmp.Compare(boolInt(a.CaseMatch), boolInt(b.CaseMatch)),
		cmp.Compare(boolInt(a.Exact), boolInt(b.Exact)),
		cmp.Compare(boolInt(a.TitleParametersMatch), boolInt(b.TitleParametersMatch)),
	} {
		if c != 0 {
			return c
		}
	}
	for i := range a.Parameters {
		if c := cmp.Compare(a.Parameters[i], b.Parameters[i]); c != 0 {
			return c
		}
	}
	for _, c := range []int{
		cmp.Compare(b.ScopeRank, a.ScopeRank),
		cmp.Compare(b.InterpretationRank, a.InterpretationRank),
		cmp.Compare(boolInt(a.HasBody), boolInt(b.HasBody)),
		cmp.Compare(b.DefinitionRank, a.DefinitionRank),
		cmp.Compare(boolInt(a.HasPrototype), boolInt(b.HasPrototype)),
		cmp.Compare(a.BodyBucket, b.BodyBucket),
		cmp.Compare(a.PrototypeBucket, b.PrototypeBucket),
	} {
		if c != 0 {
			return c
		}
	}
	return 0
}

// Less reports whether s is a worse match than o.
func (s Score) Less(o Score) bool { return s.Compare(o) < 0 }

// Pack encodes the score as the int64 stored in Links.TargetScore. The
// encoding preserves order, and the lowest bit is always set so a match is
// never zero.
//
//	0LCETPPP PPPPPPPP PPPPPPPP PSSSSSSS SSSIIIII IBFFFFFF Rbbbbbbb brrrrrr1
func (s Score) Pack() int64 {
	n := s.normalized()
	v := int64(1)
	v |= int64(boolInt(n.LanguageMatch)) << 62
	v |= int64(boolInt(n.CaseMatch)) << 61
	v |= int64(boolInt(n.Exact)) << 60
	v |= int64(boolInt(n.TitleParametersMatch)) << 59
	for i := 0; i < 9; i++ {
		v |= int64(n.Parameters[i]) << (39 + (9-i)*2)
	}
	v |= int64(n.Parameters[9]) << 39
	v |= int64(maxScopeRank-n.ScopeRank) << 29
	v |= int64(maxInterpretationRank-n.InterpretationRank) << 23
	v |= int64(boolInt(n.HasBody)) << 22
	v |= int64(maxDefinitionRank-n.DefinitionRank) << 16
	v |= int64(boolInt(n.HasPrototype)) << 15
	v |= int64(n.BodyBucket) << 7
	v |= int64(n.PrototypeBucket) << 1
	return v
}

// UnpackScore decodes a value produced by Pack.
func UnpackScore(v int64) Score {
	bit := func(n uint) bool { return v&(1<<n) != 0 }
	field := func(shift uint, mask int64) int { return int((v >> shift) & mask) }

	s := Score{
		LanguageMatch:        bit(62),
		CaseMatch:            bit(61),
		Exact:                bit(60),
		TitleParametersMatch: bit(59),
		ScopeRank:            maxScopeRank - field(29, 0x3FF),
		InterpretationRank:   maxInterpretationRank - field(23, 0x3F),
		HasBody:              bit(22),
		DefinitionRank:       maxDefinitionRank - field(16, 0x3F),
		HasPrototype:         bit(15),
		BodyBucket:           field(7, 0xFF),
		PrototypeBucket:      field(1, 0x3F),
	}
	for i := 0; i < 9; i++ {
		s.Parameters[i] = uint8(field(uint(39+(9-i)*2), 0x3))
	}
	s.Parameters[9] = uint8(field(39, 0x3))
	return s
}

// ceiling returns the best score s could still reach once the parameter and
// topic fields are filled in.
func (s Score) ceiling() Score {
	s.TitleParametersMatch = true
	for i := range s.Parameters {
		s.Parameters[i] = maxParameterScore
	}
	s.HasBody = true
	s.DefinitionRank = 0
	s.HasPrototype = true
	s.BodyBucket = maxBodyBucket
	s.PrototypeBucket = maxPrototypeBucket
	return s
}

// LinkInterpretations is the parsed text of a free-text link: every reading
// of the text in preference order, and the trailing parameter list if the
// text has one.
type LinkInterpretations struct {
	Readings      []symbols.Interpretation
	Parameters    symbols.ParameterString
	HasParameters bool
}

// Scorer scores links against candidate topics. It is safe for concurrent
// use.
type Scorer struct {
	registry    *model.Registry
	interpreter *symbols.Interpreter
}

// NewScorer returns a Scorer. Nil arguments fall back to the defaults.
func NewScorer(registry *model.Registry, interpreter *symbols.Interpreter) *Scorer {
	if registry == nil {
		registry = model.DefaultRegistry()
	}
	if interpreter == nil {
		interpreter = symbols.DefaultInterpreter()
	}
	return &Scorer{registry: registry, interpreter: interpreter}
}

// Interpret parses a free-text link. It returns nil for typed links, which
// have exactly one reading.
func (s *Scorer) Interpret(link *model.Link) *LinkInterpretations {
	if link.Type != model.LinkNaturalDocs {
		return nil
	}
	readings, params := s.interpreter.Interpretations(link.TextOrSymbol,
		symbols.FromOriginalText|symbols.AllowNamedLinks|symbols.AllowPluralsAndPossessives)
	li := &LinkInterpretations{Readings: readings}
	if params != "" {
		li.Parameters = symbols.ParseParameterString(params)
		li.HasParameters = true
	}
	return li
}

type outcome uint8

const (
	matched outcome = iota
	noMatch
	cannotBeat
)

// Score returns the packed score of topic as a target for link, 0 if it
// doesn't match at all, or -1 if it can be shown early that the score would
// not exceed minimum. interps may be nil, in which case free-text links are
// interpreted here.
func (s *Scorer) Score(link *model.Link, topic *model.Topic, minimum int64, interps *LinkInterpretations) int64 {
	score, result := s.evaluate(link, topic, minimum, interps)
	switch result {
	case noMatch:
		return 0
	case cannotBeat:
		return -1
	}
	return score.Pack()
}

// Explain returns the typed score of topic as a target for link, and false
// if it doesn't match.
func (s *Scorer) Explain(link *model.Link, topic *model.Topic, interps *LinkInterpretations) (Score, bool) {
	score, result := s.evaluate(link, topic, 0, interps)
	return score, result == matched
}

// topicTraits are the registry facts scoring needs about a topic.
type topicTraits struct {
	flags         model.TopicTypeFlags
	caseSensitive bool
	style         symbols.ParameterStyle
}

func (s *Scorer) traits(topic *model.Topic) topicTraits {
	var tr topicTraits
	if tt, ok := s.registry.TopicType(topic.TopicTypeID); ok {
		tr.flags = tt.Flags
	}
	if lang, ok := s.registry.Language(topic.LanguageID); ok {
		tr.caseSensitive = lang.CaseSensitive
		tr.style = lang.ParameterStyle
	}
	return tr
}

func (tr topicTraits) has(flag model.TopicTypeFlags) bool { return tr.flags&flag != 0 }

func (s *Scorer) evaluate(link *model.Link, topic *model.Topic, minimum int64, interps *LinkInterpretations) (Score, outcome) {
	tr := s.traits(topic)
	if (link.Type == model.LinkClassParent && !tr.has(model.FlagClassHierarchy)) ||
		(link.Type == model.LinkTypeReference && !tr.has(model.FlagVariableType)) {
		return Score{}, noMatch
	}

	var score Score
	switch {
	case link.LanguageID == topic.LanguageID:
		score.LanguageMatch = true
	case link.Type != model.LinkNaturalDocs:
		return Score{}, noMatch
	case minimum > languageMismatchCeiling:
		return Score{}, cannotBeat
	}

	if link.Type == model.LinkNaturalDocs && interps == nil {
		interps = s.Interpret(link)
	}

	var best symbolMatch
	bestIndex := 0
	if link.Type == model.LinkNaturalDocs {
		for i, r := range interps.Readings {
			m := s.matchSymbol(topic, link, tr, symbols.SymbolFromPlainTextNoParameters(r.Target))
			if !m.ok {
				continue
			}
			m.exact = !r.PluralConversion && !r.PossessiveConversion
			if m.betterThan(best) {
				best = m
				bestIndex = i
			}
		}
	} else {
		best = s.matchSymbol(topic, link, tr, link.Symbol())
		best.exact = true
	}
	if !best.ok {
		return Score{}, noMatch
	}

	score.CaseMatch = best.caseMatch
	score.Exact = best.exact
	score.ScopeRank = best.scopeRank
	score.InterpretationRank = bestIndex

	if score.ceiling().Pack() < minimum {
		return Score{}, cannotBeat
	}

	if link.Type == model.LinkNaturalDocs && interps.HasParameters {
		if !scoreParameters(&score, topic, tr, interps.Parameters) {
			return Score{}, noMatch
		}
	}

	applyTopic(&score, topic)
	return score, matched
}

// scoreParameters fills the parameter fields. It returns false if the link
// names a parameter the topic's prototype doesn't have.
func scoreParameters(score *Score, topic *model.Topic, tr topicTraits, linkParams symbols.ParameterString) bool {
	ignoreCase := !tr.caseSensitive

	if _, titleParams := symbols.SplitFromEndingParameters(topic.Title); titleParams != "" &&
		symbols.ParseParameterString(titleParams).Equals(linkParams, ignoreCase) {
		score.TitleParametersMatch = true
		return true
	}

	var proto *symbols.ParsedPrototype
	if topic.Prototype != "" {
		proto = symbols.ParsePrototype(topic.Prototype, tr.style)
	}

	for i := 0; i < 9; i++ {
		p := scoreParameter(proto, linkParams, i, ignoreCase)
		if p < 0 {
			return false
		}
		score.Parameters[i] = uint8(p)
	}

	last := scoreParameter(proto, linkParams, 9, ignoreCase)
	for i := 10; i < max(linkParams.Count(), proto.Count()); i++ {
		last = min(last, scoreParameter(proto, linkParams, i, ignoreCase))
	}
	if last < 0 {
		return false
	}
	score.Parameters[9] = uint8(last)
	return true
}

// scoreParameter rates parameter index of a link against the prototype:
//
//	-1  the link has the parameter, the prototype doesn't
//	 0  no match, or only the prototype has it
//	 1  only the prototype has it, with a default value
//	 2  matches except for modifiers or qualifiers
//	 3  matches by type or by name, or neither has it
func scoreParameter(proto *symbols.ParsedPrototype, linkParams symbols.ParameterString, index int, ignoreCase bool) int {
	linkTokens, hasLink := linkParams.Parameter(index)
	protoTokens, hasProto := proto.Parameter(index)

	if !hasLink {
		if !hasProto {
			return 3
		}
		for _, tok := range protoTokens {
			if tok.Kind == symbols.TokenDefaultValue {
				return 1
			}
		}
		return 0
	}
	if !hasProto {
		return -1
	}

	var typeMatch, typeMismatch, modifierMismatch, nameMatch, nameMismatch bool
	next := 0
	consume := func(tok symbols.PrototypeToken) bool {
		if next < len(linkTokens) && tokensMatch(linkTokens[next], tok.Text, ignoreCase) {
			next++
			return true
		}
		return false
	}

	suffixLevel := 0
	for _, tok := range protoTokens {
		kind := tok.Kind
		switch {
		case kind == symbols.TokenOpeningTypeSuffix:
			suffixLevel++
		case kind == symbols.TokenClosingTypeSuffix:
			suffixLevel--
		case suffixLevel > 0:
			kind = symbols.TokenTypeSuffix
		}

		switch kind {
		case symbols.TokenTypeModifier, symbols.TokenTypeQualifier,
			symbols.TokenOpeningTypeSuffix, symbols.TokenClosingTypeSuffix, symbols.TokenTypeSuffix,
			symbols.TokenNamePrefixPartOfType, symbols.TokenNameSuffixPartOfType:
			if !consume(tok) {
				modifierMismatch = true
			}
		case symbols.TokenType:
			if consume(tok) {
				typeMatch = true
			} else {
				typeMismatch = true
			}
		case symbols.TokenName:
			if consume(tok) {
				nameMatch = true
			} else {
				nameMismatch = true
			}
		}
	}

	switch {
	case next < len(linkTokens):
		return 0
	case nameMatch && !nameMismatch:
		return 3
	case typeMatch && !typeMismatch && !modifierMismatch:
		return 3
	case typeMatch && !typeMismatch:
		return 2
	}
	return 0
}

func tokensMatch(a, b string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// applyTopic fills the fields that depend only on the topic.
func applyTopic(score *Score, topic *model.Topic) {
	score.DefinitionRank = topic.SymbolDefinitionNumber
	if topic.HasBody() {
		score.HasBody = true
		score.BodyBucket = topic.EffectiveBodyLength() / 16
	}
	if topic.Prototype != "" {
		score.HasPrototype = true
		score.PrototypeBucket = len(topic.Prototype) / 16
	}
}

// ScoreTopic returns only the topic-dependent bits of a packed score, used
// to pick between competing definitions of the same symbol.
func (s *Scorer) ScoreTopic(topic *model.Topic) int64 {
	var score Score
	applyTopic(&score, topic)
	return score.Pack() & topicBits
}

// IsBetterTopicDefinition reports whether toTest is a better definition than
// current. Ties on the topic score go to the lower FileID, then the lower
// FilePosition, then the lower TopicID.
func (s *Scorer) IsBetterTopicDefinition(current, toTest *model.Topic) bool {
	if a, b := s.ScoreTopic(current), s.ScoreTopic(toTest); a != b {
		return b > a
	}
	if current.FileID != toTest.FileID {
		return toTest.FileID < current.FileID
	}
	if current.FilePosition != toTest.FilePosition {
		return toTest.FilePosition < current.FilePosition
	}
	return toTest.TopicID < current.TopicID
}

// IsBetterClassDefinition is IsBetterTopicDefinition, except that a topic
// which defines the class always beats one that doesn't.
func (s *Scorer) IsBetterClassDefinition(current, toTest *model.Topic) bool {
	switch {
	case !toTest.DefinesClass:
		return false
	case !current.DefinesClass:
		return true
	}
	return s.IsBetterTopicDefinition(current, toTest)
}

// symbolMatch is how one reading of a link reached a topic's symbol.
type symbolMatch struct {
	ok        bool
	caseMatch bool
	exact     bool
	scopeRank int
}

func (m symbolMatch) betterThan(o symbolMatch) bool {
	switch {
	case !m.ok:
		return false
	case !o.ok:
		return true
	case m.caseMatch != o.caseMatch:
		return m.caseMatch
	case m.exact != o.exact:
		return m.exact
	}
	return m.scopeRank < o.scopeRank
}

// matchSymbol resolves interp from the link's context, first through its
// scope and then through its using statements.
func (s *Scorer) matchSymbol(topic *model.Topic, link *model.Link, tr topicTraits, interp symbols.SymbolString) symbolMatch {
	var caseRequired, caseFlagged bool
	if link.Type == model.LinkNaturalDocs {
		caseFlagged = tr.has(model.FlagCode) && tr.caseSensitive
	} else {
		if !tr.has(model.FlagCode) {
			return symbolMatch{}
		}
		caseRequired = tr.caseSensitive
	}

	scope := matchScope(topic.Symbol, link.Context, interp, caseRequired, caseFlagged)
	using := matchUsing(topic.Symbol, link.Context, interp, caseRequired, caseFlagged)
	if using.betterThan(scope) {
		return using
	}
	return scope
}

// matchScope walks the scope list: the link's full scope first, then each
// shorter parent scope, ending at global. The rank is the position in that
// list. A trimmed scope must end on a separator, so a match never splits a
// segment.
func matchScope(symbol symbols.SymbolString, ctx symbols.ContextString, interp symbols.SymbolString, caseRequired, caseFlagged bool) symbolMatch {
	ignoreCase := !caseRequired
	scope := ctx.Scope()

	switch {
	case symbol.Equals(interp, ignoreCase):
		m := symbolMatch{ok: true}
		if !ctx.ScopeIsGlobal() {
			m.scopeRank = scope.CountSeparators() + 1
		}
		m.caseMatch = !caseFlagged || symbol == interp
		return m

	case symbol.EndsWith(interp, ignoreCase):
		topicScope := symbol[:len(symbol)-len(interp)-1]
		if len(topicScope) > len(scope) || !scope[:len(topicScope)].Equals(topicScope, ignoreCase) {
			return symbolMatch{}
		}
		m := symbolMatch{ok: true}
		if len(topicScope) < len(scope) {
			if scope[len(topicScope)] != symbols.SeparatorChar {
				return symbolMatch{}
			}
			m.scopeRank = scope[len(topicScope):].CountSeparators()
		}
		m.caseMatch = !caseFlagged ||
			(strings.HasSuffix(string(symbol), string(interp)) && scope[:len(topicScope)] == topicScope)
		return m
	}
	return symbolMatch{}
}

// matchUsing applies each using statement in order. Their ranks continue
// after the scope list.
func matchUsing(symbol symbols.SymbolString, ctx symbols.ContextString, interp symbols.SymbolString, caseRequired, caseFlagged bool) symbolMatch {
	usings := ctx.UsingStatements()
	if len(usings) == 0 {
		return symbolMatch{}
	}
	ignoreCase := !caseRequired

	rank := 1
	if !ctx.ScopeIsGlobal() {
		rank = ctx.Scope().CountSeparators() + 2
	}

	var best symbolMatch
	for _, u := range usings {
		var candidate symbols.SymbolString
		possible := true
		switch u.Type() {
		case symbols.UsingAddPrefix:
			candidate = u.PrefixToAdd().Join(interp)
		case symbols.UsingReplacePrefix:
			remove := u.PrefixToRemove()
			if interp.StartsWith(remove, ignoreCase) {
				candidate = u.PrefixToAdd().Join(interp[len(remove)+1:])
			} else {
				possible = false
			}
		default:
			possible = false
		}

		if possible && candidate.Equals(symbol, ignoreCase) {
			m := symbolMatch{ok: true, scopeRank: rank}
			if !caseFlagged || candidate == symbol {
				m.caseMatch = true
				return m
			}
			if !best.ok {
				best = m
			}
		}
		rank++
	}
	return best
}
