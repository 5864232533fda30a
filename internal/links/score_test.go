package links

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

const (
	langText = 1
	langGo   = 2

	typeFunction = 1
	typeClass    = 2
	typeVariable = 4
	typeSection  = 5
)

func scoreTopic(id int, symbol string, languageID, topicTypeID int) *model.Topic {
	sym := symbols.SymbolFromPlainTextNoParameters(symbol)
	return &model.Topic{
		TopicID:                id,
		Title:                  sym.LastSegment(),
		Symbol:                 sym,
		SymbolDefinitionNumber: 1,
		TopicTypeID:            topicTypeID,
		FileID:                 1,
		FilePosition:           id,
		LanguageID:             languageID,
	}
}

func textLink(text, scope string, languageID int) *model.Link {
	return &model.Link{
		Type:         model.LinkNaturalDocs,
		TextOrSymbol: text,
		Context:      symbols.NewContextString(symbols.SymbolFromPlainTextNoParameters(scope)),
		LanguageID:   languageID,
	}
}

func typedLink(linkType model.LinkType, symbol, scope string, languageID int) *model.Link {
	return &model.Link{
		Type:         linkType,
		TextOrSymbol: string(symbols.SymbolFromPlainTextNoParameters(symbol)),
		Context:      symbols.NewContextString(symbols.SymbolFromPlainTextNoParameters(scope)),
		LanguageID:   languageID,
	}
}

func randomScore(r *rand.Rand) Score {
	s := Score{
		LanguageMatch:        r.Intn(2) == 0,
		CaseMatch:            r.Intn(2) == 0,
		Exact:                r.Intn(2) == 0,
		TitleParametersMatch: r.Intn(2) == 0,
		ScopeRank:            r.Intn(1100),
		InterpretationRank:   r.Intn(70),
		HasBody:              r.Intn(2) == 0,
		DefinitionRank:       r.Intn(70),
		HasPrototype:         r.Intn(2) == 0,
		BodyBucket:           r.Intn(300),
		PrototypeBucket:      r.Intn(70),
	}
	for i := range s.Parameters {
		s.Parameters[i] = uint8(r.Intn(4))
	}
	return s
}

// =============================================================================
// Score
// =============================================================================

func TestScore_PackPreservesOrder(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		a, b := randomScore(r), randomScore(r)
		// Share a prefix of fields half the time so lower fields get compared.
		if i%2 == 0 {
			b.LanguageMatch, b.CaseMatch, b.Exact = a.LanguageMatch, a.CaseMatch, a.Exact
			b.TitleParametersMatch, b.Parameters = a.TitleParametersMatch, a.Parameters
		}
		require.Equal(t, a.Less(b), a.Pack() < b.Pack(), "a=%+v b=%+v", a, b)
		require.Equal(t, a.Compare(b) == 0, a.Pack() == b.Pack())
	}
}

func TestScore_UnpackRoundTrip(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		s := randomScore(r)
		packed := s.Pack()
		assert.Equal(t, s.normalized(), UnpackScore(packed))
		assert.Equal(t, int64(1), packed&1)
		assert.Positive(t, packed)
	}
}

func TestScore_FieldPriority(t *testing.T) {
	t.Parallel()
	best := Score{
		CaseMatch: true, Exact: true, TitleParametersMatch: true,
		HasBody: true, HasPrototype: true, BodyBucket: 255, PrototypeBucket: 63,
	}
	for i := range best.Parameters {
		best.Parameters[i] = 3
	}
	assert.True(t, best.Less(Score{LanguageMatch: true, ScopeRank: 1023, InterpretationRank: 63, DefinitionRank: 63}))
	assert.True(t, Score{ScopeRank: 2}.Less(Score{ScopeRank: 1}))
	assert.True(t, Score{ScopeRank: 5000}.Compare(Score{ScopeRank: 1023}) == 0, "ranks are capped")
}

// =============================================================================
// Scorer
// =============================================================================

func TestScorer_LanguageDominates(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("Func", "", langText)

	sameLanguage := scoreTopic(1, "Func", langText, typeFunction)
	rich := scoreTopic(2, "Func", langGo, typeFunction)
	rich.Body = strings.Repeat("x", 4000)
	rich.Prototype = "func Func()"
	rich.SymbolDefinitionNumber = 0

	a := s.Score(link, sameLanguage, 0, nil)
	b := s.Score(link, rich, 0, nil)
	assert.Positive(t, b)
	assert.Greater(t, a, b)
}

func TestScorer_TopicTypeGates(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)

	parent := typedLink(model.LinkClassParent, "Widget", "", langText)
	assert.Zero(t, s.Score(parent, scoreTopic(1, "Widget", langText, typeFunction), 0, nil))
	assert.Positive(t, s.Score(parent, scoreTopic(2, "Widget", langText, typeClass), 0, nil))

	typeRef := typedLink(model.LinkTypeReference, "Widget", "", langText)
	assert.Zero(t, s.Score(typeRef, scoreTopic(3, "Widget", langText, typeVariable), 0, nil))
	assert.Positive(t, s.Score(typeRef, scoreTopic(4, "Widget", langText, typeClass), 0, nil))

	assert.Zero(t, s.Score(typeRef, scoreTopic(5, "Widget", langGo, typeClass), 0, nil),
		"typed links never cross languages")

	text := textLink("Overview", "", langText)
	assert.Positive(t, s.Score(text, scoreTopic(6, "Overview", langText, typeSection), 0, nil))
	assert.Positive(t, s.Score(text, scoreTopic(7, "Overview", langGo, typeSection), 0, nil),
		"free-text links may cross languages")
}

func TestScorer_ScopeRank(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("<Func>", "A.B", langText)

	cases := []struct {
		symbol string
		rank   int
	}{
		{"A.B.Func", 0},
		{"A.Func", 1},
		{"Func", 2},
	}
	var last int64 = math.MaxInt64
	for _, tc := range cases {
		topic := scoreTopic(1, tc.symbol, langText, typeFunction)
		got, ok := s.Explain(link, topic, nil)
		require.True(t, ok, tc.symbol)
		assert.Equal(t, tc.rank, got.ScopeRank, tc.symbol)

		packed := s.Score(link, topic, 0, nil)
		assert.Less(t, packed, last, tc.symbol)
		last = packed
	}

	assert.Zero(t, s.Score(link, scoreTopic(2, "C.Func", langText, typeFunction), 0, nil))
	assert.Zero(t, s.Score(link, scoreTopic(3, "A.B.C.Func", langText, typeFunction), 0, nil))
}

func TestScorer_ScopeNeverSplitsSegment(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("Func", "AB", langText)
	assert.Zero(t, s.Score(link, scoreTopic(1, "A.Func", langText, typeFunction), 0, nil))
	assert.Positive(t, s.Score(link, scoreTopic(2, "AB.Func", langText, typeFunction), 0, nil))
}

func TestScorer_UsingStatements(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)

	link := textLink("Func", "", langText)
	link.Context = symbols.NewContextString("",
		symbols.NewAddPrefixUsing("Other"),
		symbols.NewAddPrefixUsing("Pkg"))
	got, ok := s.Explain(link, scoreTopic(1, "Pkg.Func", langText, typeFunction), nil)
	require.True(t, ok)
	assert.Equal(t, 2, got.ScopeRank, "using ranks follow the scope list")

	renamed := textLink("Old.Func", "Outer", langText)
	renamed.Context = symbols.NewContextString("Outer",
		symbols.NewReplacePrefixUsing("Old", "New"))
	got, ok = s.Explain(renamed, scoreTopic(2, "New.Func", langText, typeFunction), nil)
	require.True(t, ok)
	assert.Equal(t, 2, got.ScopeRank)

	assert.Zero(t, s.Score(link, scoreTopic(3, "Nope.Func", langText, typeFunction), 0, nil))
}

func TestScorer_Capitalization(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	topic := scoreTopic(1, "Func", langGo, typeFunction)

	exact, ok := s.Explain(textLink("Func", "", langGo), topic, nil)
	require.True(t, ok)
	assert.True(t, exact.CaseMatch)

	folded, ok := s.Explain(textLink("func", "", langGo), topic, nil)
	require.True(t, ok)
	assert.False(t, folded.CaseMatch)
	assert.True(t, folded.Less(exact))

	// Case-insensitive languages never flag capitalization.
	text := scoreTopic(2, "Func", langText, typeFunction)
	got, ok := s.Explain(textLink("func", "", langText), text, nil)
	require.True(t, ok)
	assert.True(t, got.CaseMatch)

	assert.Zero(t, s.Score(typedLink(model.LinkTypeReference, "widget", "", langGo),
		scoreTopic(3, "Widget", langGo, typeClass), 0, nil), "typed links require case in case-sensitive languages")
}

func TestScorer_PluralsAreNotExact(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("Widgets", "", langText)

	plural, ok := s.Explain(link, scoreTopic(1, "Widget", langText, typeClass), nil)
	require.True(t, ok)
	assert.False(t, plural.Exact)
	assert.Positive(t, plural.InterpretationRank)

	literal, ok := s.Explain(link, scoreTopic(2, "Widgets", langText, typeClass), nil)
	require.True(t, ok)
	assert.True(t, literal.Exact)
	assert.Zero(t, literal.InterpretationRank)
	assert.True(t, plural.Less(literal))
}

func TestScorer_Parameters(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("<Func(int, string)>", "", langText)

	both := scoreTopic(1, "Func", langText, typeFunction)
	both.Prototype = "void Func(int a, string b)"
	got, ok := s.Explain(link, both, nil)
	require.True(t, ok)
	for i, p := range got.Parameters {
		assert.Equal(t, uint8(3), p, "parameter %d", i)
	}

	short := scoreTopic(2, "Func", langText, typeFunction)
	short.Prototype = "void Func(int a)"
	assert.Zero(t, s.Score(link, short, 0, nil), "a link parameter the prototype lacks rejects the topic")

	withDefault := scoreTopic(3, "Func", langText, typeFunction)
	withDefault.Prototype = "void Func(int a, string b, int c = 4)"
	got, ok = s.Explain(link, withDefault, nil)
	require.True(t, ok)
	assert.Equal(t, uint8(1), got.Parameters[2])

	modifier := scoreTopic(4, "Func", langText, typeFunction)
	modifier.Prototype = "void Func(const int a, string b)"
	got, ok = s.Explain(link, modifier, nil)
	require.True(t, ok)
	assert.Equal(t, uint8(2), got.Parameters[0])

	titled := scoreTopic(5, "Func", langText, typeFunction)
	titled.Title = "Func(int, string)"
	got, ok = s.Explain(link, titled, nil)
	require.True(t, ok)
	assert.True(t, got.TitleParametersMatch)
}

func TestScorer_EarlyExit(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	topic := scoreTopic(1, "Func", langText, typeFunction)

	// Matched from a parent scope, so even a perfect topic can't reach the
	// maximum.
	assert.Equal(t, int64(-1), s.Score(textLink("Func", "A", langText), topic, math.MaxInt64, nil))
	assert.Equal(t, int64(-1), s.Score(textLink("Func", "", langGo), topic, languageMismatchCeiling+1, nil))
	assert.Zero(t, s.Score(textLink("Other", "", langText), topic, math.MaxInt64, nil))
}

func TestScorer_TopicRichness(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := textLink("Func", "", langText)

	bare := scoreTopic(1, "Func", langText, typeFunction)
	withBody := scoreTopic(2, "Func", langText, typeFunction)
	withBody.Body = "Does things."
	second := scoreTopic(3, "Func", langText, typeFunction)
	second.Body = "Does things."
	second.SymbolDefinitionNumber = 2

	assert.Greater(t, s.Score(link, withBody, 0, nil), s.Score(link, bare, 0, nil))
	assert.Greater(t, s.Score(link, withBody, 0, nil), s.Score(link, second, 0, nil))

	lengthOnly := scoreTopic(4, "Func", langText, typeFunction)
	lengthOnly.BodyLength = len("Does things.")
	assert.Equal(t, s.ScoreTopic(withBody), s.ScoreTopic(lengthOnly))
	assert.Zero(t, s.ScoreTopic(withBody)&^topicBits)
}

func TestScorer_DefinitionTieBreak(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)

	a := scoreTopic(10, "Widget", langText, typeClass)
	b := scoreTopic(11, "Widget", langText, typeClass)
	b.FileID = 2
	assert.False(t, s.IsBetterTopicDefinition(a, b), "lower file wins a tie")
	assert.True(t, s.IsBetterTopicDefinition(b, a))

	c := scoreTopic(12, "Widget", langText, typeClass)
	c.FilePosition = a.FilePosition
	assert.True(t, s.IsBetterTopicDefinition(c, a), "then lower topic ID")

	b.Body = "Documented."
	assert.True(t, s.IsBetterTopicDefinition(a, b), "richness comes first")

	a.DefinesClass = false
	b.DefinesClass = false
	c.DefinesClass = true
	assert.True(t, s.IsBetterClassDefinition(b, c))
	assert.False(t, s.IsBetterClassDefinition(c, b))
}
