package links

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/xrefdb/internal/model"
)

func imageLink(p string) *model.ImageLink {
	return &model.ImageLink{OriginalText: "(see " + p + ")", Path: p, FileID: 1}
}

// =============================================================================
// ImageScore
// =============================================================================

func TestImageScore_UnpackRoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []ImageScore{
		{},
		{Relative: true, PathMatch: true, CaseMatch: true, SharedFolders: 3},
		{CaseMatch: true, SharedFolders: maxSharedFolders},
	} {
		assert.Equal(t, s, UnpackImageScore(s.Pack()))
		assert.Positive(t, s.Pack())
	}
	assert.Equal(t, maxSharedFolders, UnpackImageScore(ImageScore{SharedFolders: 1 << 20}.Pack()).SharedFolders)
}

func TestImageScore_FieldPriority(t *testing.T) {
	t.Parallel()
	ordered := []ImageScore{
		{SharedFolders: 9},
		{CaseMatch: true},
		{PathMatch: true},
		{Relative: true},
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Pack(), ordered[i-1].Pack(), "%+v beats %+v", ordered[i], ordered[i-1])
	}
}

// =============================================================================
// ScoreImageLink
// =============================================================================

func TestScorer_ImageLink(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := imageLink("images/Layout.png")
	const source = "/proj/pkg/server.go"

	relative := s.ScoreImageLink(link, source, "/proj/pkg/images/Layout.png")
	suffix := s.ScoreImageLink(link, source, "/proj/docs/images/Layout.png")
	nameOnly := s.ScoreImageLink(link, source, "/proj/pkg/Layout.png")
	wrongCase := s.ScoreImageLink(link, source, "/proj/pkg/layout.PNG")

	assert.Greater(t, relative, suffix)
	assert.Greater(t, suffix, nameOnly)
	assert.Greater(t, nameOnly, wrongCase)
	assert.Positive(t, wrongCase, "file names match ignoring case")

	assert.Zero(t, s.ScoreImageLink(link, source, "/proj/pkg/images/other.png"))
}

func TestScorer_ImageLinkRelativeParent(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	score := UnpackImageScore(s.ScoreImageLink(imageLink("../docs/flow.svg"), "/proj/src/main.go", "/proj/docs/flow.svg"))
	assert.True(t, score.Relative)
	assert.Equal(t, 1, score.SharedFolders)
}

func TestScorer_ImageLinkBackslashes(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	score := UnpackImageScore(s.ScoreImageLink(imageLink("images/a.png"), `C:\proj\main.go`, `C:\proj\images\a.png`))
	assert.True(t, score.Relative)
	assert.True(t, score.PathMatch)
	assert.True(t, score.CaseMatch)
}

func TestScorer_ImageLinkSharedFolders(t *testing.T) {
	t.Parallel()
	s := NewScorer(nil, nil)
	link := imageLink("a.png")
	near := s.ScoreImageLink(link, "/proj/pkg/sub/x.go", "/proj/pkg/other/a.png")
	far := s.ScoreImageLink(link, "/proj/pkg/sub/x.go", "/elsewhere/a.png")
	assert.Greater(t, near, far)
}
