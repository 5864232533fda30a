package links

import (
	"path"
	"strings"

	"github.com/jward/xrefdb/internal/model"
)

// ImageScore is how well an image file satisfies an image link. Fields are
// ordered from most to least significant.
type ImageScore struct {
	// Relative is set when the link's path, taken from the linking file's
	// folder, names the image.
	Relative bool
	// PathMatch is set when the image's path ends with every element of the
	// link's path.
	PathMatch bool
	CaseMatch bool
	// SharedFolders counts the leading folders the image and the linking
	// file have in common.
	SharedFolders int
}

const (
	maxSharedFolders = 1<<16 - 1

	imageMatchBit int64 = 1 << 19
)

// Pack encodes the score so that better matches are larger. Every packed
// score is positive.
func (s ImageScore) Pack() int64 {
	v := imageMatchBit |
		int64(boolInt(s.Relative))<<18 |
		int64(boolInt(s.PathMatch))<<17 |
		int64(boolInt(s.CaseMatch))<<16
	return v | int64(clamp(s.SharedFolders, maxSharedFolders))
}

// UnpackImageScore reverses Pack.
func UnpackImageScore(v int64) ImageScore {
	return ImageScore{
		Relative:      v&(1<<18) != 0,
		PathMatch:     v&(1<<17) != 0,
		CaseMatch:     v&(1<<16) != 0,
		SharedFolders: int(v & maxSharedFolders),
	}
}

// ScoreImageLink scores the image at imagePath as the target of link, which
// appears in the file at sourcePath. It returns 0 if the file names differ.
func (s *Scorer) ScoreImageLink(link *model.ImageLink, sourcePath, imagePath string) int64 {
	score, ok := scoreImage(link, sourcePath, imagePath)
	if !ok {
		return 0
	}
	return score.Pack()
}

func scoreImage(link *model.ImageLink, sourcePath, imagePath string) (ImageScore, bool) {
	linkPath := path.Clean(slashed(link.Path))
	image := slashed(imagePath)
	if !strings.EqualFold(path.Base(linkPath), path.Base(image)) {
		return ImageScore{}, false
	}

	var score ImageScore
	score.CaseMatch = path.Base(linkPath) == path.Base(image)
	sourceDir := path.Dir(slashed(sourcePath))
	if !path.IsAbs(linkPath) {
		score.Relative = strings.EqualFold(path.Join(sourceDir, linkPath), image)
	} else {
		score.Relative = strings.EqualFold(linkPath, image)
	}
	lowerImage, lowerLink := strings.ToLower(image), strings.ToLower(strings.TrimPrefix(linkPath, "/"))
	score.PathMatch = lowerImage == lowerLink || strings.HasSuffix(lowerImage, "/"+lowerLink)
	score.SharedFolders = sharedFolders(sourceDir, path.Dir(image))
	return score, true
}

func slashed(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func sharedFolders(a, b string) int {
	as := strings.Split(strings.Trim(a, "/"), "/")
	bs := strings.Split(strings.Trim(b, "/"), "/")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] && as[n] != "" && as[n] != "." {
		n++
	}
	return n
}
