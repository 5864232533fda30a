package model

import (
	"path"
	"strings"

	"github.com/jward/xrefdb/internal/symbols"
)

// ImageLink is a reference to an image file written in documentation, such
// as "(see images/layout.png)", and its resolution outcome.
type ImageLink struct {
	ImageLinkID int
	// OriginalText is the link as written, e.g. "(see images/layout.png)".
	OriginalText string
	// Path is the image path inside the link, always with forward slashes.
	Path        string
	FileID      int
	ClassString symbols.ClassString
	ClassID     int

	// TargetFileID uses the same sentinels as Link.TargetTopicID.
	TargetFileID int
	TargetScore  int64
}

// FileName is the lowercase last element of Path. Image links are matched
// to files by it.
func (l *ImageLink) FileName() string {
	return ImageFileName(l.Path)
}

// ImageFileName returns the lowercase last element of p, accepting either
// slash style.
func ImageFileName(p string) string {
	return strings.ToLower(path.Base(strings.ReplaceAll(p, `\`, "/")))
}

// IsResolved reports whether the link points at a file.
func (l *ImageLink) IsResolved() bool { return l.TargetFileID > 0 }

// Clone returns a copy.
func (l *ImageLink) Clone() *ImageLink {
	c := *l
	return &c
}

// CompareIdentifyingProperties orders image links by the properties that
// decide whether two are the same reference: OriginalText, FileID and
// ClassString.
func (l *ImageLink) CompareIdentifyingProperties(other *ImageLink) int {
	if c := strings.Compare(l.OriginalText, other.OriginalText); c != 0 {
		return c
	}
	if c := compareInts(l.FileID, other.FileID); c != 0 {
		return c
	}
	return strings.Compare(l.ClassString.String(), other.ClassString.String())
}

// SameIdentifyingProperties reports whether CompareIdentifyingProperties
// returns zero.
func (l *ImageLink) SameIdentifyingProperties(other *ImageLink) bool {
	return l.CompareIdentifyingProperties(other) == 0
}

// CopyNonIdentifyingPropertiesFrom copies everything that
// CompareIdentifyingProperties ignores.
func (l *ImageLink) CopyNonIdentifyingPropertiesFrom(other *ImageLink) {
	l.ImageLinkID = other.ImageLinkID
	l.Path = other.Path
	l.ClassID = other.ClassID
	l.TargetFileID = other.TargetFileID
	l.TargetScore = other.TargetScore
}
