package xrefdb

import (
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/store"
)

// Public aliases for the internal types returned by the Engine. External
// consumers use these names; no conversion is needed.

type Topic = model.Topic
type Link = model.Link
type ImageLink = model.ImageLink
type File = store.File

// ResolvedLink pairs a link with the topic it currently points at.
type ResolvedLink struct {
	Link   *Link  `json:"link"`
	Target *Topic `json:"target,omitempty"`
}

// ResolvedImageLink pairs an image link with the image file it currently
// points at.
type ResolvedImageLink struct {
	Link   *ImageLink `json:"link"`
	Target *File      `json:"target,omitempty"`
}

// Stats is store.Stats plus the number of changes waiting for Resolve.
type Stats struct {
	store.Stats
	Pending int `json:"pending"`
}

// IngestSummary counts what IngestFiles did with each path.
type IngestSummary struct {
	Ingested  int `json:"ingested"`
	Images    int `json:"images"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
