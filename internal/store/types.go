package store

import "time"

// File is a row of the file registry.
type File struct {
	ID           int
	Path         string
	LanguageID   int
	IsImage      bool
	Hash         string
	LastIngested time.Time
}

// Stats summarizes table sizes and resolution outcomes.
type Stats struct {
	Files      int `json:"files"`
	Topics     int `json:"topics"`
	Links      int `json:"links"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	NoTarget   int `json:"no_target"`
	Classes    int `json:"classes"`
	Contexts   int `json:"contexts"`

	ImageFiles         int `json:"image_files"`
	ImageLinks         int `json:"image_links"`
	ImageLinksResolved int `json:"image_links_resolved"`
}
