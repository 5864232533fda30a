package main

import (
	"strings"

	"github.com/jward/xrefdb"
	"github.com/jward/xrefdb/internal/model"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLITopic is a JSON-friendly topic representation.
type CLITopic struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Symbol      string `json:"symbol"`
	Class       string `json:"class,omitempty"`
	Access      string `json:"access"`
	Prototype   string `json:"prototype,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Language    string `json:"language"`
	Position    int    `json:"position"`
	CommentLine int    `json:"comment_line,omitempty"`
	CodeLine    int    `json:"code_line,omitempty"`
}

// CLILink is a link with the topic it resolves to, if any.
type CLILink struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Text     string `json:"text"`
	Context  string `json:"context,omitempty"`
	Status   string `json:"status"`
	TargetID int    `json:"target_id,omitempty"`
	Target   string `json:"target,omitempty"`
	Score    int64  `json:"score,omitempty"`
}

// CLIFile is a JSON-friendly file registry row.
type CLIFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Hash     string `json:"hash,omitempty"`
}

// CLIIngestSummary reports an ingest run followed by a resolve.
type CLIIngestSummary struct {
	xrefdb.IngestSummary
	Stats *xrefdb.Stats `json:"stats,omitempty"`
}

const (
	linkStatusResolved   = "resolved"
	linkStatusNoTarget   = "no_target"
	linkStatusUnresolved = "unresolved"
)

func topicToCLI(reg *model.Registry, t *xrefdb.Topic) CLITopic {
	c := CLITopic{
		ID:          t.TopicID,
		Title:       t.Title,
		Symbol:      t.Symbol.String(),
		Class:       t.ClassString.String(),
		Access:      t.EffectiveAccessLevel.String(),
		Prototype:   t.Prototype,
		Summary:     t.Summary,
		Position:    t.FilePosition,
		CommentLine: t.CommentLineNumber,
		CodeLine:    t.CodeLineNumber,
	}
	// Same lowercase key scripts pass to emit_topic.
	if tt, ok := reg.TopicType(t.TopicTypeID); ok {
		c.Type = strings.ToLower(tt.Name)
	}
	if lang, ok := reg.Language(t.LanguageID); ok {
		c.Language = lang.Name
	}
	return c
}

func linkToCLI(rl *xrefdb.ResolvedLink) CLILink {
	l := rl.Link
	c := CLILink{
		ID:      l.LinkID,
		Type:    l.Type.String(),
		Text:    l.TextOrSymbol,
		Context: l.Context.String(),
	}
	switch {
	case l.IsResolved():
		c.Status = linkStatusResolved
		c.TargetID = l.TargetTopicID
		c.Score = l.TargetScore
		if rl.Target != nil {
			c.Target = rl.Target.Symbol.String()
		}
	case l.TargetTopicID == model.TargetNone:
		c.Status = linkStatusNoTarget
	default:
		c.Status = linkStatusUnresolved
	}
	return c
}

func fileToCLI(reg *model.Registry, f *xrefdb.File) CLIFile {
	c := CLIFile{ID: f.ID, Path: f.Path, Hash: f.Hash}
	if lang, ok := reg.Language(f.LanguageID); ok {
		c.Language = lang.Name
	}
	return c
}
