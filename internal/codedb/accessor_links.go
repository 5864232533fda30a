package codedb

import (
	"context"
	"strconv"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/internal/symbols"
)

// GetLinkFlags trim what link queries load.
type GetLinkFlags uint8

const (
	DontLookupLinkClasses GetLinkFlags = 1 << iota
	DontLookupLinkContexts
)

// --- Queries ---

// GetLinks returns the links matching where. Columns must be qualified with
// "Links.".
func (a *Accessor) GetLinks(ctx context.Context, where, orderBy string, args []any, flags GetLinkFlags) ([]*model.Link, error) {
	a.RequireAtLeast(LockReadOnly)
	q := store.LinkQuery{
		Where:          where,
		OrderBy:        orderBy,
		Args:           args,
		LookupClasses:  flags&DontLookupLinkClasses == 0,
		LookupContexts: flags&DontLookupLinkContexts == 0,
	}
	var links []*model.Link
	err := store.QueryLinks(ctx, a.conn, q, func(l *model.Link) error {
		if q.LookupClasses {
			a.classIDs.Add(l.ClassString, l.ClassID)
		}
		if q.LookupContexts {
			a.contextIDs.Add(l.Context, l.ContextID)
		}
		links = append(links, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// GetLinkByID returns one link, or a CodeNotFound error.
func (a *Accessor) GetLinkByID(ctx context.Context, linkID int, flags GetLinkFlags) (*model.Link, error) {
	links, err := a.GetLinks(ctx, "Links.LinkID = ?", "", []any{linkID}, flags)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, errors.AddContext(errors.Newf(errors.CodeNotFound, "link %d does not exist", linkID),
			errors.CtxOperation, "GetLinkByID")
	}
	return links[0], nil
}

// GetLinksInFile returns every link in a file.
func (a *Accessor) GetLinksInFile(ctx context.Context, fileID int, flags GetLinkFlags) ([]*model.Link, error) {
	return a.GetLinks(ctx, "Links.FileID = ?", "Links.LinkID", []any{fileID}, flags)
}

// GetLinksInClass returns every link whose own class is classID.
func (a *Accessor) GetLinksInClass(ctx context.Context, classID int, flags GetLinkFlags) ([]*model.Link, error) {
	return a.GetLinks(ctx, "Links.ClassID = ?", "Links.LinkID", []any{classID}, flags)
}

// GetNaturalDocsLinksInFiles returns the free-text links of every file in
// fileIDs.
func (a *Accessor) GetNaturalDocsLinksInFiles(ctx context.Context, fileIDs *idset.NumberSet, flags GetLinkFlags) ([]*model.Link, error) {
	if fileIDs == nil || fileIDs.IsEmpty() {
		a.RequireAtLeast(LockReadOnly)
		return nil, nil
	}
	where, args := store.ColumnInNumberSet("Links.FileID", fileIDs)
	return a.GetLinks(ctx, "Links.Type = "+strconv.Itoa(int(model.LinkNaturalDocs))+" AND "+where, "Links.LinkID", args, flags)
}

// GetClassParentLinksInClasses returns the class parent links declared by
// every class in classIDs.
func (a *Accessor) GetClassParentLinksInClasses(ctx context.Context, classIDs *idset.NumberSet, flags GetLinkFlags) ([]*model.Link, error) {
	return a.classParentLinks(ctx, "Links.ClassID", classIDs, flags)
}

// GetClassParentLinksToClasses returns the class parent links resolved to
// any class in classIDs.
func (a *Accessor) GetClassParentLinksToClasses(ctx context.Context, classIDs *idset.NumberSet, flags GetLinkFlags) ([]*model.Link, error) {
	return a.classParentLinks(ctx, "Links.TargetClassID", classIDs, flags)
}

func (a *Accessor) classParentLinks(ctx context.Context, column string, classIDs *idset.NumberSet, flags GetLinkFlags) ([]*model.Link, error) {
	if classIDs == nil || classIDs.IsEmpty() {
		a.RequireAtLeast(LockReadOnly)
		return nil, nil
	}
	where, args := store.ColumnInNumberSet(column, classIDs)
	return a.GetLinks(ctx, "Links.Type = "+strconv.Itoa(int(model.LinkClassParent))+" AND "+where, "Links.LinkID", args, flags)
}

// GetLinksByEndingSymbol returns every link whose primary or alternate
// ending symbol is ending.
func (a *Accessor) GetLinksByEndingSymbol(ctx context.Context, ending symbols.EndingSymbol, flags GetLinkFlags) ([]*model.Link, error) {
	return a.GetLinksByEndingSymbols(ctx, []symbols.EndingSymbol{ending}, flags)
}

// GetLinksByEndingSymbols is GetLinksByEndingSymbol for several endings.
func (a *Accessor) GetLinksByEndingSymbols(ctx context.Context, endings []symbols.EndingSymbol, flags GetLinkFlags) ([]*model.Link, error) {
	if len(endings) == 0 {
		a.RequireAtLeast(LockReadOnly)
		return nil, nil
	}
	where, args := store.LinksByEndingSymbolsWhere(endings)
	return a.GetLinks(ctx, where, "Links.LinkID", args, flags)
}

// GetAlternateLinkEndingSymbols returns the non-primary ending symbols a
// free-text link could match.
func (a *Accessor) GetAlternateLinkEndingSymbols(ctx context.Context, linkID int) ([]symbols.EndingSymbol, error) {
	a.RequireAtLeast(LockReadOnly)
	return store.AlternateEndingSymbols(ctx, a.conn, linkID)
}

// --- Changes ---

func checkLinkCommon(op string, l *model.Link) {
	requireContent(op, "TextOrSymbol", l.TextOrSymbol)
	requireNonZero(op, "FileID", l.FileID)
	requireNonZero(op, "LanguageID", l.LanguageID)
	if l.Type < model.LinkNaturalDocs || l.Type > model.LinkTypeReference {
		fieldError(op, "Type", "%s: %s is not a known link type")
	}
}

// AddLink stores a new unresolved link, computing its ending symbols and
// assigning its LinkID, ContextID and ClassID.
func (a *Accessor) AddLink(ctx context.Context, l *model.Link) error {
	const op = "AddLink"
	requireZero(op, "LinkID", l.LinkID)
	requireZero(op, "ContextID", l.ContextID)
	requireZero(op, "ClassID", l.ClassID)
	requireZero(op, "TargetTopicID", l.TargetTopicID)
	requireZero(op, "TargetClassID", l.TargetClassID)
	requireZero(op, "TargetScore", l.TargetScore)
	checkLinkCommon(op, l)

	var alternates []symbols.EndingSymbol
	if l.Type == model.LinkNaturalDocs {
		l.EndingSymbol, alternates = a.m.interpreter.EndingSymbols(l.TextOrSymbol)
	} else {
		l.EndingSymbol = l.Symbol().EndingSymbol()
	}

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		if err := a.resolveLinkIDs(ctx, l); err != nil {
			return err
		}
		l.LinkID = a.m.usedLinkIDs.LowestAvailable()
		if err := store.InsertLink(ctx, a.conn, l); err != nil {
			return err
		}
		a.m.usedLinkIDs.Add(l.LinkID)
		a.m.contextRefs.AddReference(l.ContextID)
		a.m.classRefs.AddReference(l.ClassID)
		return store.InsertAlternateEndingSymbols(ctx, a.conn, l.LinkID, alternates)
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnAddLink(l, ev) })
	return nil
}

// DeleteLink removes a stored link and its alternate ending symbols.
func (a *Accessor) DeleteLink(ctx context.Context, l *model.Link) error {
	const op = "DeleteLink"
	requireNonZero(op, "LinkID", l.LinkID)
	checkLinkCommon(op, l)
	if !l.Context.IsNull() {
		requireNonZero(op, "ContextID", l.ContextID)
	}
	if !l.ClassString.IsNull() {
		requireNonZero(op, "ClassID", l.ClassID)
	}

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnDeleteLink(l, ev) })

	return a.inTransaction(ctx, func() error {
		if err := store.DeleteLinkRow(ctx, a.conn, l.LinkID); err != nil {
			return err
		}
		a.m.usedLinkIDs.Remove(l.LinkID)
		a.m.contextRefs.RemoveReference(l.ContextID)
		a.m.classRefs.RemoveReference(l.ClassID)
		return nil
	})
}

// UpdateLinkTarget stores a new resolution for l. l must already carry the
// new TargetTopicID, TargetClassID and TargetScore.
func (a *Accessor) UpdateLinkTarget(ctx context.Context, l *model.Link, oldTargetTopicID, oldTargetClassID int) error {
	requireNonZero("UpdateLinkTarget", "LinkID", l.LinkID)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		return store.UpdateLinkTarget(ctx, a.conn, l.LinkID, l.TargetTopicID, l.TargetClassID, l.TargetScore)
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) {
		w.OnChangeLinkTarget(l, oldTargetTopicID, oldTargetClassID, ev)
	})
	return nil
}

// linkRowKey mirrors the unique constraint on the Links table.
type linkRowKey struct {
	context    symbols.ContextString
	linkType   model.LinkType
	languageID int
	text       string
}

func rowKey(l *model.Link) linkRowKey {
	return linkRowKey{l.Context, l.Type, l.LanguageID, l.TextOrSymbol}
}

// UpdateLinksInFile replaces a file's links with newLinks. Matching links
// keep their IDs and resolution, and only the differences are written.
// Links that would collide in the Links table's unique key are collapsed to
// the first occurrence, which is the only one given an ID.
//
// Cancellation is checked between links. Work already done is committed
// and a CodeCancelled error is returned.
func (a *Accessor) UpdateLinksInFile(ctx context.Context, fileID int, newLinks []*model.Link) (err error) {
	for _, l := range newLinks {
		if l.FileID != fileID {
			fieldError("UpdateLinksInFile", "FileID", "%s: every link's %s must match the file")
		}
	}

	a.RequireAtLeast(LockReadPossibleWrite)
	oldLinks, err := a.GetLinksInFile(ctx, fileID, 0)
	if err != nil {
		return err
	}

	seen := make(map[linkRowKey]bool, len(newLinks))
	var toAdd []*model.Link
	for _, newLink := range newLinks {
		key := rowKey(newLink)
		if seen[key] {
			continue
		}
		seen[key] = true

		matched := false
		for i, oldLink := range oldLinks {
			if newLink.SameIdentifyingProperties(oldLink) {
				newLink.CopyNonIdentifyingPropertiesFrom(oldLink)
				oldLinks = append(oldLinks[:i], oldLinks[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			toAdd = append(toAdd, newLink)
		}
	}

	tx := lazyTransaction{a: a}
	defer func() { err = tx.finish(ctx, err) }()

	// Leftovers go first so a link whose class changed can't collide with
	// its old row.
	for _, oldLink := range oldLinks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteLink(ctx, oldLink); err != nil {
			return err
		}
	}
	for _, newLink := range toAdd {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.AddLink(ctx, newLink); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLinksInFile removes every link in a file.
func (a *Accessor) DeleteLinksInFile(ctx context.Context, fileID int) (err error) {
	a.RequireAtLeast(LockReadPossibleWrite)
	links, err := a.GetLinksInFile(ctx, fileID, 0)
	if err != nil {
		return err
	}

	tx := lazyTransaction{a: a}
	defer func() { err = tx.finish(ctx, err) }()

	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "delete links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteLink(ctx, l); err != nil {
			return err
		}
	}
	return nil
}
