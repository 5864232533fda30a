package codedb

import (
	"context"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/internal/symbols"
)

// --- Queries ---

// GetImageLinks returns the image links matching where. Columns must be
// qualified with "ImageLinks.". Only DontLookupLinkClasses applies.
func (a *Accessor) GetImageLinks(ctx context.Context, where, orderBy string, args []any, flags GetLinkFlags) ([]*model.ImageLink, error) {
	a.RequireAtLeast(LockReadOnly)
	q := store.ImageLinkQuery{
		Where:         where,
		OrderBy:       orderBy,
		Args:          args,
		LookupClasses: flags&DontLookupLinkClasses == 0,
	}
	var links []*model.ImageLink
	err := store.QueryImageLinks(ctx, a.conn, q, func(l *model.ImageLink) error {
		if q.LookupClasses {
			a.classIDs.Add(l.ClassString, l.ClassID)
		}
		links = append(links, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// GetImageLinkByID returns one image link, or a CodeNotFound error.
func (a *Accessor) GetImageLinkByID(ctx context.Context, imageLinkID int, flags GetLinkFlags) (*model.ImageLink, error) {
	links, err := a.GetImageLinks(ctx, "ImageLinks.ImageLinkID = ?", "", []any{imageLinkID}, flags)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, errors.AddContext(errors.Newf(errors.CodeNotFound, "image link %d does not exist", imageLinkID),
			errors.CtxOperation, "GetImageLinkByID")
	}
	return links[0], nil
}

// GetImageLinksInFile returns every image link in a file.
func (a *Accessor) GetImageLinksInFile(ctx context.Context, fileID int, flags GetLinkFlags) ([]*model.ImageLink, error) {
	return a.GetImageLinks(ctx, "ImageLinks.FileID = ?", "ImageLinks.ImageLinkID", []any{fileID}, flags)
}

// GetImageLinksByFileName returns every image link whose path ends in
// fileName, which must be lowercase.
func (a *Accessor) GetImageLinksByFileName(ctx context.Context, fileName string, flags GetLinkFlags) ([]*model.ImageLink, error) {
	return a.GetImageLinks(ctx, "ImageLinks.FileName = ?", "ImageLinks.ImageLinkID", []any{fileName}, flags)
}

// GetImageLinkIDsByTarget returns the IDs of image links resolved to
// fileID.
func (a *Accessor) GetImageLinkIDsByTarget(ctx context.Context, fileID int) (*idset.NumberSet, error) {
	a.RequireAtLeast(LockReadOnly)
	return store.ImageLinkIDsTargetingFile(ctx, a.conn, fileID)
}

// GetImageFilesByName returns the registered image files named fileName,
// which must be lowercase.
func (a *Accessor) GetImageFilesByName(ctx context.Context, fileName string) ([]*store.File, error) {
	a.RequireAtLeast(LockReadOnly)
	return store.ImageFilesByName(ctx, a.conn, fileName)
}

// GetFilePath returns the path registered for fileID, or "" if there is
// none.
func (a *Accessor) GetFilePath(ctx context.Context, fileID int) (string, error) {
	a.RequireAtLeast(LockReadOnly)
	return store.FilePath(ctx, a.conn, fileID)
}

// --- Changes ---

func checkImageLinkCommon(op string, l *model.ImageLink) {
	requireContent(op, "OriginalText", l.OriginalText)
	requireContent(op, "Path", l.Path)
	requireNonZero(op, "FileID", l.FileID)
}

// AddImageLink stores a new unresolved image link, assigning its
// ImageLinkID and ClassID.
func (a *Accessor) AddImageLink(ctx context.Context, l *model.ImageLink) error {
	const op = "AddImageLink"
	requireZero(op, "ImageLinkID", l.ImageLinkID)
	requireZero(op, "ClassID", l.ClassID)
	requireZero(op, "TargetFileID", l.TargetFileID)
	requireZero(op, "TargetScore", l.TargetScore)
	checkImageLinkCommon(op, l)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		if err := cacheOrCreateIDs(ctx, a, a.classTable(), []symbols.ClassString{l.ClassString}); err != nil {
			return err
		}
		l.ClassID = a.classIDs.Get(l.ClassString)
		l.ImageLinkID = a.m.usedImageLinkIDs.LowestAvailable()
		if err := store.InsertImageLink(ctx, a.conn, l); err != nil {
			return err
		}
		a.m.usedImageLinkIDs.Add(l.ImageLinkID)
		a.m.classRefs.AddReference(l.ClassID)
		return nil
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnAddImageLink(l, ev) })
	return nil
}

// DeleteImageLink removes a stored image link.
func (a *Accessor) DeleteImageLink(ctx context.Context, l *model.ImageLink) error {
	const op = "DeleteImageLink"
	requireNonZero(op, "ImageLinkID", l.ImageLinkID)
	checkImageLinkCommon(op, l)
	if !l.ClassString.IsNull() {
		requireNonZero(op, "ClassID", l.ClassID)
	}

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnDeleteImageLink(l, ev) })

	return a.inTransaction(ctx, func() error {
		if err := store.DeleteImageLinkRow(ctx, a.conn, l.ImageLinkID); err != nil {
			return err
		}
		a.m.usedImageLinkIDs.Remove(l.ImageLinkID)
		a.m.classRefs.RemoveReference(l.ClassID)
		return nil
	})
}

// UpdateImageLinkTarget stores a new resolution for l. l must already carry
// the new TargetFileID and TargetScore.
func (a *Accessor) UpdateImageLinkTarget(ctx context.Context, l *model.ImageLink, oldTargetFileID int) error {
	requireNonZero("UpdateImageLinkTarget", "ImageLinkID", l.ImageLinkID)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		return store.UpdateImageLinkTarget(ctx, a.conn, l.ImageLinkID, l.TargetFileID, l.TargetScore)
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) {
		w.OnChangeImageLinkTarget(l, oldTargetFileID, ev)
	})
	return nil
}

// DeleteImageFileTargets marks every image link resolved to fileID as
// waiting for a new target and returns their IDs. Call it before the file
// is removed from the registry.
func (a *Accessor) DeleteImageFileTargets(ctx context.Context, fileID int) (*idset.NumberSet, error) {
	a.RequireAtLeast(LockReadPossibleWrite)
	affected, err := a.GetImageLinkIDsByTarget(ctx, fileID)
	if err != nil || affected.IsEmpty() {
		return affected, err
	}

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err = a.inTransaction(ctx, func() error {
		return store.MarkImageLinksTargetDeleted(ctx, a.conn, affected)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

// UpdateImageLinksInFile replaces a file's image links with newLinks.
// Matching links keep their IDs and resolution. Duplicates of an earlier
// link in newLinks are dropped.
//
// Cancellation is checked between links. Work already done is committed
// and a CodeCancelled error is returned.
func (a *Accessor) UpdateImageLinksInFile(ctx context.Context, fileID int, newLinks []*model.ImageLink) (err error) {
	for _, l := range newLinks {
		if l.FileID != fileID {
			fieldError("UpdateImageLinksInFile", "FileID", "%s: every image link's %s must match the file")
		}
	}

	a.RequireAtLeast(LockReadPossibleWrite)
	oldLinks, err := a.GetImageLinksInFile(ctx, fileID, 0)
	if err != nil {
		return err
	}

	var kept, toAdd []*model.ImageLink
	for _, newLink := range newLinks {
		duplicate := false
		for _, k := range kept {
			if newLink.SameIdentifyingProperties(k) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, newLink)

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

	for _, oldLink := range oldLinks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update image links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteImageLink(ctx, oldLink); err != nil {
			return err
		}
	}
	for _, newLink := range toAdd {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update image links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.AddImageLink(ctx, newLink); err != nil {
			return err
		}
	}
	return nil
}

// DeleteImageLinksInFile removes every image link in a file.
func (a *Accessor) DeleteImageLinksInFile(ctx context.Context, fileID int) (err error) {
	a.RequireAtLeast(LockReadPossibleWrite)
	links, err := a.GetImageLinksInFile(ctx, fileID, 0)
	if err != nil {
		return err
	}

	tx := lazyTransaction{a: a}
	defer func() { err = tx.finish(ctx, err) }()

	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "delete image links in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteImageLink(ctx, l); err != nil {
			return err
		}
	}
	return nil
}
