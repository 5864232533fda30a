package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// --- Image link rows ---

// ImageLinkQuery selects image links. Where should qualify columns with
// "ImageLinks.".
type ImageLinkQuery struct {
	Where         string
	OrderBy       string
	Args          []any
	LookupClasses bool
}

func (q ImageLinkQuery) sql() string {
	var b strings.Builder
	b.WriteString("SELECT ImageLinks.ImageLinkID, ImageLinks.OriginalText, ImageLinks.Path, ImageLinks.FileID, " +
		"ImageLinks.ClassID, ImageLinks.TargetFileID, ImageLinks.TargetScore")
	if q.LookupClasses {
		b.WriteString(", IFNULL(Classes.ClassString, Classes.LookupKey) FROM ImageLinks" +
			" LEFT OUTER JOIN Classes ON Classes.ClassID = ImageLinks.ClassID")
	} else {
		b.WriteString(", NULL FROM ImageLinks")
	}
	if q.Where != "" {
		b.WriteString(" WHERE (" + q.Where + ")")
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + q.OrderBy)
	}
	return b.String()
}

// QueryImageLinks streams matching image links to fn. ctx is checked before
// each row.
func QueryImageLinks(ctx context.Context, db Querier, q ImageLinkQuery, fn func(*model.ImageLink) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeCancelled, "query image links")
	}
	rows, err := db.QueryContext(ctx, q.sql(), q.Args...)
	if err != nil {
		return errors.Store(err, "query image links")
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "query image links")
		}
		l := &model.ImageLink{}
		var class sql.NullString
		if err := rows.Scan(&l.ImageLinkID, &l.OriginalText, &l.Path, &l.FileID,
			&l.ClassID, &l.TargetFileID, &l.TargetScore, &class); err != nil {
			return errors.Store(err, "scan image link")
		}
		if q.LookupClasses {
			l.ClassString = symbols.ClassStringFromExported(class.String)
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return errors.Store(rows.Err(), "query image links")
}

// InsertImageLink writes an image link whose IDs have been assigned.
func InsertImageLink(ctx context.Context, db Querier, l *model.ImageLink) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO ImageLinks (ImageLinkID, OriginalText, Path, FileName, FileID, ClassID, TargetFileID, TargetScore)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ImageLinkID, l.OriginalText, l.Path, l.FileName(), l.FileID, l.ClassID, l.TargetFileID, l.TargetScore,
	)
	return errors.Store(err, "insert image link")
}

// DeleteImageLinkRow removes an image link.
func DeleteImageLinkRow(ctx context.Context, db Querier, imageLinkID int) error {
	_, err := db.ExecContext(ctx, "DELETE FROM ImageLinks WHERE ImageLinkID = ?", imageLinkID)
	return errors.Store(err, "delete image link")
}

// UpdateImageLinkTarget stores a resolution outcome.
func UpdateImageLinkTarget(ctx context.Context, db Querier, imageLinkID, fileID int, score int64) error {
	_, err := db.ExecContext(ctx,
		"UPDATE ImageLinks SET TargetFileID = ?, TargetScore = ? WHERE ImageLinkID = ?",
		fileID, score, imageLinkID,
	)
	return errors.Store(err, "update image link target")
}

// ImageLinkIDsTargetingFile returns the IDs of image links resolved to
// fileID.
func ImageLinkIDsTargetingFile(ctx context.Context, db Querier, fileID int) (*idset.NumberSet, error) {
	rows, err := db.QueryContext(ctx, "SELECT ImageLinkID FROM ImageLinks WHERE TargetFileID = ?", fileID)
	if err != nil {
		return nil, errors.Store(err, "image links targeting file")
	}
	defer rows.Close()
	set := idset.New()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Store(err, "scan image link id")
		}
		set.Add(id)
	}
	return set, errors.Store(rows.Err(), "image links targeting file")
}

// MarkImageLinksTargetDeleted sets every image link in set to the deleted
// sentinel with a zero score.
func MarkImageLinksTargetDeleted(ctx context.Context, db Querier, set *idset.NumberSet) error {
	if set == nil || set.IsEmpty() {
		return nil
	}
	where, args := ColumnInNumberSet("ImageLinkID", set)
	args = append([]any{model.TargetDeleted}, args...)
	_, err := db.ExecContext(ctx,
		"UPDATE ImageLinks SET TargetFileID = ?, TargetScore = 0 WHERE "+where, args...)
	return errors.Store(err, "mark image links target deleted")
}
