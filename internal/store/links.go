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

// --- Link rows ---

// LinkQuery selects links. Where should qualify columns with "Links."
// since the class and context lookups join other tables.
type LinkQuery struct {
	Where          string
	OrderBy        string
	Args           []any
	LookupClasses  bool
	LookupContexts bool
}

func (q LinkQuery) sql() string {
	var b strings.Builder
	b.WriteString("SELECT Links.LinkID, Links.Type, Links.TextOrSymbol, Links.ContextID, Links.FileID, " +
		"Links.LanguageID, Links.EndingSymbol, Links.ClassID, Links.TargetTopicID, Links.TargetScore, Links.TargetClassID")
	if q.LookupClasses {
		b.WriteString(", IFNULL(Classes.ClassString, Classes.LookupKey)")
	} else {
		b.WriteString(", NULL")
	}
	if q.LookupContexts {
		b.WriteString(", Contexts.ContextString")
	} else {
		b.WriteString(", NULL")
	}
	b.WriteString(" FROM Links")
	if q.LookupClasses {
		b.WriteString(" LEFT OUTER JOIN Classes ON Classes.ClassID = Links.ClassID")
	}
	if q.LookupContexts {
		b.WriteString(" LEFT OUTER JOIN Contexts ON Contexts.ContextID = Links.ContextID")
	}
	if q.Where != "" {
		b.WriteString(" WHERE (" + q.Where + ")")
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + q.OrderBy)
	}
	return b.String()
}

// QueryLinks streams matching links to fn. ctx is checked before each row.
func QueryLinks(ctx context.Context, db Querier, q LinkQuery, fn func(*model.Link) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeCancelled, "query links")
	}
	rows, err := db.QueryContext(ctx, q.sql(), q.Args...)
	if err != nil {
		return errors.Store(err, "query links")
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "query links")
		}
		l := &model.Link{}
		var linkType int
		var ending string
		var class, linkContext sql.NullString
		if err := rows.Scan(&l.LinkID, &linkType, &l.TextOrSymbol, &l.ContextID, &l.FileID, &l.LanguageID,
			&ending, &l.ClassID, &l.TargetTopicID, &l.TargetScore, &l.TargetClassID, &class, &linkContext); err != nil {
			return errors.Store(err, "scan link")
		}
		l.Type = model.LinkType(linkType)
		l.EndingSymbol = symbols.EndingSymbol(ending)
		if q.LookupClasses {
			l.ClassString = symbols.ClassStringFromExported(class.String)
		}
		if q.LookupContexts {
			l.Context = symbols.ContextString(linkContext.String)
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return errors.Store(rows.Err(), "query links")
}

// LinksByEndingSymbolsWhere matches links whose primary or alternate ending
// symbol is in endings.
func LinksByEndingSymbolsWhere(endings []symbols.EndingSymbol) (string, []any) {
	if len(endings) == 0 {
		return "0", nil
	}
	list := placeholderList(len(endings))
	args := stringsToArgs(endings)
	where := "Links.EndingSymbol IN (" + list + ") OR Links.LinkID IN " +
		"(SELECT LinkID FROM AlternateLinkEndingSymbols WHERE EndingSymbol IN (" + list + "))"
	return where, append(args, args...)
}

// InsertLink writes a link whose IDs have all been assigned.
func InsertLink(ctx context.Context, db Querier, l *model.Link) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO Links (LinkID, Type, TextOrSymbol, ContextID, FileID, LanguageID, EndingSymbol,
			ClassID, TargetTopicID, TargetScore, TargetClassID)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LinkID, int(l.Type), l.TextOrSymbol, l.ContextID, l.FileID, l.LanguageID, string(l.EndingSymbol),
		l.ClassID, l.TargetTopicID, l.TargetScore, l.TargetClassID,
	)
	return errors.Store(err, "insert link")
}

// InsertAlternateEndingSymbols records the non-primary ending symbols of a
// NaturalDocs link.
func InsertAlternateEndingSymbols(ctx context.Context, db Querier, linkID int, endings []symbols.EndingSymbol) error {
	for _, e := range endings {
		if _, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO AlternateLinkEndingSymbols (LinkID, EndingSymbol) VALUES (?, ?)",
			linkID, string(e),
		); err != nil {
			return errors.Store(err, "insert alternate ending symbol")
		}
	}
	return nil
}

// AlternateEndingSymbols returns the alternate ending symbols of a link.
func AlternateEndingSymbols(ctx context.Context, db Querier, linkID int) ([]symbols.EndingSymbol, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT EndingSymbol FROM AlternateLinkEndingSymbols WHERE LinkID = ? ORDER BY EndingSymbol", linkID)
	if err != nil {
		return nil, errors.Store(err, "alternate ending symbols")
	}
	defer rows.Close()
	var out []symbols.EndingSymbol
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, errors.Store(err, "scan alternate ending symbol")
		}
		out = append(out, symbols.EndingSymbol(e))
	}
	return out, errors.Store(rows.Err(), "alternate ending symbols")
}

// DeleteLinkRow removes a link and its alternate ending symbols.
func DeleteLinkRow(ctx context.Context, db Querier, linkID int) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM AlternateLinkEndingSymbols WHERE LinkID = ?", linkID); err != nil {
		return errors.Store(err, "delete alternate ending symbols")
	}
	_, err := db.ExecContext(ctx, "DELETE FROM Links WHERE LinkID = ?", linkID)
	return errors.Store(err, "delete link")
}

// UpdateLinkTarget stores a resolution outcome.
func UpdateLinkTarget(ctx context.Context, db Querier, linkID, topicID, classID int, score int64) error {
	_, err := db.ExecContext(ctx,
		"UPDATE Links SET TargetTopicID = ?, TargetClassID = ?, TargetScore = ? WHERE LinkID = ?",
		topicID, classID, score, linkID,
	)
	return errors.Store(err, "update link target")
}

// LinkIDsTargetingTopic returns the IDs of links resolved to topicID.
func LinkIDsTargetingTopic(ctx context.Context, db Querier, topicID int) (*idset.NumberSet, error) {
	rows, err := db.QueryContext(ctx, "SELECT LinkID FROM Links WHERE TargetTopicID = ?", topicID)
	if err != nil {
		return nil, errors.Store(err, "links targeting topic")
	}
	defer rows.Close()
	set := idset.New()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Store(err, "scan link id")
		}
		set.Add(id)
	}
	return set, errors.Store(rows.Err(), "links targeting topic")
}

// MarkLinksTargetDeleted sets every link in set to the deleted sentinel
// with a zero score.
func MarkLinksTargetDeleted(ctx context.Context, db Querier, set *idset.NumberSet) error {
	if set == nil || set.IsEmpty() {
		return nil
	}
	where, args := ColumnInNumberSet("LinkID", set)
	args = append([]any{model.TargetDeleted}, args...)
	_, err := db.ExecContext(ctx,
		"UPDATE Links SET TargetTopicID = ?, TargetClassID = 0, TargetScore = 0 WHERE "+where, args...)
	return errors.Store(err, "mark links target deleted")
}
