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

// --- Topic rows ---

// TopicQuery selects topics and decides which text columns are loaded.
// Where and OrderBy should qualify columns with "Topics." since the class
// and context lookups join other tables.
type TopicQuery struct {
	Where   string
	OrderBy string
	Args    []any
	// BodyLengthOnly loads LENGTH(Body) into BodyLength instead of Body.
	BodyLengthOnly bool
	NoSummary      bool
	NoPrototype    bool
	LookupClasses  bool
	LookupContexts bool
}

func (q TopicQuery) sql() string {
	var b strings.Builder
	b.WriteString("SELECT Topics.TopicID, Topics.Title, ")
	switch {
	case q.BodyLengthOnly:
		b.WriteString("LENGTH(Topics.Body), ")
	default:
		b.WriteString("Topics.Body, ")
	}
	if q.NoSummary {
		b.WriteString("NULL, ")
	} else {
		b.WriteString("Topics.Summary, ")
	}
	if q.NoPrototype {
		b.WriteString("NULL, ")
	} else {
		b.WriteString("Topics.Prototype, ")
	}
	b.WriteString("Topics.Symbol, Topics.SymbolDefinitionNumber, Topics.ClassID, Topics.IsEmbedded, " +
		"Topics.TopicTypeID, Topics.DeclaredAccessLevel, Topics.EffectiveAccessLevel, Topics.Tags, Topics.FileID, " +
		"Topics.CommentLineNumber, Topics.CodeLineNumber, Topics.LanguageID, Topics.PrototypeContextID, " +
		"Topics.BodyContextID, Topics.FilePosition, Topics.IsList, Topics.DefinesClass")
	if q.LookupClasses {
		b.WriteString(", IFNULL(Classes.ClassString, Classes.LookupKey)")
	} else {
		b.WriteString(", NULL")
	}
	if q.LookupContexts {
		b.WriteString(", PContexts.ContextString, BContexts.ContextString")
	} else {
		b.WriteString(", NULL, NULL")
	}
	b.WriteString(" FROM Topics")
	if q.LookupClasses {
		b.WriteString(" LEFT OUTER JOIN Classes ON Classes.ClassID = Topics.ClassID")
	}
	if q.LookupContexts {
		b.WriteString(" LEFT OUTER JOIN Contexts AS PContexts ON PContexts.ContextID = Topics.PrototypeContextID" +
			" LEFT OUTER JOIN Contexts AS BContexts ON BContexts.ContextID = Topics.BodyContextID")
	}
	if q.Where != "" {
		b.WriteString(" WHERE (" + q.Where + ")")
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + q.OrderBy)
	}
	return b.String()
}

// QueryTopics streams matching topics to fn. ctx is checked before each
// row.
func QueryTopics(ctx context.Context, db Querier, q TopicQuery, fn func(*model.Topic) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeCancelled, "query topics")
	}
	rows, err := db.QueryContext(ctx, q.sql(), q.Args...)
	if err != nil {
		return errors.Store(err, "query topics")
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "query topics")
		}
		t, err := scanTopic(rows, q)
		if err != nil {
			return errors.Store(err, "scan topic")
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return errors.Store(rows.Err(), "query topics")
}

func scanTopic(rows *sql.Rows, q TopicQuery) (*model.Topic, error) {
	t := &model.Topic{}
	var (
		body, summary, prototype, tags sql.NullString
		class, pContext, bContext      sql.NullString
		bodyLength                     sql.NullInt64
		symbol                         string
		isEmbedded, isList, defines    int
		declared, effective            int
	)
	bodyDest := any(&body)
	if q.BodyLengthOnly {
		bodyDest = &bodyLength
	}
	err := rows.Scan(
		&t.TopicID, &t.Title, bodyDest, &summary, &prototype, &symbol, &t.SymbolDefinitionNumber,
		&t.ClassID, &isEmbedded, &t.TopicTypeID, &declared, &effective, &tags, &t.FileID,
		&t.CommentLineNumber, &t.CodeLineNumber, &t.LanguageID, &t.PrototypeContextID, &t.BodyContextID,
		&t.FilePosition, &isList, &defines, &class, &pContext, &bContext,
	)
	if err != nil {
		return nil, err
	}

	t.Symbol = symbols.SymbolString(symbol)
	t.IsEmbedded = isEmbedded != 0
	t.IsList = isList != 0
	t.DefinesClass = defines != 0
	t.DeclaredAccessLevel = model.AccessLevel(declared)
	t.EffectiveAccessLevel = model.AccessLevel(effective)
	t.Summary = summary.String
	t.Prototype = prototype.String

	if q.BodyLengthOnly {
		t.BodyLength = int(bodyLength.Int64)
		t.IgnoredFields |= model.IgnoreBody
	} else {
		t.Body = body.String
		t.BodyLength = len(t.Body)
	}
	if q.NoSummary {
		t.IgnoredFields |= model.IgnoreSummary
	}
	if q.NoPrototype {
		t.IgnoredFields |= model.IgnorePrototype
	}
	if q.LookupClasses {
		t.ClassString = symbols.ClassStringFromExported(class.String)
	} else {
		t.IgnoredFields |= model.IgnoreClassString
	}
	if q.LookupContexts {
		t.PrototypeContext = symbols.ContextString(pContext.String)
		t.BodyContext = symbols.ContextString(bContext.String)
	} else {
		t.IgnoredFields |= model.IgnorePrototypeContext | model.IgnoreBodyContext
	}
	if tags.Valid && tags.String != "" {
		set, err := idset.Parse(tags.String)
		if err != nil {
			return nil, err
		}
		t.Tags = set
	}
	return t, nil
}

// InsertTopic writes a topic whose IDs have all been assigned.
func InsertTopic(ctx context.Context, db Querier, t *model.Topic) error {
	var tags any
	if t.Tags != nil && !t.Tags.IsEmpty() {
		tags = t.Tags.String()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO Topics (TopicID, Title, Body, Summary, Prototype, Symbol, EndingSymbol,
			SymbolDefinitionNumber, ClassID, IsEmbedded, TopicTypeID, DeclaredAccessLevel,
			EffectiveAccessLevel, Tags, FileID, CommentLineNumber, CodeLineNumber, LanguageID,
			PrototypeContextID, BodyContextID, FilePosition, IsList, DefinesClass)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TopicID, t.Title, nullIfEmpty(t.Body), nullIfEmpty(t.Summary), nullIfEmpty(t.Prototype),
		string(t.Symbol), string(t.EndingSymbol()), t.SymbolDefinitionNumber, t.ClassID,
		boolToInt(t.IsEmbedded), t.TopicTypeID, int(t.DeclaredAccessLevel), int(t.EffectiveAccessLevel),
		tags, t.FileID, t.CommentLineNumber, t.CodeLineNumber, t.LanguageID,
		t.PrototypeContextID, t.BodyContextID, t.FilePosition, boolToInt(t.IsList), boolToInt(t.DefinesClass),
	)
	return errors.Store(err, "insert topic")
}

// UpdateTopicPosition rewrites only the line numbers and file position.
func UpdateTopicPosition(ctx context.Context, db Querier, t *model.Topic) error {
	_, err := db.ExecContext(ctx,
		"UPDATE Topics SET CommentLineNumber = ?, CodeLineNumber = ?, FilePosition = ? WHERE TopicID = ?",
		t.CommentLineNumber, t.CodeLineNumber, t.FilePosition, t.TopicID,
	)
	return errors.Store(err, "update topic position")
}

// UpdateTopicSimilarFields rewrites every column that may differ between
// two topics that compare as similar.
func UpdateTopicSimilarFields(ctx context.Context, db Querier, t *model.Topic) error {
	_, err := db.ExecContext(ctx,
		`UPDATE Topics SET Summary = ?, ClassID = ?, IsEmbedded = ?, CommentLineNumber = ?,
			CodeLineNumber = ?, FilePosition = ?, PrototypeContextID = ?, BodyContextID = ?
		 WHERE TopicID = ?`,
		nullIfEmpty(t.Summary), t.ClassID, boolToInt(t.IsEmbedded), t.CommentLineNumber,
		t.CodeLineNumber, t.FilePosition, t.PrototypeContextID, t.BodyContextID, t.TopicID,
	)
	return errors.Store(err, "update topic")
}

// DeleteTopicRow removes a topic row.
func DeleteTopicRow(ctx context.Context, db Querier, topicID int) error {
	_, err := db.ExecContext(ctx, "DELETE FROM Topics WHERE TopicID = ?", topicID)
	return errors.Store(err, "delete topic")
}

// EndingSymbolsWhere returns a WHERE fragment matching any of endings.
func EndingSymbolsWhere(column string, endings []symbols.EndingSymbol) (string, []any) {
	if len(endings) == 0 {
		return "0", nil
	}
	return column + " IN (" + placeholderList(len(endings)) + ")", stringsToArgs(endings)
}

// TopicIDsWhere returns a WHERE fragment matching topic IDs in set.
func TopicIDsWhere(set *idset.NumberSet) (string, []any) {
	return ColumnInNumberSet("Topics.TopicID", set)
}
