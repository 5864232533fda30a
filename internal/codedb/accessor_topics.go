package codedb

import (
	"context"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/internal/symbols"
)

// GetTopicFlags trim what topic queries load.
type GetTopicFlags uint8

const (
	// BodyLengthOnly loads the body's length instead of its text.
	BodyLengthOnly GetTopicFlags = 1 << iota
	DontLookupClasses
	DontLookupContexts
	DontIncludeSummary
	DontIncludePrototype
)

func (f GetTopicFlags) query(where, orderBy string, args []any) store.TopicQuery {
	return store.TopicQuery{
		Where:          where,
		OrderBy:        orderBy,
		Args:           args,
		BodyLengthOnly: f&BodyLengthOnly != 0,
		NoSummary:      f&DontIncludeSummary != 0,
		NoPrototype:    f&DontIncludePrototype != 0,
		LookupClasses:  f&DontLookupClasses == 0,
		LookupContexts: f&DontLookupContexts == 0,
	}
}

// --- Queries ---

// GetTopics returns the topics matching where. Columns must be qualified
// with "Topics.".
func (a *Accessor) GetTopics(ctx context.Context, where, orderBy string, args []any, flags GetTopicFlags) ([]*model.Topic, error) {
	a.RequireAtLeast(LockReadOnly)
	q := flags.query(where, orderBy, args)
	var topics []*model.Topic
	err := store.QueryTopics(ctx, a.conn, q, func(t *model.Topic) error {
		if q.LookupClasses {
			a.classIDs.Add(t.ClassString, t.ClassID)
		}
		if q.LookupContexts {
			a.contextIDs.Add(t.PrototypeContext, t.PrototypeContextID)
			a.contextIDs.Add(t.BodyContext, t.BodyContextID)
		}
		topics = append(topics, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// GetTopicsInFile returns a file's topics in file order.
func (a *Accessor) GetTopicsInFile(ctx context.Context, fileID int, flags GetTopicFlags) ([]*model.Topic, error) {
	return a.GetTopics(ctx, "Topics.FileID = ?", "Topics.FilePosition", []any{fileID}, flags)
}

// GetTopicsInClass returns every topic with the class ID.
func (a *Accessor) GetTopicsInClass(ctx context.Context, classID int, flags GetTopicFlags) ([]*model.Topic, error) {
	return a.GetTopics(ctx, "Topics.ClassID = ?", "", []any{classID}, flags)
}

// GetTopicsByID returns the topics whose IDs are in ids.
func (a *Accessor) GetTopicsByID(ctx context.Context, ids *idset.NumberSet, flags GetTopicFlags) ([]*model.Topic, error) {
	if ids == nil || ids.IsEmpty() {
		a.RequireAtLeast(LockReadOnly)
		return nil, nil
	}
	where, args := store.TopicIDsWhere(ids)
	return a.GetTopics(ctx, where, "", args, flags)
}

// GetTopicsByEndingSymbol returns every topic whose ending symbol is one of
// endings.
func (a *Accessor) GetTopicsByEndingSymbol(ctx context.Context, endings []symbols.EndingSymbol, flags GetTopicFlags) ([]*model.Topic, error) {
	if len(endings) == 0 {
		a.RequireAtLeast(LockReadOnly)
		return nil, nil
	}
	where, args := store.EndingSymbolsWhere("Topics.EndingSymbol", endings)
	return a.GetTopics(ctx, where, "", args, flags)
}

// GetBestClassDefinitionTopics returns the best class-defining topic for
// each ID in classIDs that has one.
func (a *Accessor) GetBestClassDefinitionTopics(ctx context.Context, classIDs *idset.NumberSet, flags GetTopicFlags) (map[int]*model.Topic, error) {
	best := make(map[int]*model.Topic)
	if classIDs == nil || classIDs.IsEmpty() {
		a.RequireAtLeast(LockReadOnly)
		return best, nil
	}
	where, args := store.ColumnInNumberSet("Topics.ClassID", classIDs)
	topics, err := a.GetTopics(ctx, "Topics.DefinesClass = 1 AND "+where, "Topics.ClassID", args, flags)
	if err != nil {
		return nil, err
	}
	for _, t := range topics {
		current, ok := best[t.ClassID]
		if !ok || a.m.betterClass(current, t) {
			best[t.ClassID] = t
		}
	}
	return best, nil
}

// --- Changes ---

func checkTopicCommon(op string, t *model.Topic) {
	requireContent(op, "Title", t.Title)
	requireContent(op, "Symbol", t.Symbol)
	requireNonZero(op, "SymbolDefinitionNumber", t.SymbolDefinitionNumber)
	if t.IsList && t.IsEmbedded {
		fieldError(op, "IsList", "%s: %s and IsEmbedded can't both be set")
	}
	requireNonZero(op, "TopicTypeID", t.TopicTypeID)
	requireNotValue(op, "EffectiveAccessLevel", t.EffectiveAccessLevel, model.AccessUnknown)
	requireNonZero(op, "FileID", t.FileID)
	requireNonZero(op, "FilePosition", t.FilePosition)
	requireNonZero(op, "LanguageID", t.LanguageID)
}

// AddTopic stores a new topic and assigns its TopicID, ClassID and context
// IDs.
func (a *Accessor) AddTopic(ctx context.Context, t *model.Topic) error {
	const op = "AddTopic"
	requireZero(op, "TopicID", t.TopicID)
	requireZero(op, "ClassID", t.ClassID)
	requireZero(op, "PrototypeContextID", t.PrototypeContextID)
	requireZero(op, "BodyContextID", t.BodyContextID)
	checkTopicCommon(op, t)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		if err := a.resolveTopicIDs(ctx, t, true, true); err != nil {
			return err
		}
		t.TopicID = a.m.usedTopicIDs.LowestAvailable()
		if err := store.InsertTopic(ctx, a.conn, t); err != nil {
			return err
		}
		a.m.usedTopicIDs.Add(t.TopicID)
		a.m.classRefs.AddReference(t.ClassID)
		a.m.contextRefs.AddReference(t.PrototypeContextID)
		a.m.contextRefs.AddReference(t.BodyContextID)
		return nil
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnAddTopic(t, ev) })
	return nil
}

// UpdateTopic applies the fields that differ between two similar topics.
// oldTopic must be the stored version and changeFlags the result of
// comparing them. newTopic receives oldTopic's IDs, except for class and
// context IDs whose strings changed.
func (a *Accessor) UpdateTopic(ctx context.Context, oldTopic, newTopic *model.Topic, changeFlags model.ChangeFlags) error {
	const op = "UpdateTopic"
	requireNonZero(op, "old TopicID", oldTopic.TopicID)
	requireZero(op, "new TopicID", newTopic.TopicID)
	if oldTopic.IgnoredFields&(model.IgnoreClassString|model.IgnorePrototypeContext|model.IgnoreBodyContext) != 0 {
		fieldError(op, "old topic", "%s: %s must be loaded with classes and contexts")
	}

	classChanged := changeFlags&model.ChangeClass != 0
	contextsChanged := changeFlags&(model.ChangePrototypeContext|model.ChangeBodyContext) != 0

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	err := a.inTransaction(ctx, func() error {
		newTopic.TopicID = oldTopic.TopicID
		if !classChanged {
			newTopic.ClassID = oldTopic.ClassID
		}
		if !contextsChanged {
			newTopic.PrototypeContextID = oldTopic.PrototypeContextID
			newTopic.BodyContextID = oldTopic.BodyContextID
		}
		if err := a.resolveTopicIDs(ctx, newTopic, classChanged, contextsChanged); err != nil {
			return err
		}

		positionOnly := model.ChangeFilePosition | model.ChangeCommentLineNumber | model.ChangeCodeLineNumber
		if changeFlags&^positionOnly == 0 {
			if err := store.UpdateTopicPosition(ctx, a.conn, newTopic); err != nil {
				return err
			}
		} else if err := store.UpdateTopicSimilarFields(ctx, a.conn, newTopic); err != nil {
			return err
		}

		if newTopic.ClassID != oldTopic.ClassID {
			a.m.classRefs.RemoveReference(oldTopic.ClassID)
			a.m.classRefs.AddReference(newTopic.ClassID)
		}
		if newTopic.PrototypeContextID != oldTopic.PrototypeContextID {
			a.m.contextRefs.RemoveReference(oldTopic.PrototypeContextID)
			a.m.contextRefs.AddReference(newTopic.PrototypeContextID)
		}
		if newTopic.BodyContextID != oldTopic.BodyContextID {
			a.m.contextRefs.RemoveReference(oldTopic.BodyContextID)
			a.m.contextRefs.AddReference(newTopic.BodyContextID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnUpdateTopic(oldTopic, newTopic, changeFlags, ev) })
	return nil
}

// DeleteTopic removes a stored topic. Links that targeted it are marked
// with the deleted sentinel so the resolver picks them up again.
func (a *Accessor) DeleteTopic(ctx context.Context, t *model.Topic) error {
	const op = "DeleteTopic"
	requireNonZero(op, "TopicID", t.TopicID)
	checkTopicCommon(op, t)
	if t.IgnoredFields&model.IgnoreClassString == 0 && !t.ClassString.IsNull() {
		requireNonZero(op, "ClassID", t.ClassID)
	}
	if t.IgnoredFields&model.IgnorePrototypeContext == 0 && !t.PrototypeContext.IsNull() {
		requireNonZero(op, "PrototypeContextID", t.PrototypeContextID)
	}
	if t.IgnoredFields&model.IgnoreBodyContext == 0 && !t.BodyContext.IsNull() {
		requireNonZero(op, "BodyContextID", t.BodyContextID)
	}

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)

	linksAffected, err := store.LinkIDsTargetingTopic(ctx, a.conn, t.TopicID)
	if err != nil {
		return err
	}
	a.m.notify(a, func(w ChangeWatcher, ev *EventAccessor) { w.OnDeleteTopic(t, linksAffected, ev) })

	return a.inTransaction(ctx, func() error {
		if err := store.MarkLinksTargetDeleted(ctx, a.conn, linksAffected); err != nil {
			return err
		}
		if err := store.DeleteTopicRow(ctx, a.conn, t.TopicID); err != nil {
			return err
		}
		a.m.usedTopicIDs.Remove(t.TopicID)
		a.m.classRefs.RemoveReference(t.ClassID)
		a.m.contextRefs.RemoveReference(t.PrototypeContextID)
		a.m.contextRefs.RemoveReference(t.BodyContextID)
		return nil
	})
}

// numberTopicsInFile assigns file positions and symbol definition numbers
// in the order the topics appear.
func numberTopicsInFile(topics []*model.Topic) {
	for i, t := range topics {
		t.FilePosition = i + 1
		t.SymbolDefinitionNumber = 1
		for j := i - 1; j >= 0; j-- {
			if topics[j].Symbol == t.Symbol {
				t.SymbolDefinitionNumber = topics[j].SymbolDefinitionNumber + 1
				break
			}
		}
	}
}

// UpdateTopicsInFile replaces a file's topics with newTopics, touching only
// the rows that changed. It assigns FilePosition and SymbolDefinitionNumber
// to every new topic first. When nothing changed no transaction is opened
// and the read-possible-write lock is never upgraded.
//
// Cancellation is checked between topics. Work already done is committed
// and a CodeCancelled error is returned.
func (a *Accessor) UpdateTopicsInFile(ctx context.Context, fileID int, newTopics []*model.Topic) (err error) {
	for _, t := range newTopics {
		if t.FileID != fileID {
			fieldError("UpdateTopicsInFile", "FileID", "%s: every topic's %s must match the file")
		}
	}
	numberTopicsInFile(newTopics)

	a.RequireAtLeast(LockReadPossibleWrite)
	oldTopics, err := a.GetTopicsInFile(ctx, fileID, 0)
	if err != nil {
		return err
	}

	tx := lazyTransaction{a: a}
	defer func() { err = tx.finish(ctx, err) }()

	for _, newTopic := range newTopics {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update topics in file")
		}

		matched := false
		for i, oldTopic := range oldTopics {
			cmp, flags := newTopic.Compare(oldTopic)
			if cmp == model.CompareDifferent {
				continue
			}
			if cmp == model.CompareSame {
				newTopic.TopicID = oldTopic.TopicID
				newTopic.ClassID = oldTopic.ClassID
				newTopic.PrototypeContextID = oldTopic.PrototypeContextID
				newTopic.BodyContextID = oldTopic.BodyContextID
			} else {
				if err := tx.begin(ctx); err != nil {
					return err
				}
				if err := a.UpdateTopic(ctx, oldTopic, newTopic, flags); err != nil {
					return err
				}
			}
			oldTopics = append(oldTopics[:i], oldTopics[i+1:]...)
			matched = true
			break
		}
		if matched {
			continue
		}

		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.AddTopic(ctx, newTopic); err != nil {
			return err
		}
	}

	for _, oldTopic := range oldTopics {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "update topics in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteTopic(ctx, oldTopic); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTopicsInFile removes every topic in a file.
func (a *Accessor) DeleteTopicsInFile(ctx context.Context, fileID int) (err error) {
	a.RequireAtLeast(LockReadPossibleWrite)
	topics, err := a.GetTopicsInFile(ctx, fileID, BodyLengthOnly|DontIncludeSummary|DontIncludePrototype)
	if err != nil {
		return err
	}

	tx := lazyTransaction{a: a}
	defer func() { err = tx.finish(ctx, err) }()

	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "delete topics in file")
		}
		if err := tx.begin(ctx); err != nil {
			return err
		}
		if err := a.DeleteTopic(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// lazyTransaction upgrades the lock and opens a transaction on first use so
// that a batch with no changes never blocks readers.
type lazyTransaction struct {
	a       *Accessor
	started bool
}

func (tx *lazyTransaction) begin(ctx context.Context) error {
	if tx.started {
		return nil
	}
	tx.a.RequireAtLeast(LockReadWrite)
	if err := tx.a.BeginTransaction(ctx); err != nil {
		return err
	}
	tx.started = true
	return nil
}

// finish commits when the batch succeeded or was cancelled, and rolls back
// on any other error.
func (tx *lazyTransaction) finish(ctx context.Context, err error) error {
	if !tx.started {
		return err
	}
	if err != nil && !errors.IsCode(err, errors.CodeCancelled) {
		tx.a.RollbackTransactionForError()
		return err
	}
	if cerr := tx.a.CommitTransaction(ctx); cerr != nil {
		tx.a.RollbackTransactionForError()
		return cerr
	}
	return err
}
