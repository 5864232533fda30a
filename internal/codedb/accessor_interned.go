package codedb

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/observability"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/internal/symbols"
)

// interned is a string type stored in the Classes or Contexts table.
type interned interface {
	lookupKeyer
	String() string
}

// internTable bundles the shared state of one interned table.
type internTable[K interned] struct {
	kind  store.InternKind
	cache *IDLookupCache[K]
	used  *idset.NumberSet
	refs  *ReferenceChangeCache
}

func (a *Accessor) classTable() internTable[symbols.ClassString] {
	return internTable[symbols.ClassString]{store.Classes, a.classIDs, a.m.usedClassIDs, a.m.classRefs}
}

func (a *Accessor) contextTable() internTable[symbols.ContextString] {
	return internTable[symbols.ContextString]{store.Contexts, a.contextIDs, a.m.usedContextIDs, a.m.contextRefs}
}

// --- Lookup ---

// GetClassByID returns the class string stored for classID, or the null
// class if classID is 0.
func (a *Accessor) GetClassByID(ctx context.Context, classID int) (symbols.ClassString, error) {
	classes, err := a.GetClassesByID(ctx, idset.New(classID))
	if err != nil {
		return symbols.ClassString{}, err
	}
	return classes[classID], nil
}

// GetClassesByID returns the class strings for every ID in ids that exists.
func (a *Accessor) GetClassesByID(ctx context.Context, ids *idset.NumberSet) (map[int]symbols.ClassString, error) {
	a.RequireAtLeast(LockReadOnly)
	values, err := store.InternedValues(ctx, a.conn, store.Classes, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int]symbols.ClassString, len(values))
	for id, v := range values {
		c := symbols.ClassStringFromExported(v)
		out[id] = c
		a.classIDs.Add(c, id)
	}
	return out, nil
}

// GetContextByID returns the context string stored for contextID, or the
// global context if contextID is 0.
func (a *Accessor) GetContextByID(ctx context.Context, contextID int) (symbols.ContextString, error) {
	a.RequireAtLeast(LockReadOnly)
	if contextID == 0 {
		return "", nil
	}
	values, err := store.InternedValues(ctx, a.conn, store.Contexts, idset.New(contextID))
	if err != nil {
		return "", err
	}
	v, ok := values[contextID]
	if !ok {
		return "", errors.AddContext(errors.Newf(errors.CodeNotFound, "context %d does not exist", contextID),
			errors.CtxOperation, "GetContextByID")
	}
	c := symbols.ContextString(v)
	a.contextIDs.Add(c, contextID)
	return c, nil
}

// --- Creation ---

// cacheOrCreateIDs makes sure every value has an ID in the accessor's lookup
// cache, creating rows with a zero reference count for new ones.
func cacheOrCreateIDs[K interned](ctx context.Context, a *Accessor, t internTable[K], values []K) error {
	a.RequireAtLeast(LockReadPossibleWrite)

	var missing []K
	for _, v := range values {
		if t.cache.Contains(v) {
			continue
		}
		id, err := store.InternedIDByKey(ctx, a.conn, t.kind, v.LookupKey())
		if err != nil {
			return err
		}
		if id != 0 {
			t.cache.Add(v, id)
			continue
		}
		missing = append(missing, v)
	}
	if len(missing) == 0 {
		return nil
	}

	a.RequireAtLeast(LockReadWrite)
	return a.inTransaction(ctx, func() error {
		wctx := writeCtx(ctx)
		for _, v := range missing {
			// Two values in one batch may share a key.
			if t.cache.Contains(v) {
				continue
			}
			id := t.used.LowestAvailable()
			if err := store.InsertInterned(wctx, a.conn, t.kind, id, v.LookupKey(), v.String()); err != nil {
				return err
			}
			t.used.Add(id)
			t.cache.Add(v, id)
			t.refs.SetDatabaseReferenceCount(id, 0)
		}
		return nil
	})
}

// resolveTopicIDs fills in the class and context IDs of a topic from its
// strings, creating rows as needed.
func (a *Accessor) resolveTopicIDs(ctx context.Context, t *model.Topic, class, contexts bool) error {
	if class {
		if err := cacheOrCreateIDs(ctx, a, a.classTable(), []symbols.ClassString{t.ClassString}); err != nil {
			return err
		}
		t.ClassID = a.classIDs.Get(t.ClassString)
	}
	if contexts {
		if err := cacheOrCreateIDs(ctx, a, a.contextTable(), []symbols.ContextString{t.PrototypeContext, t.BodyContext}); err != nil {
			return err
		}
		t.PrototypeContextID = a.contextIDs.Get(t.PrototypeContext)
		t.BodyContextID = a.contextIDs.Get(t.BodyContext)
	}
	return nil
}

func (a *Accessor) resolveLinkIDs(ctx context.Context, l *model.Link) error {
	if err := cacheOrCreateIDs(ctx, a, a.classTable(), []symbols.ClassString{l.ClassString}); err != nil {
		return err
	}
	if err := cacheOrCreateIDs(ctx, a, a.contextTable(), []symbols.ContextString{l.Context}); err != nil {
		return err
	}
	l.ClassID = a.classIDs.Get(l.ClassString)
	l.ContextID = a.contextIDs.Get(l.Context)
	return nil
}

// --- Reference change flushing ---

// FlushClassReferenceChangeCache writes pending class reference count
// changes and deletes classes nothing refers to anymore.
func (a *Accessor) FlushClassReferenceChangeCache(ctx context.Context) error {
	return flushReferenceChangeCache(ctx, a, a.classTable())
}

// FlushContextReferenceChangeCache writes pending context reference count
// changes and deletes contexts nothing refers to anymore.
func (a *Accessor) FlushContextReferenceChangeCache(ctx context.Context) error {
	return flushReferenceChangeCache(ctx, a, a.contextTable())
}

func flushReferenceChangeCache[K interned](ctx context.Context, a *Accessor, t internTable[K]) error {
	a.RequireAtLeast(LockReadPossibleWrite)
	if t.refs.Len() == 0 {
		return nil
	}
	lookup, hasChanges := t.refs.pendingWork()
	if !hasChanges {
		t.refs.Clear()
		return nil
	}

	ctx, span := observability.Tracer.Start(ctx, "codedb.FlushReferenceChangeCache",
		trace.WithAttributes(attribute.String("kind", t.kind.String())))
	start := time.Now()
	defer func() {
		observability.ReferenceFlushSeconds.WithLabelValues(t.kind.String()).Observe(time.Since(start).Seconds())
		span.End()
	}()

	a.RequireAtLeast(LockReadWrite)
	if len(lookup) > 0 {
		counts, err := store.ReferenceCounts(ctx, a.conn, t.kind, idset.New(lookup...))
		if err != nil {
			return err
		}
		for id, count := range counts {
			t.refs.SetDatabaseReferenceCount(id, count)
		}
	}

	toDelete := idset.New()
	err := a.inTransaction(ctx, func() error {
		wctx := writeCtx(ctx)
		var err error
		t.refs.Each(func(e *RefEntry) bool {
			if !e.DatabaseCountKnown() {
				if e.Change != 0 {
					err = errors.Newf(errors.CodeInternal, "%s %d has reference changes but no row", t.kind, e.ID)
					return false
				}
				return true
			}
			total := e.DatabaseCount + e.Change
			switch {
			case total < 0:
				err = errors.Newf(errors.CodeInternal, "%s %d reference count would drop to %d", t.kind, e.ID, total)
				return false
			case total == 0:
				toDelete.Add(e.ID)
			case e.Change != 0:
				if err = store.SetReferenceCount(wctx, a.conn, t.kind, e.ID, total); err != nil {
					return false
				}
				e.DatabaseCount = total
				e.Change = 0
			}
			return true
		})
		if err != nil {
			return err
		}
		if err := store.DeleteInterned(wctx, a.conn, t.kind, toDelete); err != nil {
			return err
		}
		t.used.RemoveSet(toDelete)
		return nil
	})
	if err != nil {
		return err
	}

	if !toDelete.IsEmpty() {
		observability.ReferenceRowsDeletedTotal.WithLabelValues(t.kind.String()).Add(float64(toDelete.Count()))
		t.cache.Clear()
		a.m.logger.Debug("deleted unreferenced rows", "kind", t.kind.String(), "count", toDelete.Count())
	}
	t.refs.Clear()
	return nil
}
