package codedb

import (
	"github.com/google/btree"
)

// RefEntry is the pending reference change of one interned ID.
type RefEntry struct {
	ID     int
	Change int
	// DatabaseCount is the count stored in the database, or -1 if unknown.
	DatabaseCount int
}

// DatabaseCountKnown reports whether the stored count has been loaded.
func (e *RefEntry) DatabaseCountKnown() bool {
	return e.DatabaseCount != -1
}

// ReferenceChangeCache accumulates reference count changes for interned IDs
// so they can be written in one batch. It is shared by every accessor and
// is only touched while the DatabaseLock is held. ID 0 means "none" and is
// ignored by every operation.
type ReferenceChangeCache struct {
	entries *btree.BTreeG[*RefEntry]
}

func refEntryLess(a, b *RefEntry) bool { return a.ID < b.ID }

// NewReferenceChangeCache returns an empty cache.
func NewReferenceChangeCache() *ReferenceChangeCache {
	return &ReferenceChangeCache{entries: btree.NewG(16, refEntryLess)}
}

func (c *ReferenceChangeCache) entry(id int) *RefEntry {
	if e, ok := c.entries.Get(&RefEntry{ID: id}); ok {
		return e
	}
	e := &RefEntry{ID: id, DatabaseCount: -1}
	c.entries.ReplaceOrInsert(e)
	return e
}

// AddReference records one new reference to id.
func (c *ReferenceChangeCache) AddReference(id int) {
	if id == 0 {
		return
	}
	c.entry(id).Change++
}

// RemoveReference records one removed reference to id.
func (c *ReferenceChangeCache) RemoveReference(id int) {
	if id == 0 {
		return
	}
	c.entry(id).Change--
}

// SetDatabaseReferenceCount records the count currently stored for id.
func (c *ReferenceChangeCache) SetDatabaseReferenceCount(id, count int) {
	if id == 0 {
		return
	}
	c.entry(id).DatabaseCount = count
}

// Get returns a copy of id's entry.
func (c *ReferenceChangeCache) Get(id int) (RefEntry, bool) {
	e, ok := c.entries.Get(&RefEntry{ID: id})
	if !ok {
		return RefEntry{}, false
	}
	return *e, true
}

// Len returns the number of entries.
func (c *ReferenceChangeCache) Len() int {
	return c.entries.Len()
}

// Each calls fn for every entry in ascending ID order until fn returns
// false. fn may modify the entry's fields but not add or remove entries.
func (c *ReferenceChangeCache) Each(fn func(e *RefEntry) bool) {
	c.entries.Ascend(func(e *RefEntry) bool { return fn(e) })
}

// Clear removes every entry.
func (c *ReferenceChangeCache) Clear() {
	c.entries.Clear(false)
}

// pendingWork returns the IDs whose stored count must be loaded before a
// flush, and whether a flush would change the database at all.
func (c *ReferenceChangeCache) pendingWork() (lookup []int, hasChanges bool) {
	c.Each(func(e *RefEntry) bool {
		if !e.DatabaseCountKnown() && e.Change != 0 {
			lookup = append(lookup, e.ID)
		}
		if e.Change != 0 || (e.DatabaseCountKnown() && e.DatabaseCount == 0) {
			hasChanges = true
		}
		return true
	})
	return lookup, hasChanges
}
