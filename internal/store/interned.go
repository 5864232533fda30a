package store

import (
	"context"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
)

// --- Interned class and context rows ---

// InternKind selects the Classes or Contexts table.
type InternKind uint8

const (
	Classes InternKind = iota + 1
	Contexts
)

func (k InternKind) String() string {
	if k == Classes {
		return "class"
	}
	return "context"
}

func (k InternKind) table() string {
	if k == Classes {
		return "Classes"
	}
	return "Contexts"
}

func (k InternKind) idColumn() string {
	if k == Classes {
		return "ClassID"
	}
	return "ContextID"
}

// keyColumn is the column lookups match against.
func (k InternKind) keyColumn() string {
	if k == Classes {
		return "LookupKey"
	}
	return "ContextString"
}

// valueColumn yields the serialized string. Classes whose string equals
// their lookup key store NULL in ClassString.
func (k InternKind) valueColumn() string {
	if k == Classes {
		return "IFNULL(ClassString, LookupKey)"
	}
	return "ContextString"
}

// InternedIDByKey returns the ID stored for key, or 0 if there is none.
func InternedIDByKey(ctx context.Context, db Querier, kind InternKind, key string) (int, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+kind.idColumn()+" FROM "+kind.table()+" WHERE "+kind.keyColumn()+" = ? LIMIT 1", key)
	if err != nil {
		return 0, errors.Store(err, "lookup "+kind.String())
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, errors.Store(rows.Err(), "lookup "+kind.String())
	}
	var id int
	if err := rows.Scan(&id); err != nil {
		return 0, errors.Store(err, "scan "+kind.String())
	}
	return id, nil
}

// InsertInterned adds a row with a zero reference count. Contexts use
// value as their key.
func InsertInterned(ctx context.Context, db Querier, kind InternKind, id int, key, value string) error {
	var err error
	if kind == Classes {
		var stored any = value
		if value == key {
			stored = nil
		}
		_, err = db.ExecContext(ctx,
			"INSERT INTO Classes (ClassID, ClassString, LookupKey, ReferenceCount) VALUES (?, ?, ?, 0)",
			id, stored, key)
	} else {
		_, err = db.ExecContext(ctx,
			"INSERT INTO Contexts (ContextID, ContextString, ReferenceCount) VALUES (?, ?, 0)",
			id, value)
	}
	return errors.Store(err, "insert "+kind.String())
}

// InternedValues returns the stored string for every ID in ids that exists.
func InternedValues(ctx context.Context, db Querier, kind InternKind, ids *idset.NumberSet) (map[int]string, error) {
	out := make(map[int]string)
	if ids == nil || ids.IsEmpty() {
		return out, nil
	}
	where, args := ColumnInNumberSet(kind.idColumn(), ids)
	rows, err := db.QueryContext(ctx,
		"SELECT "+kind.idColumn()+", "+kind.valueColumn()+" FROM "+kind.table()+" WHERE "+where, args...)
	if err != nil {
		return nil, errors.Store(err, "load "+kind.String()+" strings")
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, errors.Store(err, "scan "+kind.String())
		}
		out[id] = value
	}
	return out, errors.Store(rows.Err(), "load "+kind.String()+" strings")
}

// ReferenceCounts returns the stored reference count of every ID in ids
// that exists.
func ReferenceCounts(ctx context.Context, db Querier, kind InternKind, ids *idset.NumberSet) (map[int]int, error) {
	out := make(map[int]int)
	if ids == nil || ids.IsEmpty() {
		return out, nil
	}
	where, args := ColumnInNumberSet(kind.idColumn(), ids)
	rows, err := db.QueryContext(ctx,
		"SELECT "+kind.idColumn()+", ReferenceCount FROM "+kind.table()+" WHERE "+where, args...)
	if err != nil {
		return nil, errors.Store(err, "load "+kind.String()+" reference counts")
	}
	defer rows.Close()
	for rows.Next() {
		var id, count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, errors.Store(err, "scan "+kind.String()+" reference count")
		}
		out[id] = count
	}
	return out, errors.Store(rows.Err(), "load "+kind.String()+" reference counts")
}

// SetReferenceCount overwrites the stored count of one row.
func SetReferenceCount(ctx context.Context, db Querier, kind InternKind, id, count int) error {
	_, err := db.ExecContext(ctx,
		"UPDATE "+kind.table()+" SET ReferenceCount = ? WHERE "+kind.idColumn()+" = ?", count, id)
	return errors.Store(err, "set "+kind.String()+" reference count")
}

// DeleteInterned removes the rows for every ID in ids.
func DeleteInterned(ctx context.Context, db Querier, kind InternKind, ids *idset.NumberSet) error {
	if ids == nil || ids.IsEmpty() {
		return nil
	}
	where, args := ColumnInNumberSet(kind.idColumn(), ids)
	_, err := db.ExecContext(ctx, "DELETE FROM "+kind.table()+" WHERE "+where, args...)
	return errors.Store(err, "delete "+kind.String()+" rows")
}
