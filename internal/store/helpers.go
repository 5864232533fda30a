package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jward/xrefdb/internal/idset"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// intsToArgs converts []int to []any for use with database/sql.
func intsToArgs(ids []int) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// stringsToArgs converts a string slice to []any.
func stringsToArgs[S ~string](values []S) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return args
}

// ColumnInNumberSet builds a WHERE fragment matching column against every
// number in set. Runs of three or more use a range comparison; the rest go
// into one IN list. An empty set matches nothing.
func ColumnInNumberSet(column string, set *idset.NumberSet) (string, []any) {
	if set == nil || set.IsEmpty() {
		return "0", nil
	}
	var clauses []string
	var args []any
	var singles []any
	for _, r := range set.Ranges() {
		if r.High-r.Low >= 2 {
			clauses = append(clauses, "("+column+" >= ? AND "+column+" <= ?)")
			args = append(args, r.Low, r.High)
			continue
		}
		for n := r.Low; n <= r.High; n++ {
			singles = append(singles, n)
		}
	}
	if len(singles) > 0 {
		clauses = append(clauses, column+" IN ("+placeholderList(len(singles))+")")
		args = append(args, singles...)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// nullIfEmpty stores empty strings as NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
