package codedb

import (
	"context"
	"time"

	"github.com/jward/xrefdb/internal/store"
)

// --- File registry ---

// MarkFileIngested records a file's content hash. Called after the file's
// topics and links are reconciled, it commits under the same lock so no
// reader sees the new hash with the old contents.
func (a *Accessor) MarkFileIngested(ctx context.Context, fileID int, hash string, at time.Time) error {
	requireNonZero("MarkFileIngested", "FileID", fileID)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	return a.inTransaction(ctx, func() error {
		return store.MarkFileIngested(ctx, a.conn, fileID, hash, at)
	})
}

// DeleteFile removes a file from the registry. Its topics, links and image
// links must already be gone.
func (a *Accessor) DeleteFile(ctx context.Context, fileID int) error {
	requireNonZero("DeleteFile", "FileID", fileID)

	a.RequireAtLeast(LockReadWrite)
	ctx = writeCtx(ctx)
	return a.inTransaction(ctx, func() error {
		return store.DeleteFileRow(ctx, a.conn, fileID)
	})
}
