package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/model"
)

// --- File registry ---

const fileCols = "FileID, Path, LanguageID, IsImage, COALESCE(Hash, ''), LastIngested"

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var last sql.NullTime
	var isImage int
	if err := scanner.Scan(&f.ID, &f.Path, &f.LanguageID, &isImage, &f.Hash, &last); err != nil {
		return nil, err
	}
	f.IsImage = isImage != 0
	if last.Valid {
		f.LastIngested = last.Time
	}
	return f, nil
}

// FileByPath returns the registered file, or nil if path is unknown.
func (s *Store) FileByPath(ctx context.Context, path string) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileCols+" FROM Files WHERE Path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Store(err, "file by path")
	}
	return f, nil
}

// FileByID returns the registered file, or nil if id is unknown.
func (s *Store) FileByID(ctx context.Context, id int) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileCols+" FROM Files WHERE FileID = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Store(err, "file by id")
	}
	return f, nil
}

// EnsureFile returns the ID registered for path, inserting a row without a
// hash if the path is new.
func (s *Store) EnsureFile(ctx context.Context, path string, languageID int) (int, error) {
	return s.ensureFile(ctx, path, languageID, false)
}

// EnsureImageFile is EnsureFile for an image, which has no language and can
// be the target of image links.
func (s *Store) EnsureImageFile(ctx context.Context, path string) (int, error) {
	return s.ensureFile(ctx, path, 0, true)
}

func (s *Store) ensureFile(ctx context.Context, path string, languageID int, isImage bool) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO Files (Path, FileName, LanguageID, IsImage) VALUES (?, ?, ?, ?)
		 ON CONFLICT(Path) DO UPDATE SET LanguageID = excluded.LanguageID, IsImage = excluded.IsImage`,
		path, model.ImageFileName(path), languageID, boolToInt(isImage),
	); err != nil {
		return 0, errors.Store(err, "ensure file")
	}
	var id int
	if err := s.db.QueryRowContext(ctx, "SELECT FileID FROM Files WHERE Path = ?", path).Scan(&id); err != nil {
		return 0, errors.Store(err, "ensure file id")
	}
	return id, nil
}

// MarkIngested records the content hash of a file after its topics and
// links were reconciled.
func (s *Store) MarkIngested(ctx context.Context, id int, hash string, at time.Time) error {
	return MarkFileIngested(ctx, s.db, id, hash, at)
}

// MarkFileIngested is MarkIngested on any connection, so it can join a code
// database transaction.
func MarkFileIngested(ctx context.Context, db Querier, id int, hash string, at time.Time) error {
	_, err := db.ExecContext(ctx, "UPDATE Files SET Hash = ?, LastIngested = ? WHERE FileID = ?", hash, at, id)
	return errors.Store(err, "mark ingested")
}

// DeleteFile removes a file from the registry.
func (s *Store) DeleteFile(ctx context.Context, id int) error {
	return DeleteFileRow(ctx, s.db, id)
}

// DeleteFileRow is DeleteFile on any connection.
func DeleteFileRow(ctx context.Context, db Querier, id int) error {
	_, err := db.ExecContext(ctx, "DELETE FROM Files WHERE FileID = ?", id)
	return errors.Store(err, "delete file")
}

// Files returns every registered file ordered by path.
func (s *Store) Files(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileCols+" FROM Files ORDER BY Path")
	if err != nil {
		return nil, errors.Store(err, "files")
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errors.Store(err, "scan file")
		}
		files = append(files, f)
	}
	return files, errors.Store(rows.Err(), "files")
}

// ImageFilesByName returns the image files whose lowercase file name is
// name, ordered by FileID.
func ImageFilesByName(ctx context.Context, db Querier, name string) ([]*File, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+fileCols+" FROM Files WHERE IsImage = 1 AND FileName = ? ORDER BY FileID", name)
	if err != nil {
		return nil, errors.Store(err, "image files by name")
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errors.Store(err, "scan file")
		}
		files = append(files, f)
	}
	return files, errors.Store(rows.Err(), "image files by name")
}

// FilePath returns the path registered for id, or "" if id is unknown.
func FilePath(ctx context.Context, db Querier, id int) (string, error) {
	var path string
	err := db.QueryRowContext(ctx, "SELECT Path FROM Files WHERE FileID = ?", id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return path, errors.Store(err, "file path")
}

// Stats counts rows across the database.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	for _, q := range []struct {
		dst   *int
		query string
	}{
		{&st.Files, "SELECT COUNT(*) FROM Files"},
		{&st.Topics, "SELECT COUNT(*) FROM Topics"},
		{&st.Links, "SELECT COUNT(*) FROM Links"},
		{&st.Resolved, "SELECT COUNT(*) FROM Links WHERE TargetTopicID > 0"},
		{&st.Unresolved, "SELECT COUNT(*) FROM Links WHERE TargetTopicID = 0 OR TargetTopicID = -1"},
		{&st.NoTarget, "SELECT COUNT(*) FROM Links WHERE TargetTopicID = -2"},
		{&st.ImageFiles, "SELECT COUNT(*) FROM Files WHERE IsImage = 1"},
		{&st.ImageLinks, "SELECT COUNT(*) FROM ImageLinks"},
		{&st.ImageLinksResolved, "SELECT COUNT(*) FROM ImageLinks WHERE TargetFileID > 0"},
		{&st.Classes, "SELECT COUNT(*) FROM Classes"},
		{&st.Contexts, "SELECT COUNT(*) FROM Contexts"},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, errors.Store(err, "stats")
		}
	}
	return st, nil
}
