package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/xrefdb/internal/errors"
)

// Store is the SQLite data access layer for the code database.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	return NewStoreWithTimeout(dbPath, 30*time.Second)
}

// NewStoreWithTimeout is NewStore with an explicit SQLite busy timeout.
func NewStoreWithTimeout(dbPath string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=%d", dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Store(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Store(err, "ping database")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Conn reserves a dedicated connection. Accessors hold one each so that
// BEGIN and COMMIT run on the same connection.
func (s *Store) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Store(err, "reserve connection")
	}
	return conn, nil
}

// Migrate creates all tables and indexes and seeds the System row.
// Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return errors.Store(err, "migrate")
	}
	if _, err := s.db.Exec(
		"INSERT INTO System (Version, UsedTopicIDs, UsedLinkIDs, UsedContextIDs, UsedClassIDs, UsedImageLinkIDs) "+
			"SELECT ?, '', '', '', '', '' WHERE NOT EXISTS (SELECT 1 FROM System)", SchemaVersion,
	); err != nil {
		return errors.Store(err, "seed system")
	}
	return nil
}

// SchemaVersion is written to System.Version by Migrate.
const SchemaVersion = "1.0"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS System (
  Version         TEXT NOT NULL,
  UsedTopicIDs    TEXT NOT NULL,
  UsedLinkIDs     TEXT NOT NULL,
  UsedContextIDs  TEXT NOT NULL,
  UsedClassIDs    TEXT NOT NULL DEFAULT '',
  UsedImageLinkIDs TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS Topics (
  TopicID                 INTEGER PRIMARY KEY NOT NULL,
  Title                   TEXT NOT NULL,
  Body                    TEXT,
  Summary                 TEXT,
  Prototype               TEXT,
  Symbol                  TEXT NOT NULL,
  EndingSymbol            TEXT NOT NULL,
  SymbolDefinitionNumber  INTEGER NOT NULL,
  ClassID                 INTEGER NOT NULL,
  IsEmbedded              INTEGER NOT NULL,
  TopicTypeID             INTEGER NOT NULL,
  DeclaredAccessLevel     INTEGER NOT NULL,
  EffectiveAccessLevel    INTEGER NOT NULL,
  Tags                    TEXT,
  FileID                  INTEGER NOT NULL,
  CommentLineNumber       INTEGER NOT NULL,
  CodeLineNumber          INTEGER NOT NULL,
  LanguageID              INTEGER NOT NULL,
  PrototypeContextID      INTEGER NOT NULL,
  BodyContextID           INTEGER NOT NULL,
  FilePosition            INTEGER NOT NULL DEFAULT 0,
  IsList                  INTEGER NOT NULL DEFAULT 0,
  DefinesClass            INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS TopicsByFile ON Topics (FileID, CommentLineNumber);
CREATE INDEX IF NOT EXISTS TopicsByEndingSymbol ON Topics (EndingSymbol);
CREATE INDEX IF NOT EXISTS TopicsByFilePosition ON Topics (FileID, FilePosition);
CREATE INDEX IF NOT EXISTS TopicsByClass ON Topics (ClassID);
CREATE INDEX IF NOT EXISTS TopicsByClassDefinition ON Topics (ClassID, DefinesClass);

CREATE TABLE IF NOT EXISTS Links (
  LinkID          INTEGER PRIMARY KEY NOT NULL,
  Type            INTEGER NOT NULL,
  TextOrSymbol    TEXT NOT NULL,
  ContextID       INTEGER NOT NULL,
  FileID          INTEGER NOT NULL,
  LanguageID      INTEGER NOT NULL,
  EndingSymbol    TEXT NOT NULL,
  ClassID         INTEGER NOT NULL,
  TargetTopicID   INTEGER NOT NULL,
  TargetScore     INTEGER NOT NULL,
  TargetClassID   INTEGER NOT NULL DEFAULT 0,
  UNIQUE (FileID, ContextID, Type, LanguageID, TextOrSymbol)
);

CREATE INDEX IF NOT EXISTS LinksByEndingSymbol ON Links (EndingSymbol);
CREATE INDEX IF NOT EXISTS LinksByFileAndType ON Links (FileID, Type);
CREATE INDEX IF NOT EXISTS LinksByClass ON Links (ClassID);
CREATE INDEX IF NOT EXISTS LinksByTargetTopic ON Links (TargetTopicID);
CREATE INDEX IF NOT EXISTS LinksByTargetClass ON Links (TargetClassID);

CREATE TABLE IF NOT EXISTS AlternateLinkEndingSymbols (
  LinkID          INTEGER NOT NULL,
  EndingSymbol    TEXT NOT NULL,
  PRIMARY KEY (LinkID, EndingSymbol)
);

CREATE INDEX IF NOT EXISTS AlternateLinkEndingSymbolsByEndingSymbol ON AlternateLinkEndingSymbols (EndingSymbol);

CREATE TABLE IF NOT EXISTS ImageLinks (
  ImageLinkID     INTEGER PRIMARY KEY NOT NULL,
  OriginalText    TEXT NOT NULL,
  Path            TEXT NOT NULL,
  FileName        TEXT NOT NULL,
  FileID          INTEGER NOT NULL,
  ClassID         INTEGER NOT NULL,
  TargetFileID    INTEGER NOT NULL,
  TargetScore     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ImageLinksByFileID ON ImageLinks (FileID);
CREATE INDEX IF NOT EXISTS ImageLinksByClassID ON ImageLinks (ClassID);
CREATE INDEX IF NOT EXISTS ImageLinksByFileName ON ImageLinks (FileName);
CREATE INDEX IF NOT EXISTS ImageLinksByTargetFileID ON ImageLinks (TargetFileID);

CREATE TABLE IF NOT EXISTS Classes (
  ClassID         INTEGER PRIMARY KEY NOT NULL,
  ClassString     TEXT,
  LookupKey       TEXT NOT NULL,
  ReferenceCount  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ClassesByLookupKey ON Classes (LookupKey);

CREATE TABLE IF NOT EXISTS Contexts (
  ContextID       INTEGER PRIMARY KEY NOT NULL,
  ContextString   TEXT NOT NULL,
  ReferenceCount  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ContextsByContextString ON Contexts (ContextString);

CREATE TABLE IF NOT EXISTS Files (
  FileID          INTEGER PRIMARY KEY,
  Path            TEXT NOT NULL UNIQUE,
  FileName        TEXT NOT NULL DEFAULT '',
  LanguageID      INTEGER NOT NULL,
  IsImage         INTEGER NOT NULL DEFAULT 0,
  Hash            TEXT,
  LastIngested    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS FilesByImageName ON Files (IsImage, FileName);
`
