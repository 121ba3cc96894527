package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{name: "sqlite3", blobType: "BLOB"}

// SqliteStore stores all collections in a single SQLite database.
// Listeners only see commits made through this process.
type SqliteStore struct {
	*sqlStore
}

func NewSqliteStore(dbPath string, opts ...Option) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	s, err := newSQLStore(context.Background(), db, sqliteDialect, buildOptions(opts))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{sqlStore: s}, nil
}
