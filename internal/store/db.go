package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row addressed by id or key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProtected is returned when deleting a protected fact.
	ErrProtected = errors.New("fact is protected")
	// ErrInvalidTransition is returned when an observation status change would move backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSchemaMismatch is returned when the database was written by a newer schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// DB wraps a sql.DB connection to the hippocampus SQLite database.
// Reads use the pool directly; all writes are serialized through Write.
type DB struct {
	*sql.DB
	Path string

	wmu   sync.Mutex
	retry RetryPolicy
}

// DefaultDBPath returns the default database path: ~/.hippocampus/hippocampus.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hippocampus", "hippocampus.db"), nil
}

// pragmas are applied by the driver to every pooled connection; several of
// them (busy_timeout, foreign_keys) are per-connection settings in SQLite.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"mmap_size(268435456)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// Open opens (or creates) the SQLite database at path and brings its schema
// up to date.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return setup(sqlDB, path)
}

// OpenMemory opens an in-memory database for tests. Each connection to
// ":memory:" is its own database, so the pool holds exactly one.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(":memory:"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return setup(sqlDB, ":memory:")
}

func setup(sqlDB *sql.DB, path string) (*DB, error) {
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	db := &DB{DB: sqlDB, Path: path, retry: DefaultRetryPolicy()}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// SetRetryPolicy replaces the retry policy used by Write.
func (db *DB) SetRetryPolicy(p RetryPolicy) {
	db.wmu.Lock()
	db.retry = p
	db.wmu.Unlock()
}
