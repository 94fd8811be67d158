package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// StorageError wraps any failure surfaced by the store. Callers decide
// whether to retry or propagate.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store is a thread-safe embedded SQL store backing metrics, lifecycle
// events, and semantic memory. database/sql pools one connection per
// worker; SQLite serializes writers while readers proceed concurrently
// under WAL.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the store at dataDir/swarm.db and applies any
// pending schema migrations. Schema initialization is idempotent.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, storageErr("open", err)
	}

	dbPath := filepath.Join(dataDir, "swarm.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Execute runs a statement that does not return rows
func (s *Store) Execute(query string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.Exec(query, args...)
	return res, storageErr("execute", err)
}

// Query runs a statement that returns rows. The caller must close the rows.
func (s *Store) Query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.db.Query(query, args...)
	return rows, storageErr("query", err)
}

// QueryRow runs a single-row query
func (s *Store) QueryRow(query string, args ...interface{}) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// WithTx runs fn inside a write transaction. The transaction commits when
// fn returns nil and rolls back when fn returns an error or panics.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return storageErr("tx", err)
	}

	return storageErr("commit", tx.Commit())
}

// Close releases all pooled connections
func (s *Store) Close() error {
	return storageErr("close", s.db.Close())
}
