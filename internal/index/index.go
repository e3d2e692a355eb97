package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Index is the SQLite-backed email search store. It is safe for concurrent
// use: database/sql serializes access to the underlying connection pool.
type Index struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens the search store at dbPath and bootstraps the schema if it does
// not exist yet. Callers treat an error here as fatal at startup.
func Open(dbPath string, logger *logrus.Logger) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	idx := &Index{
		db:     db,
		logger: logger,
	}

	existed, err := idx.Exists()
	if err != nil {
		return nil, err
	}

	if err := idx.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if existed {
		logger.WithField("path", dbPath).Info("Email index opened")
	} else {
		logger.WithField("path", dbPath).Info("Email index created")
	}
	return idx, nil
}

// Exists reports whether the email index schema has been created.
func (i *Index) Exists() (bool, error) {
	var name string
	err := i.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'emails'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check index existence: %w", err)
	}
	return true, nil
}

// initSchema initializes the database schema
func (i *Index) initSchema() error {
	if _, err := i.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (i *Index) Close() error {
	if i.db != nil {
		return i.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for use in writer.go and search.go)
func (i *Index) DB() *sql.DB {
	return i.db
}
