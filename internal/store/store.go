// Package store provides SQLite storage for plastisort: the durable detection
// history backend and persisted application settings.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	_ "modernc.org/sqlite"
)

// Store is a SQLite database holding detection history and settings.
type Store struct {
	db  *sql.DB
	log logs.Log
	now func() time.Time
}

// New opens (creating if needed) the database at dbPath and runs migrations.
func New(log logs.Log, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one connection serializes the live loop's appends with dashboard reads
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{
		db:  db,
		log: log,
		now: time.Now,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
