// Package storage provides the embedded durable store backing the job
// lifecycle engine. One SQLite file is the single source of truth shared by
// the web and worker processes; all cross-process coordination goes through
// it.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// DefaultBusyTimeout is how long a connection waits on a locked database
	// before giving up.
	DefaultBusyTimeout = 5 * time.Second
	// DefaultPingTimeout is the timeout for the connectivity check on open.
	DefaultPingTimeout = 5 * time.Second
)

// Store wraps the embedded database and exposes narrow read/write
// transaction primitives. Write transactions are BEGIN IMMEDIATE (via the
// _txlock DSN parameter), which gives the single-writer compare-and-set
// guarantee the job state machine depends on.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Schema creation is idempotent and runs on every open.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, DefaultBusyTimeout.Milliseconds(),
	)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn
	// inside this process while WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	s := &Store{db: db}
	if migrateErr := s.migrate(ctx); migrateErr != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", migrateErr)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read runs fn inside a transaction so multi-statement reads see one
// consistent snapshot. The sqlite3 driver does not support read-only
// transaction options; the discipline of not writing in fn is the caller's.
func (s *Store) Read(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Write runs fn inside a write transaction. The transaction takes the write
// lock up front, so concurrent writers serialize here rather than failing
// mid-transaction. Any error from fn rolls everything back; callers never
// see partial writes.
func (s *Store) Write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
