// Package locks provides named, owned, TTL-based mutual-exclusion locks on
// top of the embedded store, usable across the web and worker processes.
package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/storage"
)

// Manager implements the lock operations.
type Manager struct {
	store *storage.Store
	log   logger.Logger

	now func() time.Time
}

// NewManager creates a lock manager.
func NewManager(store *storage.Store, log logger.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Acquire takes the named lock for owner with the given TTL. It succeeds if
// no lock row exists, the row is already held by owner (re-entrant renew),
// or the row has expired. The read-decide-write runs in one transaction so
// concurrent acquirers cannot both win. Any storage error returns false:
// never grant a lock on uncertain state.
func (m *Manager) Acquire(ctx context.Context, name, owner string, ttl time.Duration) bool {
	now := m.now()
	var acquired bool

	err := m.store.Write(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			Owner     string    `db:"owner"`
			ExpiresAt time.Time `db:"expires_at"`
		}
		err := tx.GetContext(ctx, &current,
			`SELECT owner, expires_at FROM runtime_locks WHERE lock_name = ?`, name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Free.
		case err != nil:
			return fmt.Errorf("read lock row: %w", err)
		case current.Owner != owner && current.ExpiresAt.After(now):
			// Held by somebody else.
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runtime_locks (lock_name, owner, acquired_at, expires_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(lock_name) DO UPDATE SET
				owner = excluded.owner,
				acquired_at = excluded.acquired_at,
				expires_at = excluded.expires_at`,
			name, owner, now, now.Add(ttl),
		)
		if err != nil {
			return fmt.Errorf("upsert lock row: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		m.log.Warn("Lock acquire failed on storage error",
			logger.String("lock", name), logger.String("owner", owner), logger.Error(err))
		return false
	}

	return acquired
}

// Release drops the named lock, but only if it is still held by owner. A
// lock that expired and was re-acquired by somebody else is left alone.
// Storage errors are swallowed: a stale lock row expires on its own.
func (m *Manager) Release(ctx context.Context, name, owner string) {
	err := m.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`DELETE FROM runtime_locks WHERE lock_name = ? AND owner = ?`, name, owner)
		return execErr
	})
	if err != nil {
		m.log.Warn("Lock release failed on storage error",
			logger.String("lock", name), logger.String("owner", owner), logger.Error(err))
	}
}

// Owner returns the current holder of the named lock, if any. Expired rows
// and read errors both report "no lock": stale readers just proceed as if
// unlocked.
func (m *Manager) Owner(ctx context.Context, name string) (string, bool) {
	now := m.now()
	var current struct {
		Owner     string    `db:"owner"`
		ExpiresAt time.Time `db:"expires_at"`
	}

	err := m.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &current,
			`SELECT owner, expires_at FROM runtime_locks WHERE lock_name = ?`, name)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			m.log.Warn("Lock owner lookup failed", logger.String("lock", name), logger.Error(err))
		}
		return "", false
	}
	if !current.ExpiresAt.After(now) {
		return "", false
	}

	return current.Owner, true
}
