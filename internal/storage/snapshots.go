package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SaveConfigSnapshot records an opaque JSON blob of the configuration in
// effect, tagged with its source. Snapshots are write-only; they exist for
// post-hoc debugging of what a run actually saw.
func (s *Store) SaveConfigSnapshot(ctx context.Context, source, snapshot string) error {
	err := s.Write(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO config_snapshots (source, snapshot, created_at) VALUES (?, ?, ?)`,
			source, snapshot, time.Now().UTC(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save config snapshot: %w", err)
	}
	return nil
}
