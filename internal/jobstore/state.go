package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seanap/DescGen-sub000/internal/domain"
)

// stateUpdate carries one projection upsert. Empty strings leave the
// corresponding column untouched on conflict.
type stateUpdate struct {
	activityID   string
	state        domain.Status
	jobID        string
	runID        string
	resultStatus string
	lastError    string
	updatedAt    time.Time
}

// upsertActivityState maintains the denormalized per-activity projection.
// Called from every job/run transition, always inside the caller's
// transaction.
func upsertActivityState(ctx context.Context, tx *sqlx.Tx, u stateUpdate) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO activity_state (
			activity_id, state, last_job_id, last_run_id,
			last_result_status, last_error, updated_at
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			state              = excluded.state,
			last_job_id        = COALESCE(excluded.last_job_id, activity_state.last_job_id),
			last_run_id        = COALESCE(excluded.last_run_id, activity_state.last_run_id),
			last_result_status = COALESCE(excluded.last_result_status, activity_state.last_result_status),
			last_error         = excluded.last_error,
			updated_at         = excluded.updated_at`,
		u.activityID, u.state, u.jobID, u.runID, u.resultStatus, u.lastError, u.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert activity state: %w", err)
	}
	return nil
}

// ActivityHashes are the change-detection hashes the enrichment handler
// computes from upstream data.
type ActivityHashes struct {
	ProfileHash string
	TitleHash   string
	ContentHash string
}

// SetActivityHashes records the latest hashes on the activity projection.
// Empty hashes leave the stored value in place.
func (s *Store) SetActivityHashes(ctx context.Context, activityID string, h ActivityHashes) error {
	now := s.now()
	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE activity_state SET
				profile_hash = COALESCE(NULLIF(?, ''), profile_hash),
				title_hash   = COALESCE(NULLIF(?, ''), title_hash),
				content_hash = COALESCE(NULLIF(?, ''), content_hash),
				updated_at   = ?
			 WHERE activity_id = ?`,
			h.ProfileHash, h.TitleHash, h.ContentHash, now, activityID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("set activity hashes %s: %w", activityID, err)
	}
	return nil
}
