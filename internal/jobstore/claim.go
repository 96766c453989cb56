package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seanap/DescGen-sub000/internal/domain"
	"github.com/seanap/DescGen-sub000/internal/logger"
)

// claimCandidateLimit bounds how many eligible jobs ClaimNext inspects per
// call before giving up on lost races.
const claimCandidateLimit = 5

// Claim attempts to lease a specific job for the given owner. It succeeds
// only if the job is queued or retry_wait and its available_at is due.
// The whole check-and-set is one guarded UPDATE, so two racing claimers
// can never both win. A storage error returns false.
func (s *Store) Claim(ctx context.Context, jobID, owner string, leaseTTL time.Duration) bool {
	now := s.now()
	var claimed bool

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, lease_owner = ?, lease_expires_at = ?
			 WHERE job_id = ?
			   AND status IN (?, ?)
			   AND available_at <= ?`,
			domain.StatusClaimed, owner, now.Add(leaseTTL),
			jobID,
			domain.StatusQueued, domain.StatusRetryWait,
			now,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		s.log.Warn("Claim failed on storage error",
			logger.String("job_id", jobID),
			logger.String("owner", owner),
			logger.Error(err),
		)
		return false
	}

	return claimed
}

// ClaimNext claims the next eligible job for the owner: claimable status,
// available_at due, highest priority first, then oldest request. Returns
// (nil, nil) when no work is eligible. A candidate lost to a racing claimer
// is skipped and the next one is tried.
func (s *Store) ClaimNext(ctx context.Context, owner string, leaseTTL time.Duration) (*domain.Job, error) {
	now := s.now()

	var candidates []string
	err := s.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &candidates,
			`SELECT job_id FROM jobs
			 WHERE status IN (?, ?) AND available_at <= ?
			 ORDER BY priority DESC, requested_at ASC
			 LIMIT ?`,
			domain.StatusQueued, domain.StatusRetryWait, now, claimCandidateLimit,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("scan claimable jobs: %w", err)
	}

	for _, jobID := range candidates {
		if !s.Claim(ctx, jobID, owner, leaseTTL) {
			continue
		}
		job, err := s.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return job, nil
	}

	return nil, nil
}

// Cancel moves a job to cancelled. Only jobs no worker has claimed yet may
// be cancelled; there is no mid-run preemption.
func (s *Store) Cancel(ctx context.Context, jobID string) bool {
	now := s.now()
	var cancelled bool

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, finished_at = ?
			 WHERE job_id = ? AND status IN (?, ?)`,
			domain.StatusCancelled, now,
			jobID, domain.StatusQueued, domain.StatusRetryWait,
		)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		cancelled = true

		var activityID string
		if err := tx.GetContext(ctx, &activityID,
			`SELECT activity_id FROM jobs WHERE job_id = ?`, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		return upsertActivityState(ctx, tx, stateUpdate{
			activityID: activityID,
			state:      domain.StatusCancelled,
			jobID:      jobID,
			updatedAt:  now,
		})
	})
	if err != nil {
		s.log.Warn("Cancel failed on storage error",
			logger.String("job_id", jobID), logger.Error(err))
		return false
	}

	return cancelled
}

// errLeaseExpiredFinal is recorded on jobs the sweep resolves because their
// attempt budget was already spent when the lease lapsed.
const errLeaseExpiredFinal = "lease expired on final attempt"

// RequeueExpiredLeases forces any claimed or running job whose lease has
// lapsed back to queued with its lease cleared, making it immediately
// claimable. This is the crash-recovery path: a worker that died mid-run
// leaves its lease to expire and the next sweep picks the job up with no
// manual intervention. A job that died holding its final permitted attempt
// has no budget left to grant; requeueing it would let the next StartRun
// push attempt_count past max_attempts, so the sweep resolves it to
// failed_permanent instead. The staleness predicates live in the WHERE
// clauses, so concurrent sweeps are idempotent. Returns the total number of
// jobs swept, requeued and resolved alike.
func (s *Store) RequeueExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	var requeued, exhausted int64

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		var spent []struct {
			JobID      string `db:"job_id"`
			ActivityID string `db:"activity_id"`
		}
		if err := tx.SelectContext(ctx, &spent,
			`SELECT job_id, activity_id FROM jobs
			 WHERE status IN (?, ?) AND lease_expires_at <= ? AND attempt_count >= max_attempts`,
			domain.StatusClaimed, domain.StatusRunning, now,
		); err != nil {
			return fmt.Errorf("scan exhausted leases: %w", err)
		}

		for _, j := range spent {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs
				 SET status = ?, lease_owner = NULL, lease_expires_at = NULL,
				     finished_at = ?, last_error = ?
				 WHERE job_id = ?`,
				domain.StatusFailedPermanent, now, errLeaseExpiredFinal, j.JobID,
			); err != nil {
				return fmt.Errorf("fail exhausted job: %w", err)
			}
			if err := upsertActivityState(ctx, tx, stateUpdate{
				activityID: j.ActivityID,
				state:      domain.StatusFailedPermanent,
				jobID:      j.JobID,
				lastError:  errLeaseExpiredFinal,
				updatedAt:  now,
			}); err != nil {
				return err
			}
		}
		exhausted = int64(len(spent))

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, lease_owner = NULL, lease_expires_at = NULL, available_at = ?
			 WHERE status IN (?, ?) AND lease_expires_at <= ?`,
			domain.StatusQueued, now,
			domain.StatusClaimed, domain.StatusRunning,
			now,
		)
		if err != nil {
			return fmt.Errorf("requeue expired leases: %w", err)
		}
		requeued, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if requeued > 0 || exhausted > 0 {
		s.log.Warn("Swept jobs with expired leases",
			logger.Int64("requeued", requeued),
			logger.Int64("failed_permanent", exhausted),
		)
	}

	return int(requeued + exhausted), nil
}
