package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/seanap/DescGen-sub000/internal/domain"
	"github.com/seanap/DescGen-sub000/internal/logger"
)

// RunHandle is what a worker needs to execute a started run.
type RunHandle struct {
	RunID         string
	JobID         string
	ActivityID    string
	AttemptNumber int
	MaxAttempts   int
	ForceUpdate   bool
}

// StartRun transitions a claimed job to running and opens its run row. It
// requires the caller to still hold an unexpired lease; if the lease was
// stolen or expired in the interim it returns (nil, ErrLeaseLost) and the
// caller must abort without side effects.
func (s *Store) StartRun(ctx context.Context, jobID, owner string) (*RunHandle, error) {
	now := s.now()
	var handle *RunHandle

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := tx.GetContext(ctx, &job, `SELECT * FROM jobs WHERE job_id = ?`, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}

		if job.Status != domain.StatusClaimed || !job.LeaseHeldBy(owner, now) {
			return ErrLeaseLost
		}

		runID := uuid.NewString()
		attempt := job.AttemptCount + 1

		_, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, attempt_count = ?, run_id = ?,
			     started_at = COALESCE(started_at, ?)
			 WHERE job_id = ?`,
			domain.StatusRunning, attempt, runID, now, jobID,
		)
		if err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, job_id, activity_id, attempt_number, worker_owner, status, started_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, jobID, job.ActivityID, attempt, owner, domain.RunRunning, now,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if err := upsertActivityState(ctx, tx, stateUpdate{
			activityID: job.ActivityID,
			state:      domain.StatusRunning,
			jobID:      jobID,
			runID:      runID,
			updatedAt:  now,
		}); err != nil {
			return err
		}

		handle = &RunHandle{
			RunID:         runID,
			JobID:         jobID,
			ActivityID:    job.ActivityID,
			AttemptNumber: attempt,
			MaxAttempts:   job.MaxAttempts,
			ForceUpdate:   job.ForceUpdate,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("start run for job %s: %w", jobID, err)
	}

	s.log.Debug("Run started",
		logger.String("job_id", jobID),
		logger.String("run_id", handle.RunID),
		logger.Int("attempt", handle.AttemptNumber),
	)

	return handle, nil
}

// CompleteParams describes a reported run outcome.
type CompleteParams struct {
	JobID   string
	RunID   string
	Owner   string
	Outcome domain.Outcome
	// Error is recorded on the run and job for non-succeeded outcomes.
	Error string
	// Result is an opaque JSON blob recorded on success.
	Result string
	// RetryDelay defers the next attempt for a retry_wait outcome.
	RetryDelay time.Duration
}

// CompleteRun finalizes a run and resolves its job. A retry_wait outcome
// with the attempt budget exhausted is forced to failed_permanent here, not
// left to caller discipline. The owner check tolerates an already-cleared
// lease, but a lease now held by somebody else means the job was requeued
// and re-claimed: the late finisher gets ErrLeaseLost and must discard its
// work.
func (s *Store) CompleteRun(ctx context.Context, p CompleteParams) (domain.Status, error) {
	now := s.now()
	var final domain.Status

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := tx.GetContext(ctx, &job, `SELECT * FROM jobs WHERE job_id = ?`, p.JobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}

		if job.LeaseOwner.Valid && job.LeaseOwner.String != p.Owner {
			return ErrLeaseLost
		}

		final = finalStatus(p.Outcome, job.AttemptCount, job.MaxAttempts)

		// A job already resolved, or requeued by the expired-lease sweep and
		// since re-claimed, must not be resolved again: terminal transitions
		// happen exactly once. The one tolerated exception is a swept job
		// nobody has re-claimed yet (lease cleared, claimable status).
		if !domain.CanTransition(job.Status, final) &&
			!(job.Status.Claimable() && !job.LeaseOwner.Valid) {
			return ErrLeaseLost
		}

		runStatus := domain.RunSucceeded
		if final != domain.StatusSucceeded {
			runStatus = domain.RunFailed
		}

		if err := s.resolveJob(ctx, tx, &job, final, p, now); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, finished_at = ?, error = NULLIF(?, ''), result = NULLIF(?, '')
			 WHERE run_id = ?`,
			runStatus, now, p.Error, p.Result, p.RunID,
		)
		if err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}

		return upsertActivityState(ctx, tx, stateUpdate{
			activityID:   job.ActivityID,
			state:        final,
			jobID:        p.JobID,
			runID:        p.RunID,
			resultStatus: string(runStatus),
			lastError:    p.Error,
			updatedAt:    now,
		})
	})
	if err != nil {
		if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("complete run %s: %w", p.RunID, err)
	}

	s.log.Info("Run completed",
		logger.String("job_id", p.JobID),
		logger.String("run_id", p.RunID),
		logger.String("outcome", string(p.Outcome)),
		logger.String("final_status", string(final)),
	)

	return final, nil
}

// finalStatus maps a reported outcome onto the job's final status. Retry
// budget exhaustion is a hard stop.
func finalStatus(outcome domain.Outcome, attempts, maxAttempts int) domain.Status {
	switch outcome {
	case domain.OutcomeRetryWait:
		if attempts >= maxAttempts {
			return domain.StatusFailedPermanent
		}
		return domain.StatusRetryWait
	case domain.OutcomeSucceeded:
		return domain.StatusSucceeded
	case domain.OutcomeCancelled:
		return domain.StatusCancelled
	default:
		return domain.StatusFailedPermanent
	}
}

func (s *Store) resolveJob(
	ctx context.Context, tx *sqlx.Tx,
	job *domain.Job, final domain.Status, p CompleteParams, now time.Time,
) error {
	if final == domain.StatusRetryWait {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, available_at = ?, lease_owner = NULL, lease_expires_at = NULL,
			     last_error = NULLIF(?, '')
			 WHERE job_id = ?`,
			domain.StatusRetryWait, now.Add(p.RetryDelay), p.Error, p.JobID,
		)
		if err != nil {
			return fmt.Errorf("park job for retry: %w", err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE jobs
		 SET status = ?, finished_at = ?, lease_owner = NULL, lease_expires_at = NULL,
		     last_error = NULLIF(?, ''), last_result = NULLIF(?, '')
		 WHERE job_id = ?`,
		final, now, p.Error, p.Result, p.JobID,
	)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return nil
}
