// Package jobstore implements the durable job lifecycle state machine:
// enqueue, claim, start, complete, and the expired-lease sweep. Every
// mutating operation is one short write transaction against the embedded
// store; a storage error changes nothing and callers retry on their next
// tick.
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
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/storage"
)

// ErrLeaseLost is returned when a worker's lease was stolen or expired
// between operations. Losing a lease race is expected behavior, not a
// failure to log loudly; the caller must abandon its in-flight work.
var ErrLeaseLost = errors.New("job lease lost")

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Store provides job lifecycle operations over the embedded database.
type Store struct {
	store *storage.Store
	met   *metrics.Metrics
	log   logger.Logger

	// now is a seam for tests that need to move time.
	now func() time.Time
}

// New creates a job store.
func New(store *storage.Store, met *metrics.Metrics, log logger.Logger) *Store {
	return &Store{
		store: store,
		met:   met,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueParams describes a new job request.
type EnqueueParams struct {
	ActivityID  string
	RequestKind string
	RequestedBy string
	ForceUpdate bool
	Priority    int
	MaxAttempts int
	// AvailableAt is the earliest claim-eligible time. Zero means now.
	AvailableAt time.Time
	// Optional activity metadata recorded on sighting.
	SportType string
	StartDate time.Time
}

// Enqueue records the activity sighting, inserts a queued job, and updates
// the activity projection, all in one transaction. Multiple jobs may exist
// concurrently for the same activity; activity-level exclusion is the
// caller's responsibility via the lock manager.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	if p.ActivityID == "" {
		return "", errors.New("enqueue: activity_id is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	now := s.now()
	availableAt := p.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	} else {
		availableAt = availableAt.UTC()
	}

	jobID := uuid.NewString()

	err := s.store.Write(ctx, func(tx *sqlx.Tx) error {
		if err := upsertActivity(ctx, tx, p, now); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
				job_id, activity_id, request_kind, requested_by, force_update,
				priority, status, attempt_count, max_attempts, requested_at, available_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			jobID, p.ActivityID, p.RequestKind, p.RequestedBy, p.ForceUpdate,
			p.Priority, domain.StatusQueued, p.MaxAttempts, now, availableAt,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		return upsertActivityState(ctx, tx, stateUpdate{
			activityID: p.ActivityID,
			state:      domain.StatusQueued,
			jobID:      jobID,
			updatedAt:  now,
		})
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job for activity %s: %w", p.ActivityID, err)
	}

	s.met.JobsEnqueued.WithLabelValues(p.RequestKind).Inc()
	s.log.Info("Job enqueued",
		logger.String("job_id", jobID),
		logger.String("activity_id", p.ActivityID),
		logger.String("request_kind", p.RequestKind),
		logger.Int("priority", p.Priority),
	)

	return jobID, nil
}

func upsertActivity(ctx context.Context, tx *sqlx.Tx, p EnqueueParams, now time.Time) error {
	var sportType any
	if p.SportType != "" {
		sportType = p.SportType
	}
	var startDate any
	if !p.StartDate.IsZero() {
		startDate = p.StartDate.UTC()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO activities (activity_id, first_seen_at, last_seen_at, sport_type, start_date)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(activity_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			sport_type   = COALESCE(excluded.sport_type, activities.sport_type),
			start_date   = COALESCE(excluded.start_date, activities.start_date)`,
		p.ActivityID, now, now, sportType, startDate,
	)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

// Job returns a job by ID.
func (s *Store) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &job, `SELECT * FROM jobs WHERE job_id = ?`, jobID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

// Runs returns all runs for a job, oldest attempt first.
func (s *Store) Runs(ctx context.Context, jobID string) ([]*domain.Run, error) {
	var runs []*domain.Run
	err := s.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &runs,
			`SELECT * FROM runs WHERE job_id = ? ORDER BY attempt_number ASC`, jobID)
	})
	if err != nil {
		return nil, fmt.Errorf("list runs for job %s: %w", jobID, err)
	}
	return runs, nil
}

// JobsForActivity returns the most recent jobs for an activity.
func (s *Store) JobsForActivity(ctx context.Context, activityID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []*domain.Job
	err := s.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &jobs,
			`SELECT * FROM jobs WHERE activity_id = ? ORDER BY requested_at DESC LIMIT ?`,
			activityID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs for activity %s: %w", activityID, err)
	}
	return jobs, nil
}

// ActivityState returns the denormalized projection for an activity.
func (s *Store) ActivityState(ctx context.Context, activityID string) (*domain.ActivityState, error) {
	var state domain.ActivityState
	err := s.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &state,
			`SELECT * FROM activity_state WHERE activity_id = ?`, activityID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get activity state %s: %w", activityID, err)
	}
	return &state, nil
}
