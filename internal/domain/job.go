// Package domain defines the core entities of the job lifecycle engine:
// activities, jobs, runs, and the projections derived from them.
package domain

import (
	"database/sql"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

// Job statuses.
const (
	StatusQueued          Status = "queued"
	StatusClaimed         Status = "claimed"
	StatusRunning         Status = "running"
	StatusRetryWait       Status = "retry_wait"
	StatusSucceeded       Status = "succeeded"
	StatusFailedPermanent Status = "failed_permanent"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedPermanent, StatusCancelled:
		return true
	default:
		return false
	}
}

// Claimable reports whether a job in this status may be claimed,
// subject to its available_at being due.
func (s Status) Claimable() bool {
	return s == StatusQueued || s == StatusRetryWait
}

// CanTransition reports whether moving a job from one status to another is
// legal. Requeueing claimed/running back to queued is reserved for the
// expired-lease sweep and is validated there against the lease predicate,
// not here.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusClaimed || to == StatusCancelled
	case StatusRetryWait:
		return to == StatusClaimed || to == StatusCancelled
	case StatusClaimed:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailedPermanent ||
			to == StatusCancelled || to == StatusRetryWait
	default:
		return false
	}
}

// Outcome is the result a worker reports for a finished run. It maps onto a
// final job status in CompleteRun; retry_wait may be overridden to
// failed_permanent when the retry budget is exhausted.
type Outcome string

// Run outcomes.
const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeRetryWait       Outcome = "retry_wait"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	OutcomeCancelled       Outcome = "cancelled"
)

// Job is one requested processing attempt-series for an activity.
type Job struct {
	JobID          string         `db:"job_id"`
	ActivityID     string         `db:"activity_id"`
	RequestKind    string         `db:"request_kind"`
	RequestedBy    string         `db:"requested_by"`
	ForceUpdate    bool           `db:"force_update"`
	Priority       int            `db:"priority"`
	Status         Status         `db:"status"`
	AttemptCount   int            `db:"attempt_count"`
	MaxAttempts    int            `db:"max_attempts"`
	RequestedAt    time.Time      `db:"requested_at"`
	AvailableAt    time.Time      `db:"available_at"`
	LeaseOwner     sql.NullString `db:"lease_owner"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	FinishedAt     sql.NullTime   `db:"finished_at"`
	RunID          sql.NullString `db:"run_id"`
	LastError      sql.NullString `db:"last_error"`
	LastResult     sql.NullString `db:"last_result"`
}

// LeaseHeldBy reports whether the job currently carries an unexpired lease
// owned by the given worker identity.
func (j *Job) LeaseHeldBy(owner string, now time.Time) bool {
	return j.LeaseOwner.Valid && j.LeaseOwner.String == owner &&
		j.LeaseExpiresAt.Valid && j.LeaseExpiresAt.Time.After(now)
}
