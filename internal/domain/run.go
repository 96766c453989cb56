package domain

import (
	"database/sql"
	"time"
)

// RunStatus represents the lifecycle state of a single run.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one concrete execution attempt belonging to a job.
type Run struct {
	RunID         string         `db:"run_id"`
	JobID         string         `db:"job_id"`
	ActivityID    string         `db:"activity_id"`
	AttemptNumber int            `db:"attempt_number"`
	WorkerOwner   string         `db:"worker_owner"`
	Status        RunStatus      `db:"status"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
	Error         sql.NullString `db:"error"`
	Result        sql.NullString `db:"result"`
}
