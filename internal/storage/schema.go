package storage

import (
	"context"
	"fmt"
)

// schema is applied in order on every open. Statements must stay idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS activities (
		activity_id   TEXT PRIMARY KEY,
		first_seen_at TIMESTAMP NOT NULL,
		last_seen_at  TIMESTAMP NOT NULL,
		sport_type    TEXT,
		start_date    TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		job_id           TEXT PRIMARY KEY,
		activity_id      TEXT NOT NULL REFERENCES activities(activity_id),
		request_kind     TEXT NOT NULL,
		requested_by     TEXT NOT NULL DEFAULT '',
		force_update     INTEGER NOT NULL DEFAULT 0,
		priority         INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		attempt_count    INTEGER NOT NULL DEFAULT 0,
		max_attempts     INTEGER NOT NULL DEFAULT 1,
		requested_at     TIMESTAMP NOT NULL,
		available_at     TIMESTAMP NOT NULL,
		lease_owner      TEXT,
		lease_expires_at TIMESTAMP,
		started_at       TIMESTAMP,
		finished_at      TIMESTAMP,
		run_id           TEXT,
		last_error       TEXT,
		last_result      TEXT
	)`,

	// Work-queue scan: eligibility by status + due time, ordered by priority
	// then request age.
	`CREATE INDEX IF NOT EXISTS idx_jobs_claim
		ON jobs (status, available_at, priority, requested_at)`,

	// Per-activity history lookups.
	`CREATE INDEX IF NOT EXISTS idx_jobs_activity
		ON jobs (activity_id, requested_at)`,

	`CREATE TABLE IF NOT EXISTS runs (
		run_id         TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL REFERENCES jobs(job_id),
		activity_id    TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		worker_owner   TEXT NOT NULL,
		status         TEXT NOT NULL,
		started_at     TIMESTAMP NOT NULL,
		finished_at    TIMESTAMP,
		error          TEXT,
		result         TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_job ON runs (job_id, attempt_number)`,

	`CREATE TABLE IF NOT EXISTS activity_state (
		activity_id        TEXT PRIMARY KEY,
		state              TEXT NOT NULL,
		last_job_id        TEXT,
		last_run_id        TEXT,
		profile_hash       TEXT,
		title_hash         TEXT,
		content_hash       TEXT,
		last_result_status TEXT,
		last_error         TEXT,
		updated_at         TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS runtime_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS runtime_locks (
		lock_name   TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at  TIMESTAMP NOT NULL
	)`,

	// Write-only audit of configuration at run time.
	`CREATE TABLE IF NOT EXISTS config_snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		source     TEXT NOT NULL,
		snapshot   TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// migrate applies the schema. Safe to call from multiple processes; every
// statement is IF NOT EXISTS.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
