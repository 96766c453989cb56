package domain

import (
	"database/sql"
	"time"
)

// Activity is the identity record for a unit of work's subject. Rows are
// created on first sighting and updated on every subsequent one, never
// deleted.
type Activity struct {
	ActivityID  string         `db:"activity_id"`
	FirstSeenAt time.Time      `db:"first_seen_at"`
	LastSeenAt  time.Time      `db:"last_seen_at"`
	SportType   sql.NullString `db:"sport_type"`
	StartDate   sql.NullTime   `db:"start_date"`
}

// ActivityState is the latest-known projection for an activity, denormalized
// for O(1) status reads. It mirrors the driving job's status and carries the
// hashes the enrichment handler uses to detect upstream drift.
type ActivityState struct {
	ActivityID       string         `db:"activity_id"`
	State            Status         `db:"state"`
	LastJobID        sql.NullString `db:"last_job_id"`
	LastRunID        sql.NullString `db:"last_run_id"`
	ProfileHash      sql.NullString `db:"profile_hash"`
	TitleHash        sql.NullString `db:"title_hash"`
	ContentHash      sql.NullString `db:"content_hash"`
	LastResultStatus sql.NullString `db:"last_result_status"`
	LastError        sql.NullString `db:"last_error"`
	UpdatedAt        time.Time      `db:"updated_at"`
}
