package domain

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to claimed", StatusQueued, StatusClaimed, true},
		{"queued to cancelled", StatusQueued, StatusCancelled, true},
		{"queued to running", StatusQueued, StatusRunning, false},
		{"queued to succeeded", StatusQueued, StatusSucceeded, false},
		{"retry_wait to claimed", StatusRetryWait, StatusClaimed, true},
		{"retry_wait to cancelled", StatusRetryWait, StatusCancelled, true},
		{"retry_wait to succeeded", StatusRetryWait, StatusSucceeded, false},
		{"claimed to running", StatusClaimed, StatusRunning, true},
		{"claimed to succeeded", StatusClaimed, StatusSucceeded, false},
		{"running to succeeded", StatusRunning, StatusSucceeded, true},
		{"running to failed_permanent", StatusRunning, StatusFailedPermanent, true},
		{"running to retry_wait", StatusRunning, StatusRetryWait, true},
		{"running to cancelled", StatusRunning, StatusCancelled, true},
		{"running to claimed", StatusRunning, StatusClaimed, false},
		{"succeeded is terminal", StatusSucceeded, StatusQueued, false},
		{"failed_permanent is terminal", StatusFailedPermanent, StatusRetryWait, false},
		{"cancelled is terminal", StatusCancelled, StatusClaimed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailedPermanent.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusRetryWait.Terminal())

	assert.True(t, StatusQueued.Claimable())
	assert.True(t, StatusRetryWait.Claimable())
	assert.False(t, StatusClaimed.Claimable())
	assert.False(t, StatusSucceeded.Claimable())
}

func TestLeaseHeldBy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := &Job{
		LeaseOwner:     sql.NullString{String: "worker-a", Valid: true},
		LeaseExpiresAt: sql.NullTime{Time: now.Add(time.Minute), Valid: true},
	}

	assert.True(t, job.LeaseHeldBy("worker-a", now))
	assert.False(t, job.LeaseHeldBy("worker-b", now))
	assert.False(t, job.LeaseHeldBy("worker-a", now.Add(2*time.Minute)), "expired lease")

	unleased := &Job{}
	assert.False(t, unleased.LeaseHeldBy("worker-a", now))
}
