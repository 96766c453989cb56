package api

import (
	"time"

	"github.com/seanap/DescGen-sub000/internal/domain"
)

// JobResponse is the API shape of a job.
type JobResponse struct {
	JobID        string     `json:"job_id"`
	ActivityID   string     `json:"activity_id"`
	RequestKind  string     `json:"request_kind"`
	RequestedBy  string     `json:"requested_by,omitempty"`
	ForceUpdate  bool       `json:"force_update"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	RequestedAt  time.Time  `json:"requested_at"`
	AvailableAt  time.Time  `json:"available_at"`
	LeaseOwner   string     `json:"lease_owner,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// RunResponse is the API shape of a run.
type RunResponse struct {
	RunID         string     `json:"run_id"`
	AttemptNumber int        `json:"attempt_number"`
	WorkerOwner   string     `json:"worker_owner"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ActivityStateResponse is the API shape of the activity projection.
type ActivityStateResponse struct {
	ActivityID       string    `json:"activity_id"`
	State            string    `json:"state"`
	LastJobID        string    `json:"last_job_id,omitempty"`
	LastRunID        string    `json:"last_run_id,omitempty"`
	LastResultStatus string    `json:"last_result_status,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RerunRequest is the manual-rerun request body.
type RerunRequest struct {
	RequestedBy string `json:"requested_by"`
	ForceUpdate bool   `json:"force_update"`
	Priority    int    `json:"priority"`
}

func toJobResponse(j *domain.Job) JobResponse {
	resp := JobResponse{
		JobID:        j.JobID,
		ActivityID:   j.ActivityID,
		RequestKind:  j.RequestKind,
		RequestedBy:  j.RequestedBy,
		ForceUpdate:  j.ForceUpdate,
		Priority:     j.Priority,
		Status:       string(j.Status),
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		RequestedAt:  j.RequestedAt,
		AvailableAt:  j.AvailableAt,
	}
	if j.LeaseOwner.Valid {
		resp.LeaseOwner = j.LeaseOwner.String
	}
	if j.StartedAt.Valid {
		resp.StartedAt = &j.StartedAt.Time
	}
	if j.FinishedAt.Valid {
		resp.FinishedAt = &j.FinishedAt.Time
	}
	if j.LastError.Valid {
		resp.LastError = j.LastError.String
	}
	return resp
}

func toRunResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		RunID:         r.RunID,
		AttemptNumber: r.AttemptNumber,
		WorkerOwner:   r.WorkerOwner,
		Status:        string(r.Status),
		StartedAt:     r.StartedAt,
	}
	if r.FinishedAt.Valid {
		resp.FinishedAt = &r.FinishedAt.Time
	}
	if r.Error.Valid {
		resp.Error = r.Error.String
	}
	return resp
}

func toActivityStateResponse(s *domain.ActivityState) ActivityStateResponse {
	resp := ActivityStateResponse{
		ActivityID: s.ActivityID,
		State:      string(s.State),
		UpdatedAt:  s.UpdatedAt,
	}
	if s.LastJobID.Valid {
		resp.LastJobID = s.LastJobID.String
	}
	if s.LastRunID.Valid {
		resp.LastRunID = s.LastRunID.String
	}
	if s.LastResultStatus.Valid {
		resp.LastResultStatus = s.LastResultStatus.String
	}
	if s.LastError.Valid {
		resp.LastError = s.LastError.String
	}
	return resp
}
