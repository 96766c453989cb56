package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanap/DescGen-sub000/internal/jobstore"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/runtimekv"
	"github.com/seanap/DescGen-sub000/internal/upstream"
)

const recentJobsLimit = 10

// Handler handles HTTP requests for the descgen API.
type Handler struct {
	jobs *jobstore.Store
	kv   *runtimekv.KV
	orch *upstream.Orchestrator
	log  logger.Logger

	serviceName      string
	serviceVersion   string
	heartbeatMaxAge  time.Duration
	rerunMaxAttempts int
}

// HandlerConfig holds handler configuration.
type HandlerConfig struct {
	ServiceName      string
	ServiceVersion   string
	HeartbeatMaxAge  time.Duration
	RerunMaxAttempts int
}

// NewHandler creates an API handler.
func NewHandler(
	jobs *jobstore.Store,
	kv *runtimekv.KV,
	orch *upstream.Orchestrator,
	cfg HandlerConfig,
	log logger.Logger,
) *Handler {
	if cfg.RerunMaxAttempts <= 0 {
		cfg.RerunMaxAttempts = 3
	}
	return &Handler{
		jobs:             jobs,
		kv:               kv,
		orch:             orch,
		log:              log,
		serviceName:      cfg.ServiceName,
		serviceVersion:   cfg.ServiceVersion,
		heartbeatMaxAge:  cfg.HeartbeatMaxAge,
		rerunMaxAttempts: cfg.RerunMaxAttempts,
	}
}

// HealthCheck reports process liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.serviceName,
		"version": h.serviceVersion,
	})
}

// ReadyCheck reports worker liveness from the persisted heartbeat. A stale
// or missing heartbeat means a wedged or crashed worker process.
func (h *Handler) ReadyCheck(c *gin.Context) {
	if !h.kv.Healthy(c.Request.Context(), time.Now().UTC(), h.heartbeatMaxAge) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "worker heartbeat stale"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetActivity returns the activity projection plus its recent jobs.
func (h *Handler) GetActivity(c *gin.Context) {
	activityID := c.Param("id")

	state, err := h.jobs.ActivityState(c.Request.Context(), activityID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
			return
		}
		h.log.Error("Failed to load activity state", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	jobs, err := h.jobs.JobsForActivity(c.Request.Context(), activityID, recentJobsLimit)
	if err != nil {
		h.log.Error("Failed to list activity jobs", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	jobResponses := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		jobResponses = append(jobResponses, toJobResponse(j))
	}

	c.JSON(http.StatusOK, gin.H{
		"state": toActivityStateResponse(state),
		"jobs":  jobResponses,
	})
}

// RerunActivity enqueues a manual rerun job for the activity.
func (h *Handler) RerunActivity(c *gin.Context) {
	activityID := c.Param("id")

	// The body is optional; an empty POST uses the defaults.
	var req RerunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	jobID, err := h.jobs.Enqueue(c.Request.Context(), jobstore.EnqueueParams{
		ActivityID:  activityID,
		RequestKind: "manual_rerun",
		RequestedBy: req.RequestedBy,
		ForceUpdate: req.ForceUpdate,
		Priority:    req.Priority,
		MaxAttempts: h.rerunMaxAttempts,
	})
	if err != nil {
		h.log.Error("Failed to enqueue rerun", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetJob returns a job and its runs.
func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.Job(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.log.Error("Failed to load job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	runs, err := h.jobs.Runs(c.Request.Context(), jobID)
	if err != nil {
		h.log.Error("Failed to list runs", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	runResponses := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		runResponses = append(runResponses, toRunResponse(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"job":  toJobResponse(job),
		"runs": runResponses,
	})
}

// CancelJob cancels a job that no worker has claimed yet.
func (h *Handler) CancelJob(c *gin.Context) {
	jobID := c.Param("id")

	if !h.jobs.Cancel(c.Request.Context(), jobID) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// GetServiceHealth returns the persisted health counters for one upstream
// service.
func (h *Handler) GetServiceHealth(c *gin.Context) {
	name := c.Param("name")

	health, ok := h.orch.ServiceHealthFor(c.Request.Context(), name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no health record for service"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service":      name,
		"health":       health,
		"cooling_down": h.orch.CoolingDown(c.Request.Context(), name),
	})
}

// GetLastCycle returns the last flushed cycle metrics snapshot.
func (h *Handler) GetLastCycle(c *gin.Context) {
	var snapshot upstream.CycleSnapshot
	ok, err := h.kv.Get(c.Request.Context(), runtimekv.KeyLastCycleMetrics, &snapshot)
	if err != nil {
		h.log.Error("Failed to load cycle metrics", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle recorded yet"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
