package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanap/DescGen-sub000/internal/jobstore"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/runtimekv"
	"github.com/seanap/DescGen-sub000/internal/storage"
	"github.com/seanap/DescGen-sub000/internal/upstream"
)

type apiEnv struct {
	router *gin.Engine
	jobs   *jobstore.Store
	kv     *runtimekv.KV
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.NewNop()
	met := metrics.NewNop()
	jobs := jobstore.New(db, met, log)
	kv := runtimekv.New(db)
	orch := upstream.New(kv, met, log, 0)

	handler := NewHandler(jobs, kv, orch, HandlerConfig{
		ServiceName:      "descgen",
		ServiceVersion:   "test",
		HeartbeatMaxAge:  time.Minute,
		RerunMaxAttempts: 3,
	}, log)

	router := gin.New()
	SetupRoutes(router, handler, met.Registry)

	return &apiEnv{router: router, jobs: jobs, kv: kv}
}

func (e *apiEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"descgen"`)
}

func TestReadyCheckTracksHeartbeat(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	w := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no heartbeat means not ready")

	require.NoError(t, env.kv.SetHeartbeat(ctx, time.Now().UTC()))

	w = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRerunActivityEnqueuesJob(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun",
		`{"requested_by":"ops","force_update":true,"priority":5}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	job, err := env.jobs.Job(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "act-1", job.ActivityID)
	assert.Equal(t, "manual_rerun", job.RequestKind)
	assert.Equal(t, "ops", job.RequestedBy)
	assert.True(t, job.ForceUpdate)
	assert.Equal(t, 5, job.Priority)
}

func TestRerunActivityEmptyBody(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetActivity(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/activities/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun", "")

	w = env.do(t, http.MethodGet, "/api/v1/activities/act-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		State ActivityStateResponse `json:"state"`
		Jobs  []JobResponse         `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "act-1", resp.State.ActivityID)
	assert.Equal(t, "queued", resp.State.State)
	require.Len(t, resp.Jobs, 1)
}

func TestGetJobWithRuns(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun", "")
	var created struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Job  JobResponse   `json:"job"`
		Runs []RunResponse `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, created.JobID, resp.Job.JobID)
	assert.Empty(t, resp.Runs)
}

func TestCancelJob(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/activities/act-1/rerun", "")
	var created struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// A terminal job cannot be cancelled again.
	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetServiceHealth(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/services/weather", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetLastCycle(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	w := env.do(t, http.MethodGet, "/api/v1/cycle", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no cycle recorded yet")

	cycle := upstream.NewCycleState(10)
	require.NoError(t, env.kv.FlushCycleMetrics(ctx, cycle.Snapshot()))

	w = env.do(t, http.MethodGet, "/api/v1/cycle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"budget_total":10`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
