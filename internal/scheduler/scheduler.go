// Package scheduler drives the worker loop: one long-lived goroutine that
// claims jobs, executes the enrichment handler, and reports outcomes. All
// concurrency safety is pushed down into the store; the loop itself is
// strictly sequential.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seanap/DescGen-sub000/internal/domain"
	"github.com/seanap/DescGen-sub000/internal/jobstore"
	"github.com/seanap/DescGen-sub000/internal/locks"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/runtimekv"
	"github.com/seanap/DescGen-sub000/internal/upstream"
)

// cycleLockName serializes overlapping cycles across processes.
const cycleLockName = "worker_cycle"

// maxJobsPerCycle bounds one cycle so a deep backlog cannot starve the
// heartbeat and lease sweep.
const maxJobsPerCycle = 100

// Task is what the handler receives for one run.
type Task struct {
	ActivityID    string
	JobID         string
	RunID         string
	AttemptNumber int
	MaxAttempts   int
	ForceUpdate   bool
	Cycle         *upstream.CycleState
}

// HandlerResult is the handler's verdict for one run.
type HandlerResult struct {
	Outcome domain.Outcome
	// Error is recorded with non-succeeded outcomes.
	Error string
	// Result is an opaque JSON blob recorded on success.
	Result string
}

// Handler executes the business logic for one claimed job.
type Handler interface {
	Process(ctx context.Context, task Task) HandlerResult
}

// Config holds scheduler configuration.
type Config struct {
	Owner          string
	PollInterval   time.Duration
	LeaseTTL       time.Duration
	RetryBase      time.Duration
	CycleLockTTL   time.Duration
	OptionalBudget int
}

// Scheduler runs the claim → start → execute → complete cycle.
type Scheduler struct {
	jobs    *jobstore.Store
	locks   *locks.Manager
	kv      *runtimekv.KV
	met     *metrics.Metrics
	log     logger.Logger
	handler Handler
	cfg     Config

	now func() time.Time
}

// New creates a scheduler.
func New(
	jobs *jobstore.Store,
	lockMgr *locks.Manager,
	kv *runtimekv.KV,
	met *metrics.Metrics,
	handler Handler,
	cfg Config,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:    jobs,
		locks:   lockMgr,
		kv:      kv,
		met:     met,
		handler: handler,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, executing one cycle per poll interval until ctx is cancelled.
// No error escapes the loop; every per-cycle failure is logged and the loop
// proceeds to its next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Worker loop starting",
		logger.String("owner", s.cfg.Owner),
		logger.Duration("poll_interval", s.cfg.PollInterval),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Worker loop stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full processing cycle: heartbeat, expired-lease
// sweep, cycle lock, then drain eligible jobs. Exported so tests and the
// one-shot CLI path can drive single cycles.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.now()

	if err := s.kv.SetHeartbeat(ctx, start); err != nil {
		s.log.Warn("Failed to write heartbeat", logger.Error(err))
	}

	requeued, err := s.jobs.RequeueExpiredLeases(ctx, start)
	if err != nil {
		s.log.Error("Expired-lease sweep failed", logger.Error(err))
	} else if requeued > 0 {
		s.met.LeasesExpired.Add(float64(requeued))
	}

	if !s.locks.Acquire(ctx, cycleLockName, s.cfg.Owner, s.cfg.CycleLockTTL) {
		s.log.Debug("Cycle lock held elsewhere, skipping cycle",
			logger.String("owner", s.cfg.Owner))
		return
	}
	defer s.locks.Release(ctx, cycleLockName, s.cfg.Owner)

	cycle := upstream.NewCycleState(s.cfg.OptionalBudget)
	processed := 0

	for processed < maxJobsPerCycle {
		if ctx.Err() != nil {
			break
		}

		job, claimErr := s.jobs.ClaimNext(ctx, s.cfg.Owner, s.cfg.LeaseTTL)
		if claimErr != nil {
			s.log.Error("Claim scan failed", logger.Error(claimErr))
			break
		}
		if job == nil {
			break
		}

		s.processJob(ctx, job, cycle)
		processed++
	}

	if err := s.kv.FlushCycleMetrics(ctx, cycle.Snapshot()); err != nil {
		s.log.Warn("Failed to flush cycle metrics", logger.Error(err))
	}
	s.met.CycleDuration.Observe(s.now().Sub(start).Seconds())

	if processed > 0 {
		s.log.Info("Cycle complete",
			logger.Int("jobs_processed", processed),
			logger.Int("budget_remaining", cycle.BudgetRemaining()),
			logger.Duration("duration", s.now().Sub(start)),
		)
	}
}

// processJob runs one claimed job through start → handler → complete.
func (s *Scheduler) processJob(ctx context.Context, job *domain.Job, cycle *upstream.CycleState) {
	handle, err := s.jobs.StartRun(ctx, job.JobID, s.cfg.Owner)
	if err != nil {
		if errors.Is(err, jobstore.ErrLeaseLost) {
			// Lost the race to a lease expiry or a faster worker; abandon
			// silently.
			return
		}
		s.log.Error("StartRun failed", logger.String("job_id", job.JobID), logger.Error(err))
		return
	}

	result := s.safeProcess(ctx, Task{
		ActivityID:    handle.ActivityID,
		JobID:         handle.JobID,
		RunID:         handle.RunID,
		AttemptNumber: handle.AttemptNumber,
		MaxAttempts:   handle.MaxAttempts,
		ForceUpdate:   handle.ForceUpdate,
		Cycle:         cycle,
	})

	final, err := s.jobs.CompleteRun(ctx, jobstore.CompleteParams{
		JobID:      job.JobID,
		RunID:      handle.RunID,
		Owner:      s.cfg.Owner,
		Outcome:    result.Outcome,
		Error:      result.Error,
		Result:     result.Result,
		RetryDelay: s.retryDelay(handle.AttemptNumber),
	})
	if err != nil {
		if errors.Is(err, jobstore.ErrLeaseLost) {
			return
		}
		s.log.Error("CompleteRun failed", logger.String("job_id", job.JobID), logger.Error(err))
		return
	}

	s.met.JobsCompleted.WithLabelValues(string(final)).Inc()
}

// safeProcess shields the loop from handler panics; a panic becomes a
// retry_wait outcome like any other failed attempt.
func (s *Scheduler) safeProcess(ctx context.Context, task Task) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler panicked",
				logger.String("job_id", task.JobID),
				logger.Any("panic", r),
			)
			result = HandlerResult{
				Outcome: domain.OutcomeRetryWait,
				Error:   fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()

	return s.handler.Process(ctx, task)
}

// retryDelay grows linearly with the attempt number.
func (s *Scheduler) retryDelay(attempt int) time.Duration {
	return s.cfg.RetryBase * time.Duration(attempt)
}
