package jobstore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanap/DescGen-sub000/internal/domain"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/storage"
)

const testLeaseTTL = 5 * time.Minute

// testClock lets tests move the store's clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := newTestClock()
	store := New(db, metrics.NewNop(), logger.NewNop())
	store.now = clock.Now
	return store, clock
}

func enqueueTestJob(t *testing.T, s *Store, activityID string, p EnqueueParams) string {
	t.Helper()
	p.ActivityID = activityID
	if p.RequestKind == "" {
		p.RequestKind = "webhook"
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	jobID, err := s.Enqueue(context.Background(), p)
	require.NoError(t, err)
	return jobID
}

func TestEnqueueClaimRunComplete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-1", EnqueueParams{RequestedBy: "webhook", SportType: "Run"})

	job, err := s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 0, job.AttemptCount)

	claimed, err := s.ClaimNext(ctx, "worker-a", testLeaseTTL)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, jobID, claimed.JobID)
	assert.Equal(t, domain.StatusClaimed, claimed.Status)
	assert.Equal(t, "worker-a", claimed.LeaseOwner.String)

	handle, err := s.StartRun(ctx, jobID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 1, handle.AttemptNumber)
	assert.Equal(t, "act-1", handle.ActivityID)

	final, err := s.CompleteRun(ctx, CompleteParams{
		JobID:   jobID,
		RunID:   handle.RunID,
		Owner:   "worker-a",
		Outcome: domain.OutcomeSucceeded,
		Result:  `{"updated":true}`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, final)

	job, err = s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, job.Status)
	assert.False(t, job.LeaseOwner.Valid, "lease cleared on completion")
	assert.True(t, job.FinishedAt.Valid)
	assert.Equal(t, `{"updated":true}`, job.LastResult.String)

	runs, err := s.Runs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status)

	state, err := s.ActivityState(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, state.State)
	assert.Equal(t, jobID, state.LastJobID.String)
}

func TestClaimExactlyOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-race", EnqueueParams{})

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := string(rune('a' + n))
			if s.Claim(ctx, jobID, owner, testLeaseTTL) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one claimer may win")
}

func TestClaimOrderingPriorityThenFIFO(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	low1 := enqueueTestJob(t, s, "act-a", EnqueueParams{Priority: 0})
	clock.Advance(time.Second)
	high := enqueueTestJob(t, s, "act-b", EnqueueParams{Priority: 5})
	clock.Advance(time.Second)
	low2 := enqueueTestJob(t, s, "act-c", EnqueueParams{Priority: 0})

	var order []string
	for {
		job, err := s.ClaimNext(ctx, "worker-a", testLeaseTTL)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.JobID)
	}

	assert.Equal(t, []string{high, low1, low2}, order)
}

func TestClaimSkipsNotYetAvailable(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	enqueueTestJob(t, s, "act-later", EnqueueParams{
		AvailableAt: clock.Now().Add(time.Hour),
	})

	job, err := s.ClaimNext(ctx, "worker-a", testLeaseTTL)
	require.NoError(t, err)
	assert.Nil(t, job, "deferred job must not be claimable yet")

	clock.Advance(2 * time.Hour)

	job, err = s.ClaimNext(ctx, "worker-a", testLeaseTTL)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestCancel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-cancel", EnqueueParams{})

	assert.True(t, s.Cancel(ctx, jobID))

	job, err := s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, job.Status)
	assert.True(t, job.FinishedAt.Valid)

	// Terminal jobs cannot be cancelled again.
	assert.False(t, s.Cancel(ctx, jobID))

	// Claimed jobs cannot be cancelled.
	claimedID := enqueueTestJob(t, s, "act-cancel-2", EnqueueParams{})
	require.True(t, s.Claim(ctx, claimedID, "worker-a", testLeaseTTL))
	assert.False(t, s.Cancel(ctx, claimedID))
}

func TestRequeueExpiredLeases(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-crash", EnqueueParams{})
	require.True(t, s.Claim(ctx, jobID, "worker-dead", time.Minute))
	_, err := s.StartRun(ctx, jobID, "worker-dead")
	require.NoError(t, err)

	// Lease still live: nothing to sweep.
	n, err := s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(2 * time.Minute)

	n, err = s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.False(t, job.LeaseOwner.Valid)
	assert.False(t, job.LeaseExpiresAt.Valid)

	// The sweep is idempotent.
	n, err = s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The swept job is immediately claimable by another worker and keeps its
	// attempt count.
	reclaimed, err := s.ClaimNext(ctx, "worker-b", testLeaseTTL)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, jobID, reclaimed.JobID)
	assert.Equal(t, 1, reclaimed.AttemptCount)
}

func TestSweepFailsJobWithSpentAttemptBudget(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-spent", EnqueueParams{MaxAttempts: 1})
	require.True(t, s.Claim(ctx, jobID, "worker-dead", testLeaseTTL))
	_, err := s.StartRun(ctx, jobID, "worker-dead")
	require.NoError(t, err)

	// The worker dies mid-run with the attempt budget already spent.
	// Requeueing would let the next StartRun exceed max_attempts, so the
	// sweep must resolve the job instead.
	clock.Advance(testLeaseTTL + time.Second)

	n, err := s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailedPermanent, job.Status)
	assert.LessOrEqual(t, job.AttemptCount, job.MaxAttempts)
	assert.False(t, job.LeaseOwner.Valid)
	assert.True(t, job.FinishedAt.Valid)
	assert.Equal(t, "lease expired on final attempt", job.LastError.String)

	// No further execution is granted.
	next, err := s.ClaimNext(ctx, "worker-b", testLeaseTTL)
	require.NoError(t, err)
	assert.Nil(t, next)

	state, err := s.ActivityState(ctx, "act-spent")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailedPermanent, state.State)

	// A second sweep finds nothing left to do.
	n, err = s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnqueueCountsByRequestKind(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	met := metrics.NewNop()
	s := New(db, met, logger.NewNop())

	_, err = s.Enqueue(context.Background(), EnqueueParams{
		ActivityID:  "act-count",
		RequestKind: "manual_rerun",
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(met.JobsEnqueued.WithLabelValues("manual_rerun")))
	assert.Equal(t, 0.0, testutil.ToFloat64(met.JobsEnqueued.WithLabelValues("webhook")))
}

func TestRetryBudgetExhaustionForcesPermanentFailure(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-retry", EnqueueParams{MaxAttempts: 2})

	// Attempt 1 fails with budget remaining: parked for retry.
	require.True(t, s.Claim(ctx, jobID, "worker-a", testLeaseTTL))
	handle, err := s.StartRun(ctx, jobID, "worker-a")
	require.NoError(t, err)

	final, err := s.CompleteRun(ctx, CompleteParams{
		JobID:      jobID,
		RunID:      handle.RunID,
		Owner:      "worker-a",
		Outcome:    domain.OutcomeRetryWait,
		Error:      "upstream unavailable",
		RetryDelay: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetryWait, final)

	job, err := s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.AvailableAt.Equal(clock.Now().Add(time.Minute)))
	assert.Equal(t, "upstream unavailable", job.LastError.String)

	// Attempt 2 fails with the budget exhausted: forced to failed_permanent
	// even though the worker reported retry_wait.
	clock.Advance(2 * time.Minute)
	require.True(t, s.Claim(ctx, jobID, "worker-a", testLeaseTTL))
	handle, err = s.StartRun(ctx, jobID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 2, handle.AttemptNumber)

	final, err = s.CompleteRun(ctx, CompleteParams{
		JobID:      jobID,
		RunID:      handle.RunID,
		Owner:      "worker-a",
		Outcome:    domain.OutcomeRetryWait,
		Error:      "upstream unavailable",
		RetryDelay: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailedPermanent, final)

	job, err = s.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailedPermanent, job.Status)
	assert.Equal(t, 2, job.AttemptCount)
}

func TestStartRunRequiresLiveLease(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-lease", EnqueueParams{})

	// Unclaimed job.
	_, err := s.StartRun(ctx, jobID, "worker-a")
	assert.ErrorIs(t, err, ErrLeaseLost)

	// Unknown job.
	_, err = s.StartRun(ctx, "no-such-job", "worker-a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Claimed by somebody else.
	require.True(t, s.Claim(ctx, jobID, "worker-b", testLeaseTTL))
	_, err = s.StartRun(ctx, jobID, "worker-a")
	assert.ErrorIs(t, err, ErrLeaseLost)

	// Own lease, but expired.
	clock.Advance(testLeaseTTL + time.Minute)
	_, err = s.StartRun(ctx, jobID, "worker-b")
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestLateFinisherLosesRace(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-late", EnqueueParams{})

	require.True(t, s.Claim(ctx, jobID, "worker-a", time.Minute))
	handleA, err := s.StartRun(ctx, jobID, "worker-a")
	require.NoError(t, err)

	// Worker A stalls past its lease; the sweep requeues the job and worker B
	// picks it up.
	clock.Advance(2 * time.Minute)
	_, err = s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)

	require.True(t, s.Claim(ctx, jobID, "worker-b", testLeaseTTL))
	handleB, err := s.StartRun(ctx, jobID, "worker-b")
	require.NoError(t, err)

	// A's late report is rejected; its work is discarded.
	_, err = s.CompleteRun(ctx, CompleteParams{
		JobID:   jobID,
		RunID:   handleA.RunID,
		Owner:   "worker-a",
		Outcome: domain.OutcomeSucceeded,
	})
	assert.ErrorIs(t, err, ErrLeaseLost)

	// B's report lands normally.
	final, err := s.CompleteRun(ctx, CompleteParams{
		JobID:   jobID,
		RunID:   handleB.RunID,
		Owner:   "worker-b",
		Outcome: domain.OutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, final)

	// The resolved job cannot be resolved again.
	_, err = s.CompleteRun(ctx, CompleteParams{
		JobID:   jobID,
		RunID:   handleB.RunID,
		Owner:   "worker-b",
		Outcome: domain.OutcomeSucceeded,
	})
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestSweptButUnclaimedCompletionTolerated(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	jobID := enqueueTestJob(t, s, "act-swept", EnqueueParams{})

	require.True(t, s.Claim(ctx, jobID, "worker-a", time.Minute))
	handle, err := s.StartRun(ctx, jobID, "worker-a")
	require.NoError(t, err)

	// Swept, but nobody has re-claimed it yet.
	clock.Advance(2 * time.Minute)
	_, err = s.RequeueExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)

	// The slow worker's result is still accepted: the work really happened
	// and discarding it would only cause a redundant re-run.
	final, err := s.CompleteRun(ctx, CompleteParams{
		JobID:   jobID,
		RunID:   handle.RunID,
		Owner:   "worker-a",
		Outcome: domain.OutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, final)
}

func TestSetActivityHashes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	enqueueTestJob(t, s, "act-hash", EnqueueParams{})

	require.NoError(t, s.SetActivityHashes(ctx, "act-hash", ActivityHashes{
		TitleHash:   "t1",
		ContentHash: "c1",
	}))

	state, err := s.ActivityState(ctx, "act-hash")
	require.NoError(t, err)
	assert.Equal(t, "t1", state.TitleHash.String)
	assert.Equal(t, "c1", state.ContentHash.String)

	// Empty hashes leave stored values in place.
	require.NoError(t, s.SetActivityHashes(ctx, "act-hash", ActivityHashes{TitleHash: "t2"}))

	state, err = s.ActivityState(ctx, "act-hash")
	require.NoError(t, err)
	assert.Equal(t, "t2", state.TitleHash.String)
	assert.Equal(t, "c1", state.ContentHash.String)
}
