package scheduler

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/relayer/types"
)

func testConfig() Config {
	cfg := DefaultConfig
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func testIntent(priority types.Priority) *types.Intent {
	return &types.Intent{
		Sender:    common.HexToAddress("0x1"),
		Target:    common.HexToAddress("0x2"),
		Value:     big.NewInt(0),
		GasLimit:  21000,
		GasFeeCap: big.NewInt(20_000_000_000),
		GasTipCap: big.NewInt(2_000_000_000),
		Nonce:     1,
		Priority:  priority,
		Timestamp: time.Now(),
	}
}

func TestScheduleAndNext(t *testing.T) {
	s := New(testConfig())

	id, err := s.Schedule(testIntent(types.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, StatePending, s.StateOf(id))

	job := s.Next()
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Nil(t, s.Next(), "queue should be empty")
}

func TestPriorityOrdering(t *testing.T) {
	s := New(testConfig())

	// Enqueue [L, N, H, C, L]; expected dequeue order [C, H, N, L, L].
	order := []types.Priority{
		types.PriorityLow, types.PriorityNormal, types.PriorityHigh,
		types.PriorityCritical, types.PriorityLow,
	}
	for _, p := range order {
		_, err := s.Schedule(testIntent(p))
		require.NoError(t, err)
	}

	want := []types.Priority{
		types.PriorityCritical, types.PriorityHigh, types.PriorityNormal,
		types.PriorityLow, types.PriorityLow,
	}
	for i, p := range want {
		job := s.Next()
		require.NotNil(t, job, "job %d", i)
		if job.Intent.Priority != p {
			t.Errorf("dequeue %d: priority %s, want %s", i, job.Intent.Priority, p)
		}
	}
}

func TestEqualPriorityFIFO(t *testing.T) {
	s := New(testConfig())

	first, _ := s.Schedule(testIntent(types.PriorityNormal))
	time.Sleep(time.Millisecond)
	second, _ := s.Schedule(testIntent(types.PriorityNormal))

	assert.Equal(t, first, s.Next().ID)
	assert.Equal(t, second, s.Next().ID)
}

func TestQueueFullBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 3
	s := New(cfg)

	for i := 0; i < 3; i++ {
		_, err := s.Schedule(testIntent(types.PriorityNormal))
		require.NoError(t, err)
	}

	// At exactly the cap further schedules are rejected.
	_, err := s.Schedule(testIntent(types.PriorityNormal))
	assert.ErrorIs(t, err, ErrQueueFull)

	// One pop frees one slot.
	require.NotNil(t, s.Next())
	_, err = s.Schedule(testIntent(types.PriorityNormal))
	assert.NoError(t, err)
}

func TestCompleteMovesToResults(t *testing.T) {
	s := New(testConfig())
	id, _ := s.Schedule(testIntent(types.PriorityNormal))

	job := s.Next()
	s.Begin(job)
	assert.Equal(t, StateProcessing, s.StateOf(id))

	txHash := common.HexToHash("0xabc")
	s.Complete(job, true, txHash, "")
	assert.Equal(t, StateCompleted, s.StateOf(id))

	result, ok := s.ResultOf(id)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, txHash, result.TxHash)
	assert.Equal(t, 1, result.Attempts)
}

func TestRetryBackoffAndBudget(t *testing.T) {
	var failures []string
	cfg := testConfig()
	cfg.MaxRetries = 2
	s := New(cfg)
	s.SetFailureHook(func(id uuid.UUID, reason string) {
		failures = append(failures, reason)
	})

	id, _ := s.Schedule(testIntent(types.PriorityNormal))
	job := s.Next()
	require.NotNil(t, job)

	// First retry: scheduled_at advances, the job comes back after the
	// backoff.
	s.Begin(job)
	s.Retry(job)
	assert.Nil(t, s.Next(), "backoff not elapsed yet")
	time.Sleep(15 * time.Millisecond)
	job = s.Next()
	require.NotNil(t, job)
	assert.Equal(t, 1, job.RetryCount)

	// Exhaust the budget: the third retry is rejected and the job
	// fails terminally.
	s.Begin(job)
	s.Retry(job)
	time.Sleep(25 * time.Millisecond)
	job = s.Next()
	require.NotNil(t, job)
	assert.Equal(t, 2, job.RetryCount)

	s.Begin(job)
	s.Retry(job)
	assert.Equal(t, StateFailed, s.StateOf(id))

	result, ok := s.ResultOf(id)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.Equal(t, maxRetriesReason, result.Err)
	// Total attempts stay within max_retries + 1.
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []string{maxRetriesReason}, failures)
}

func TestCancelFromQueue(t *testing.T) {
	s := New(testConfig())
	id, _ := s.Schedule(testIntent(types.PriorityNormal))

	assert.True(t, s.Cancel(id))
	assert.Equal(t, StateCancelled, s.StateOf(id))
	assert.Nil(t, s.Next(), "cancelled job must not be dispatched")

	// Cancel is idempotent: a second call removes nothing but the
	// state stays cancelled.
	assert.False(t, s.Cancel(id))
	assert.Equal(t, StateCancelled, s.StateOf(id))
}

func TestCancelFromProcessing(t *testing.T) {
	s := New(testConfig())
	id, _ := s.Schedule(testIntent(types.PriorityNormal))
	job := s.Next()
	s.Begin(job)

	assert.True(t, s.Cancel(id))
	assert.Equal(t, StateCancelled, s.StateOf(id))
}

func TestCancelUnknownJob(t *testing.T) {
	s := New(testConfig())
	assert.False(t, s.Cancel(uuid.New()))
}

func TestCancelMiddleOfHeap(t *testing.T) {
	s := New(testConfig())

	keep1, _ := s.Schedule(testIntent(types.PriorityCritical))
	victim, _ := s.Schedule(testIntent(types.PriorityNormal))
	keep2, _ := s.Schedule(testIntent(types.PriorityLow))

	require.True(t, s.Cancel(victim))

	assert.Equal(t, keep1, s.Next().ID)
	assert.Equal(t, keep2, s.Next().ID)
	assert.Nil(t, s.Next())
}

func TestDynamicAgeBoost(t *testing.T) {
	now := time.Now()
	job := &types.Job{
		Intent:    testIntent(types.PriorityNormal),
		CreatedAt: now,
	}

	fresh := effectiveWeight(job, now, Factors{UserTierMultiplier: 1.0})
	assert.Equal(t, 2.0, fresh)

	aged := effectiveWeight(job, now.Add(6*time.Minute), Factors{UserTierMultiplier: 1.0})
	assert.InDelta(t, 2.4, aged, 1e-9, "jobs older than five minutes get boosted")

	tiered := effectiveWeight(job, now, Factors{UserTierMultiplier: 2.0})
	assert.Equal(t, 4.0, tiered)

	lowGas := effectiveWeight(job, now, Factors{UserTierMultiplier: 1.0, GasPriceRatio: 0.5})
	assert.InDelta(t, 2.1, lowGas, 1e-9)
}

func TestClosedSchedulerRejects(t *testing.T) {
	s := New(testConfig())
	s.Close()
	_, err := s.Schedule(testIntent(types.PriorityNormal))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResultSetEviction(t *testing.T) {
	rs := newResultSet(2)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		rs.Add(&Result{JobID: id, CompletedAt: time.Now()})
	}

	// Oldest evicted at the cap.
	if _, ok := rs.Get(ids[0]); ok {
		t.Error("oldest result should have been evicted")
	}
	_, ok := rs.Get(ids[2])
	assert.True(t, ok)
	assert.Equal(t, 2, rs.Len())
}

func TestResultSetAging(t *testing.T) {
	rs := newResultSet(10)
	rs.Add(&Result{JobID: uuid.New(), CompletedAt: time.Now().Add(-time.Hour)})
	rs.Add(&Result{JobID: uuid.New(), CompletedAt: time.Now()})

	removed := rs.ClearOlderThan(time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, rs.Len())
}
