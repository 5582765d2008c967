// Package scheduler owns job admission and ordering: a priority heap of
// pending jobs, the processing set, retry with linear backoff, and
// cancellation. Workers drain the heap and hand jobs to the execution
// engine.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/types"
)

var (
	ErrQueueFull = errors.New("scheduler queue full")
	ErrClosed    = errors.New("scheduler closed")
)

// maxRetriesReason is the terminal failure reason after retry exhaustion.
const maxRetriesReason = "max retries exceeded"

// JobState is the scheduler's view of a job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
	StateNotFound   JobState = "not-found"
)

var DefaultConfig = Config{
	MaxQueueSize:      1000,
	MaxRetries:        3,
	RetryDelay:        5 * time.Second,
	ProcessingTimeout: 5 * time.Minute,
	Workers:           4,
	ResultHistory:     4096,
	ResultRetention:   24 * time.Hour,
	DynamicPriority:   true,
}

type Config struct {
	MaxQueueSize      int           // schedule rejects past this
	MaxRetries        int           // attempts <= MaxRetries+1
	RetryDelay        time.Duration // backoff = RetryDelay * retry count
	ProcessingTimeout time.Duration // per-attempt execution bound
	Workers           int
	ResultHistory     int           // bounded result table size
	ResultRetention   time.Duration // aging bound for result tables
	DynamicPriority   bool          // enable weight adjustment
}

func (c *Config) String() string {
	return fmt.Sprintf("MaxQueueSize: %d, MaxRetries: %d, RetryDelay: %v, ProcessingTimeout: %v, Workers: %d",
		c.MaxQueueSize, c.MaxRetries, c.RetryDelay, c.ProcessingTimeout, c.Workers)
}

// Scheduler is safe for concurrent use. Heap operations never suspend
// while holding the lock.
type Scheduler struct {
	config Config

	mu         sync.Mutex
	queue      jobQueue
	queued     map[uuid.UUID]*queueItem
	processing map[uuid.UUID]*types.Job
	closed     bool

	completed *resultSet
	failed    *resultSet

	notify chan struct{} // pulsed on schedule/retry to wake idle workers

	// onFailure runs (outside the lock) when the scheduler itself
	// decides a terminal failure, so the caller can persist it.
	onFailure func(id uuid.UUID, reason string)

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func New(config Config) *Scheduler {
	return &Scheduler{
		config:     config,
		queued:     make(map[uuid.UUID]*queueItem),
		processing: make(map[uuid.UUID]*types.Job),
		completed:  newResultSet(config.ResultHistory),
		failed:     newResultSet(config.ResultHistory),
		notify:     make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
}

// SetFailureHook registers the terminal-failure callback. Must be called
// before Start.
func (s *Scheduler) SetFailureHook(hook func(id uuid.UUID, reason string)) {
	s.onFailure = hook
}

// Start launches the result-table aging sweep.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Close stops admission. Queued jobs remain drainable by the workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Stop terminates the background sweep.
func (s *Scheduler) Stop() {
	s.Close()
	s.quitOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

// Schedule admits an intent with neutral adjustment factors.
func (s *Scheduler) Schedule(intent *types.Intent) (uuid.UUID, error) {
	return s.ScheduleWithFactors(intent, Factors{UserTierMultiplier: 1.0})
}

// ScheduleWithFactors admits an intent, computes its effective weight and
// enqueues the job, preserving the priority invariant.
func (s *Scheduler) ScheduleWithFactors(intent *types.Intent, factors Factors) (uuid.UUID, error) {
	now := time.Now()
	job := &types.Job{
		ID:          uuid.New(),
		Intent:      intent,
		Weight:      float64(intent.Priority.Weight()),
		CreatedAt:   now,
		ScheduledAt: now,
		MaxRetries:  s.config.MaxRetries,
	}
	if s.config.DynamicPriority {
		job.Weight = effectiveWeight(job, now, factors)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	if len(s.queued) >= s.config.MaxQueueSize {
		s.mu.Unlock()
		queueFullMeter.Mark(1)
		return uuid.Nil, ErrQueueFull
	}
	item := &queueItem{job: job}
	heap.Push(&s.queue, item)
	s.queued[job.ID] = item
	depth := len(s.queued)
	s.mu.Unlock()

	queueDepthGauge.Update(int64(depth))
	scheduledMeter.Mark(1)
	s.wake()
	log.Debug("Job scheduled", "job", job.ID, "priority", intent.Priority, "weight", job.Weight)
	return job.ID, nil
}

// Next pops the highest-priority due job, or nil when the queue is empty
// or the head's backoff has not elapsed. Only workers call this.
func (s *Scheduler) Next() *types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return nil
	}
	if s.queue[0].job.ScheduledAt.After(time.Now()) {
		return nil
	}
	item := heap.Pop(&s.queue).(*queueItem)
	delete(s.queued, item.job.ID)
	queueDepthGauge.Update(int64(len(s.queued)))
	return item.job
}

// Begin moves a popped job into the processing set. The caller holds a
// concurrency permit and a wallet lease.
func (s *Scheduler) Begin(job *types.Job) {
	s.mu.Lock()
	s.processing[job.ID] = job
	processingGauge.Update(int64(len(s.processing)))
	s.mu.Unlock()
}

// Complete terminally finishes a job from the scheduler's perspective and
// records the outcome in the bounded result tables.
func (s *Scheduler) Complete(job *types.Job, success bool, txHash common.Hash, errMsg string) {
	s.mu.Lock()
	delete(s.processing, job.ID)
	processingGauge.Update(int64(len(s.processing)))
	s.mu.Unlock()

	result := &Result{
		JobID:       job.ID,
		Success:     success,
		TxHash:      txHash,
		Err:         errMsg,
		Attempts:    job.Attempts(),
		CompletedAt: time.Now(),
	}
	if success {
		completedMeter.Mark(1)
		s.completed.Add(result)
	} else {
		failedMeter.Mark(1)
		s.failed.Add(result)
		if s.onFailure != nil {
			s.onFailure(job.ID, errMsg)
		}
	}
	log.Debug("Job completed", "job", job.ID, "success", success, "attempts", result.Attempts)
}

// Retry re-enqueues a job after a transient failure with linear backoff.
// Past the retry budget the job fails terminally instead.
func (s *Scheduler) Retry(job *types.Job) {
	s.mu.Lock()
	delete(s.processing, job.ID)
	s.mu.Unlock()

	job.RetryCount++
	if job.RetryCount > job.MaxRetries {
		log.Warn("Job exhausted retries", "job", job.ID, "attempts", job.Attempts()-1)
		// The last increment exceeded the budget and is not an attempt.
		job.RetryCount--
		s.Complete(job, false, common.Hash{}, maxRetriesReason)
		return
	}

	now := time.Now()
	job.ScheduledAt = now.Add(time.Duration(job.RetryCount) * s.config.RetryDelay)
	if s.config.DynamicPriority {
		job.Weight = effectiveWeight(job, now, Factors{UserTierMultiplier: 1.0})
	}

	s.mu.Lock()
	if s.closed {
		// Shutdown drains without re-admission; fail the job instead
		// of dropping it silently.
		s.mu.Unlock()
		s.Complete(job, false, common.Hash{}, "scheduler closed during retry")
		return
	}
	item := &queueItem{job: job}
	heap.Push(&s.queue, item)
	s.queued[job.ID] = item
	s.mu.Unlock()

	retryMeter.Mark(1)
	s.wake()
	log.Debug("Job rescheduled", "job", job.ID, "retry", job.RetryCount, "at", job.ScheduledAt)
}

// Cancel atomically removes a job from the priority queue or the
// processing set. It reports whether anything was removed; a job already
// handed to the engine proceeds on chain regardless.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	if item, ok := s.queued[id]; ok {
		heap.Remove(&s.queue, item.index)
		delete(s.queued, id)
		job := item.job
		s.mu.Unlock()
		s.failed.Add(&Result{
			JobID:       id,
			Cancelled:   true,
			Attempts:    job.Attempts() - 1,
			CompletedAt: time.Now(),
		})
		cancelledMeter.Mark(1)
		log.Debug("Job cancelled from queue", "job", id)
		return true
	}
	if _, ok := s.processing[id]; ok {
		delete(s.processing, id)
		s.mu.Unlock()
		s.failed.Add(&Result{
			JobID:       id,
			Cancelled:   true,
			CompletedAt: time.Now(),
		})
		cancelledMeter.Mark(1)
		log.Debug("Job cancelled while processing", "job", id)
		return true
	}
	s.mu.Unlock()
	return false
}

// StateOf reports where a job currently lives.
func (s *Scheduler) StateOf(id uuid.UUID) JobState {
	s.mu.Lock()
	if _, ok := s.queued[id]; ok {
		s.mu.Unlock()
		return StatePending
	}
	if _, ok := s.processing[id]; ok {
		s.mu.Unlock()
		return StateProcessing
	}
	s.mu.Unlock()

	if _, ok := s.completed.Get(id); ok {
		return StateCompleted
	}
	if r, ok := s.failed.Get(id); ok {
		if r.Cancelled {
			return StateCancelled
		}
		return StateFailed
	}
	return StateNotFound
}

// ResultOf returns the terminal result of a job, if any.
func (s *Scheduler) ResultOf(id uuid.UUID) (*Result, bool) {
	if r, ok := s.completed.Get(id); ok {
		return r, true
	}
	return s.failed.Get(id)
}

// Stats describes the scheduler state.
type Stats struct {
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	MaxQueueSize int `json:"max_queue_size"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending, processing := len(s.queued), len(s.processing)
	s.mu.Unlock()
	return Stats{
		Pending:      pending,
		Processing:   processing,
		Completed:    s.completed.Len(),
		Failed:       s.failed.Len(),
		MaxQueueSize: s.config.MaxQueueSize,
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := s.completed.ClearOlderThan(s.config.ResultRetention)
			n += s.failed.ClearOlderThan(s.config.ResultRetention)
			if n > 0 {
				log.Debug("Cleared aged job results", "count", n)
			}
		case <-s.quit:
			return
		}
	}
}
