package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/relayer/types"
	"github.com/mantlenetworkio/relayer/wallet"
)

// Engine executes one job under a wallet lease and returns the broadcast
// transaction hash. Errors marked transient (and attempt timeouts) are
// retried; everything else is terminal.
type Engine interface {
	Execute(ctx context.Context, job *types.Job, lease *wallet.Lease) (common.Hash, error)
}

// Workers drain the scheduler. Each worker loops: pop a job, lease a
// wallet, execute, release, then complete or retry. Stopping waits for
// in-flight executions; nothing is killed mid-submission.
type Workers struct {
	sched  *Scheduler
	pool   *wallet.Pool
	engine Engine

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewWorkers(sched *Scheduler, pool *wallet.Pool, engine Engine) *Workers {
	return &Workers{
		sched:  sched,
		pool:   pool,
		engine: engine,
		quit:   make(chan struct{}),
	}
}

func (w *Workers) Start() {
	n := w.sched.config.Workers
	if n <= 0 {
		n = DefaultConfig.Workers
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	log.Info("Relay workers started", "count", n)
}

func (w *Workers) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *Workers) run(id int) {
	defer w.wg.Done()
	logger := log.New("worker", id)

	for {
		select {
		case <-w.quit:
			return
		default:
		}

		job := w.sched.Next()
		if job == nil {
			select {
			case <-w.sched.notify:
			case <-time.After(100 * time.Millisecond):
			case <-w.quit:
				return
			}
			continue
		}
		w.process(logger, job)
	}
}

func (w *Workers) process(logger log.Logger, job *types.Job) {
	lease, err := w.pool.Acquire(context.Background(), job.Intent.Priority)
	if err != nil {
		// Backpressure: no wallet or no in-flight permit inside the
		// bound. Push the job back with backoff.
		backpressureMeter.Mark(1)
		logger.Debug("No wallet for job, rescheduling", "job", job.ID, "err", err)
		w.sched.Retry(job)
		return
	}

	w.sched.Begin(job)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.sched.config.ProcessingTimeout)
	txHash, err := w.engine.Execute(ctx, job, lease)
	cancel()
	executeTimer.Update(time.Since(start))

	if err == nil {
		lease.Release(wallet.Outcome{Ok: true})
		w.sched.Complete(job, true, txHash, "")
		return
	}

	lease.Release(wallet.Outcome{Ok: false})
	if types.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("Job attempt failed, retrying", "job", job.ID, "attempt", job.Attempts(), "err", err)
		w.sched.Retry(job)
		return
	}
	logger.Error("Job failed", "job", job.ID, "err", err)
	w.sched.Complete(job, false, common.Hash{}, err.Error())
}
