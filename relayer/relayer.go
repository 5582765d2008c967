// Package relayer wires the execution pipeline: admission (signature and
// replay checks), scheduling, wallet-backed execution, confirmation
// tracking and persistence. Components communicate through narrow handles
// and a completion hook rather than back-pointers.
package relayer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/eip712"
	"github.com/mantlenetworkio/relayer/executor"
	"github.com/mantlenetworkio/relayer/gasprice"
	"github.com/mantlenetworkio/relayer/replay"
	"github.com/mantlenetworkio/relayer/scheduler"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/tracker"
	"github.com/mantlenetworkio/relayer/types"
	"github.com/mantlenetworkio/relayer/wallet"
)

var DefaultConfig = Config{
	EIP712:          eip712.DefaultConfig,
	Replay:          replay.DefaultConfig,
	Gas:             gasprice.DefaultConfig,
	Wallet:          wallet.DefaultConfig,
	Scheduler:       scheduler.DefaultConfig,
	Tracker:         tracker.DefaultConfig,
	ShutdownTimeout: 30 * time.Second,
}

type Config struct {
	EIP712    eip712.Config
	Replay    replay.Config
	Gas       gasprice.Config
	Wallet    wallet.Config
	Scheduler scheduler.Config
	Tracker   tracker.Config

	// ShutdownTimeout bounds the drain of the heap and the tracker on
	// graceful shutdown.
	ShutdownTimeout time.Duration
}

// Relayer owns the pipeline components and their lifecycles.
type Relayer struct {
	config Config
	client chain.Client
	store  storage.Store

	verifier *eip712.Verifier
	guard    *replay.Guard
	oracle   *gasprice.Oracle
	pool     *wallet.Pool
	sched    *scheduler.Scheduler
	engine   *executor.Engine
	tracker  *tracker.Tracker
	workers  *scheduler.Workers

	stopOnce sync.Once
}

// New assembles the pipeline. The EIP-712 domain chain id is taken from
// the connected chain when the config leaves it unset.
func New(ctx context.Context, client chain.Client, store storage.Store, keys []*ecdsa.PrivateKey, config Config) (*Relayer, error) {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig.ShutdownTimeout
	}
	if config.EIP712.ChainID == nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
		config.EIP712.ChainID = chainID
	}

	pool, err := wallet.NewPool(client, keys, config.Wallet)
	if err != nil {
		return nil, err
	}

	r := &Relayer{
		config:   config,
		client:   client,
		store:    store,
		verifier: eip712.NewVerifier(config.EIP712),
		guard:    replay.NewGuard(config.Replay),
		oracle:   gasprice.NewOracle(client, config.Gas),
		pool:     pool,
		sched:    scheduler.New(config.Scheduler),
		tracker:  tracker.New(client, store, config.Tracker),
	}
	r.engine = executor.New(client, r.oracle, store, r.tracker)
	r.workers = scheduler.NewWorkers(r.sched, r.pool, r.engine)

	// Terminal failures decided inside the scheduler (fatal errors,
	// retry exhaustion) flow back into the record through this hook.
	r.sched.SetFailureHook(func(id uuid.UUID, reason string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.UpdateStatus(ctx, id, types.StatusUpdate{
			Status:       types.StatusFailed,
			ErrorMessage: &reason,
		}); err != nil {
			log.Error("Failed to persist job failure", "job", id, "err", err)
		}
	})
	return r, nil
}

// Start verifies chain connectivity and launches every background loop.
func (r *Relayer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := r.client.ChainID(ctx); err != nil {
			return fmt.Errorf("chain unreachable: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := r.client.BlockNumber(ctx); err != nil {
			return fmt.Errorf("chain head unreachable: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.guard.Start()
	r.oracle.Start()
	r.pool.Start()
	r.sched.Start()
	r.tracker.Start()
	r.workers.Start()
	log.Info("Relayer started")
	return nil
}

// Stop shuts the pipeline down gracefully: admission closes first, then
// the heap and the tracker drain inside the shutdown bound, and no worker
// is interrupted mid-submission. Safe to call more than once.
func (r *Relayer) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *Relayer) stop() {
	log.Info("Relayer stopping")
	r.sched.Close()

	deadline := time.Now().Add(r.config.ShutdownTimeout)
	for time.Now().Before(deadline) {
		st := r.sched.Stats()
		if st.Pending == 0 && st.Processing == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	r.workers.Stop()

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	for r.tracker.PendingCount() > 0 && time.Now().Before(deadline) {
		r.tracker.Poll(ctx)
		time.Sleep(100 * time.Millisecond)
	}
	cancel()

	r.tracker.Stop()
	r.oracle.Stop()
	r.pool.Stop()
	r.guard.Stop()
	r.sched.Stop()
	log.Info("Relayer stopped")
}

// Submit runs the admission pipeline for one intent: authenticate,
// consult the replay guard, schedule, persist the pending record. The
// returned id keys the record and all status queries.
func (r *Relayer) Submit(ctx context.Context, intent *types.Intent) (uuid.UUID, error) {
	// A nonce already inside the replay window is a replay regardless
	// of what the signature looks like; check it before the verifier
	// so duplicates surface as such.
	if r.guard.IsUsed(intent.Sender, intent.Nonce) {
		return uuid.Nil, fmt.Errorf("%w: sender %s nonce %d", replay.ErrReplay, intent.Sender.Hex(), intent.Nonce)
	}
	if err := r.verifier.Verify(intent); err != nil {
		return uuid.Nil, err
	}

	// Reject on a full queue before burning the replay nonce.
	if st := r.sched.Stats(); st.Pending >= st.MaxQueueSize {
		return uuid.Nil, scheduler.ErrQueueFull
	}
	if err := r.guard.CheckAndRecord(intent.Sender, intent.Nonce); err != nil {
		return uuid.Nil, err
	}

	id, err := r.sched.ScheduleWithFactors(intent, scheduler.Factors{
		UserTierMultiplier: 1.0,
		GasPriceRatio:      r.gasRatio(intent),
	})
	if err != nil {
		return uuid.Nil, err
	}

	if err := r.store.CreateTransaction(ctx, types.NewRecord(id, intent)); err != nil {
		// The job is already queued; the chain and the in-memory state
		// stay authoritative over a missing record.
		log.Error("Failed to persist transaction record", "job", id, "err", err)
	}
	return id, nil
}

// gasRatio compares the user's max fee against the current oracle quote
// for the dynamic-priority boost. Zero when no sample is available.
func (r *Relayer) gasRatio(intent *types.Intent) float64 {
	cur, err := r.oracle.Current()
	if err != nil || cur.MaxFeePerGas.Sign() == 0 {
		return 0
	}
	user, _ := new(big.Float).SetInt(intent.GasFeeCap).Float64()
	rec, _ := new(big.Float).SetInt(cur.MaxFeePerGas).Float64()
	if rec == 0 {
		return 0
	}
	return user / rec
}

// Status returns the persisted record for a job.
func (r *Relayer) Status(ctx context.Context, id uuid.UUID) (*types.TransactionRecord, error) {
	return r.store.GetTransaction(ctx, id)
}

// List pages through a sender's records.
func (r *Relayer) List(ctx context.Context, sender common.Address, page, limit int) ([]*types.TransactionRecord, int, error) {
	return r.store.ListBySender(ctx, sender, page, limit)
}

// Cancel removes a job from the queue or the processing set when it has
// not been submitted yet, and marks the record. After submission only the
// record is marked; the broadcast proceeds. Idempotent.
func (r *Relayer) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	removed := r.sched.Cancel(id)

	if err := r.store.UpdateStatus(ctx, id, types.StatusUpdate{
		Status: types.StatusCancelled,
	}); err != nil && err != storage.ErrNotFound {
		return removed, err
	}
	return removed, nil
}

// NextNonce returns the next user nonce the sender should sign with.
func (r *Relayer) NextNonce(sender common.Address) uint64 {
	return r.guard.NextNonce(sender)
}

// GasQuote returns the oracle recommendation for a priority class.
func (r *Relayer) GasQuote(priority types.Priority) (gasprice.Quote, error) {
	return r.oracle.Recommend(priority)
}

// GasTrend exposes the oracle's trend comparison.
func (r *Relayer) GasTrend() gasprice.Trend {
	return r.oracle.TrendNow()
}

// Stats aggregates the component stats surfaces.
type Stats struct {
	Scheduler scheduler.Stats         `json:"scheduler"`
	Wallets   wallet.Stats            `json:"wallets"`
	Tracker   tracker.Stats           `json:"tracker"`
	Replay    replay.Stats            `json:"replay"`
	Gas       gasprice.Stats          `json:"gas"`
	Records   *storage.AggregateStats `json:"records,omitempty"`
}

func (r *Relayer) Stats(ctx context.Context) Stats {
	st := Stats{
		Scheduler: r.sched.Stats(),
		Wallets:   r.pool.Stats(),
		Tracker:   r.tracker.Stats(),
		Replay:    r.guard.Stats(),
		Gas:       r.oracle.Stats(),
	}
	if agg, err := r.store.AggregateStats(ctx, 24*time.Hour); err == nil {
		st.Records = agg
	} else {
		log.Warn("Aggregate stats query failed", "err", err)
	}
	return st
}
