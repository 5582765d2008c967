// Package wallet owns the relayer's signing accounts. Wallets are handed
// out as exclusive leases; while a lease is held no other job can touch
// the same wallet, which is what makes on-chain nonce assignment safe.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/types"
)

var (
	ErrNoWallet   = errors.New("no wallet available")
	ErrPoolClosed = errors.New("wallet pool closed")
)

// successRateAlpha is the EWMA weight of the newest outcome.
const successRateAlpha = 0.2

var DefaultConfig = Config{
	Strategy:             StrategyRoundRobin,
	MinBalance:           new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)), // 1 ETH
	MinSuccessRate:       0.8,
	MaxNonceGap:          16,
	MaxInFlight:          5,
	AcquireTimeout:       10 * time.Second,
	RotationInterval:     5 * time.Minute,
	PerformanceThreshold: 0.5,
	BalanceInterval:      30 * time.Second,
}

type Config struct {
	Strategy             Strategy
	MinBalance           *big.Int      // below this a wallet is unhealthy (inclusive bound)
	MinSuccessRate       float64       // health requires success rate strictly above this
	MaxNonceGap          uint64        // tolerated gap between chain and tracked nonce
	MaxInFlight          int64         // global cap on concurrent submissions
	AcquireTimeout       time.Duration // how long Acquire blocks before giving up
	RotationInterval     time.Duration // scheduled rotation cadence
	PerformanceThreshold float64       // emergency rotation trigger
	BalanceInterval      time.Duration // balance monitor cadence
}

func (c *Config) String() string {
	return fmt.Sprintf("Strategy: %s, MinBalance: %v, MaxInFlight: %d, AcquireTimeout: %v, RotationInterval: %v",
		c.Strategy, c.MinBalance, c.MaxInFlight, c.AcquireTimeout, c.RotationInterval)
}

// wallet is the pool's internal account state. All fields are guarded by
// the pool mutex; the signing key never leaves the package.
type wallet struct {
	address common.Address
	key     *ecdsa.PrivateKey

	busy         bool // a lease is held
	inFlight     int
	totalTxs     uint64
	totalGasUsed uint64
	successRate  float64
	lastUsed     time.Time

	active     bool
	balance    *big.Int
	chainNonce uint64 // last nonce observed by the monitor
	nextNonce  uint64 // one past the last nonce assigned under a lease
	nonceKnown bool
}

// Pool manages the wallet set, the global in-flight permit and the
// background monitor/rotator loops.
type Pool struct {
	config Config
	client chain.Client

	mu      sync.Mutex
	wallets []*wallet
	closed  bool

	sem       *semaphore.Weighted
	freed     chan struct{} // pulsed on release and health recovery
	rotateNow chan struct{} // pulsed when a wallet degrades badly
	monitored mapset.Set[common.Address]

	rng  *rand.Rand
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPool builds a pool over the given signing keys.
func NewPool(client chain.Client, keys []*ecdsa.PrivateKey, config Config) (*Pool, error) {
	if len(keys) == 0 {
		return nil, errors.New("wallet pool needs at least one key")
	}
	p := &Pool{
		config:    config,
		client:    client,
		sem:       semaphore.NewWeighted(config.MaxInFlight),
		freed:     make(chan struct{}, 1),
		rotateNow: make(chan struct{}, 1),
		monitored: mapset.NewSet[common.Address](),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		quit:      make(chan struct{}),
	}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if p.monitored.Contains(addr) {
			return nil, fmt.Errorf("duplicate wallet key for %s", addr.Hex())
		}
		p.monitored.Add(addr)
		p.wallets = append(p.wallets, &wallet{
			address:     addr,
			key:         key,
			active:      true,
			successRate: 1.0,
			balance:     new(big.Int),
		})
	}
	walletGauge.Update(int64(len(p.wallets)))
	log.Info("Wallet pool initialized", "wallets", len(p.wallets), "strategy", config.Strategy)
	return p, nil
}

// Start refreshes balances once and launches the monitor and rotator.
func (p *Pool) Start() {
	p.refreshAccounts()
	p.wg.Add(2)
	go p.monitorLoop()
	go p.rotateLoop()
}

// Stop terminates the background loops. Held leases stay valid until
// released.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	close(p.quit)
	p.wg.Wait()
}

// Acquire blocks until a healthy idle wallet and a global in-flight
// permit are both available, up to the configured bound. The priority is
// recorded for observability only; selection does not depend on it.
func (p *Pool) Acquire(ctx context.Context, priority types.Priority) (*Lease, error) {
	start := time.Now()
	defer func() { acquireTimer.Update(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		acquireFailMeter.Mark(1)
		return nil, fmt.Errorf("%w: in-flight limit", ErrNoWallet)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, ErrPoolClosed
		}
		if w := p.selectLocked(); w != nil {
			w.busy = true
			w.inFlight++
			w.lastUsed = time.Now()
			p.mu.Unlock()
			acquireMeter.Mark(1)
			log.Debug("Wallet leased", "wallet", w.address, "priority", priority)
			return &Lease{pool: p, w: w}, nil
		}
		p.mu.Unlock()

		select {
		case <-p.freed:
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			p.sem.Release(1)
			acquireFailMeter.Mark(1)
			return nil, fmt.Errorf("%w: no healthy wallet within %v", ErrNoWallet, p.config.AcquireTimeout)
		}
	}
}

// selectLocked picks a healthy idle wallet per the configured strategy.
// Caller holds the lock.
func (p *Pool) selectLocked() *wallet {
	var candidates []*wallet
	for _, w := range p.wallets {
		if !w.busy && p.healthyLocked(w) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	switch p.config.Strategy {
	case StrategyLeastUsed:
		best := candidates[0]
		for _, w := range candidates[1:] {
			if w.totalTxs < best.totalTxs {
				best = w
			}
		}
		return best
	case StrategyBestPerformance:
		best := candidates[0]
		for _, w := range candidates[1:] {
			if w.successRate > best.successRate {
				best = w
			}
		}
		return best
	case StrategyRandom:
		return candidates[p.rng.Intn(len(candidates))]
	default: // round-robin: oldest last-used first
		best := candidates[0]
		for _, w := range candidates[1:] {
			if w.lastUsed.Before(best.lastUsed) {
				best = w
			}
		}
		return best
	}
}

// healthyLocked applies the health predicate. The balance bound is
// inclusive; the success-rate bound is exclusive. Caller holds the lock.
func (p *Pool) healthyLocked(w *wallet) bool {
	if !w.active || w.successRate <= p.config.MinSuccessRate {
		return false
	}
	if w.balance.Cmp(p.config.MinBalance) < 0 {
		return false
	}
	if w.nonceKnown && w.chainNonce > w.nextNonce &&
		w.chainNonce-w.nextNonce > p.config.MaxNonceGap {
		return false
	}
	return true
}

// release is called by Lease.Release exactly once.
func (p *Pool) release(w *wallet, outcome Outcome) {
	p.mu.Lock()
	w.busy = false
	w.inFlight--
	w.totalTxs++
	w.lastUsed = time.Now()

	observed := 0.0
	if outcome.Ok {
		observed = 1.0
		w.totalGasUsed += outcome.GasUsed
		successMeter.Mark(1)
	} else {
		failureMeter.Mark(1)
	}
	w.successRate = (1-successRateAlpha)*w.successRate + successRateAlpha*observed

	degraded := w.successRate < p.config.PerformanceThreshold
	addr, rate := w.address, w.successRate
	p.mu.Unlock()

	p.sem.Release(1)
	select {
	case p.freed <- struct{}{}:
	default:
	}

	if degraded {
		log.Warn("Wallet performance degraded", "wallet", addr, "rate", rate)
		select {
		case p.rotateNow <- struct{}{}:
		default:
		}
	}
}

// SetActive flips the administrative active flag of a wallet.
func (p *Pool) SetActive(addr common.Address, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.wallets {
		if w.address == addr {
			w.active = active
			return true
		}
	}
	return false
}

// Addresses lists the pool accounts.
func (p *Pool) Addresses() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.Address, len(p.wallets))
	for i, w := range p.wallets {
		out[i] = w.address
	}
	return out
}

// rotate reorders the preference order per the strategy. For round-robin
// the head wallet moves to the tail; the other strategies re-sort by
// their criterion so ties in selection break toward the preferred order.
func (p *Pool) rotate(reason string) {
	p.mu.Lock()
	switch p.config.Strategy {
	case StrategyRandom:
		p.rng.Shuffle(len(p.wallets), func(i, j int) {
			p.wallets[i], p.wallets[j] = p.wallets[j], p.wallets[i]
		})
	case StrategyLeastUsed:
		sort.SliceStable(p.wallets, func(i, j int) bool {
			return p.wallets[i].totalTxs < p.wallets[j].totalTxs
		})
	case StrategyBestPerformance:
		sort.SliceStable(p.wallets, func(i, j int) bool {
			return p.wallets[i].successRate > p.wallets[j].successRate
		})
	default:
		if len(p.wallets) > 1 {
			head := p.wallets[0]
			copy(p.wallets, p.wallets[1:])
			p.wallets[len(p.wallets)-1] = head
		}
	}
	p.mu.Unlock()
	rotationMeter.Mark(1)
	log.Debug("Wallet pool rotated", "reason", reason)
}

// Snapshot is a read-only view of one wallet for the stats surface.
type Snapshot struct {
	Address     common.Address `json:"address"`
	Balance     string         `json:"balance"`
	SuccessRate float64        `json:"success_rate"`
	TotalTxs    uint64         `json:"total_transactions"`
	InFlight    int            `json:"in_flight"`
	Active      bool           `json:"active"`
	Healthy     bool           `json:"healthy"`
}

// Stats summarizes the pool.
type Stats struct {
	Total    int        `json:"total_wallets"`
	Healthy  int        `json:"healthy_wallets"`
	Busy     int        `json:"busy_wallets"`
	Strategy Strategy   `json:"strategy"`
	Wallets  []Snapshot `json:"wallets"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Total: len(p.wallets), Strategy: p.config.Strategy}
	for _, w := range p.wallets {
		healthy := p.healthyLocked(w)
		if healthy {
			st.Healthy++
		}
		if w.busy {
			st.Busy++
		}
		st.Wallets = append(st.Wallets, Snapshot{
			Address:     w.address,
			Balance:     w.balance.String(),
			SuccessRate: w.successRate,
			TotalTxs:    w.totalTxs,
			InFlight:    w.inFlight,
			Active:      w.active,
			Healthy:     healthy,
		})
	}
	healthyGauge.Update(int64(st.Healthy))
	return st
}
