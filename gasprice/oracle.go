// Package gasprice keeps a rolling window of fee samples from the chain
// and turns them into per-priority gas recommendations for the execution
// engine.
package gasprice

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/types"
)

// Trend compares the two most recent samples.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

var DefaultConfig = Config{
	SampleInterval: 15 * time.Second,
	HistorySize:    1000,
	Headroom:       1.1,
	MinGasPrice:    big.NewInt(1_000_000_000),   // 1 gwei
	MaxGasPrice:    big.NewInt(100_000_000_000), // 100 gwei
}

type Config struct {
	SampleInterval time.Duration
	HistorySize    int      // bounded sample history length
	Headroom       float64  // safety multiplier applied to quotes
	MinGasPrice    *big.Int // clamp floor for max fee and tip
	MaxGasPrice    *big.Int // clamp ceiling for max fee and tip
}

func (c *Config) String() string {
	return fmt.Sprintf("SampleInterval: %v, HistorySize: %d, Headroom: %.2f, MinGasPrice: %v, MaxGasPrice: %v",
		c.SampleInterval, c.HistorySize, c.Headroom, c.MinGasPrice, c.MaxGasPrice)
}

// Quote is one fee observation, or a recommendation derived from one.
type Quote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	BlockNumber          uint64
	SampledAt            time.Time
}

// Tier multipliers per priority class. The critical tip multiplier is
// deliberately below its fee multiplier so a critical bid raises the cap
// more than the tip.
var (
	feeMultipliers = map[types.Priority]float64{
		types.PriorityLow:      0.8,
		types.PriorityNormal:   1.0,
		types.PriorityHigh:     1.2,
		types.PriorityCritical: 1.5,
	}
	tipMultipliers = map[types.Priority]float64{
		types.PriorityLow:      0.8,
		types.PriorityNormal:   1.0,
		types.PriorityHigh:     1.2,
		types.PriorityCritical: 1.3,
	}
)

// Oracle samples fees at a fixed interval. The sampler is the single
// writer; readers take the latest sample from an atomic pointer without
// waiting on it.
type Oracle struct {
	config Config
	client chain.Client

	latest atomic.Pointer[Quote]

	mu      sync.Mutex // guards the ring below
	history []Quote
	next    int
	full    bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewOracle(client chain.Client, config Config) *Oracle {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultConfig.HistorySize
	}
	return &Oracle{
		config:  config,
		client:  client,
		history: make([]Quote, config.HistorySize),
		quit:    make(chan struct{}),
	}
}

// Start takes an initial sample and launches the sampler loop.
func (o *Oracle) Start() {
	if err := o.Sample(context.Background()); err != nil {
		log.Warn("Initial gas sample failed", "err", err)
	}
	o.wg.Add(1)
	go o.sampleLoop()
}

func (o *Oracle) Stop() {
	close(o.quit)
	o.wg.Wait()
}

// Sample fetches one fee observation and appends it to the history.
func (o *Oracle) Sample(ctx context.Context) error {
	head, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		return err
	}

	var maxFee *big.Int
	if head.BaseFee != nil {
		// Double the base fee so the quote survives six consecutive
		// full blocks, then add the tip.
		maxFee = new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
	} else {
		if maxFee, err = o.client.SuggestGasPrice(ctx); err != nil {
			return err
		}
	}

	q := Quote{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		BlockNumber:          head.Number.Uint64(),
		SampledAt:            time.Now(),
	}

	o.mu.Lock()
	o.history[o.next] = q
	o.next = (o.next + 1) % len(o.history)
	if o.next == 0 {
		o.full = true
	}
	o.mu.Unlock()
	o.latest.Store(&q)

	maxFeeGauge.Update(maxFee.Int64())
	tipGauge.Update(tip.Int64())
	log.Trace("Gas sampled", "block", q.BlockNumber, "maxFee", maxFee, "tip", tip)
	return nil
}

// Current returns the last sample with headroom applied, clamped to the
// configured price bounds.
func (o *Oracle) Current() (Quote, error) {
	last := o.latest.Load()
	if last == nil {
		return Quote{}, fmt.Errorf("no gas sample available")
	}
	return Quote{
		MaxFeePerGas:         o.clamp(scale(last.MaxFeePerGas, o.config.Headroom)),
		MaxPriorityFeePerGas: o.clamp(scale(last.MaxPriorityFeePerGas, o.config.Headroom)),
		BlockNumber:          last.BlockNumber,
		SampledAt:            last.SampledAt,
	}, nil
}

// Recommend scales the current quote by the tier multipliers of the given
// priority class and re-clamps.
func (o *Oracle) Recommend(priority types.Priority) (Quote, error) {
	cur, err := o.Current()
	if err != nil {
		return Quote{}, err
	}
	if !priority.Valid() {
		priority = types.PriorityNormal
	}
	cur.MaxFeePerGas = o.clamp(scale(cur.MaxFeePerGas, feeMultipliers[priority]))
	cur.MaxPriorityFeePerGas = o.clamp(scale(cur.MaxPriorityFeePerGas, tipMultipliers[priority]))
	return cur, nil
}

// TrendNow compares the two most recent samples.
func (o *Oracle) TrendNow() Trend {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := o.sampleCount()
	if n < 2 {
		return TrendStable
	}
	newest := o.history[(o.next-1+len(o.history))%len(o.history)]
	prev := o.history[(o.next-2+len(o.history))%len(o.history)]
	switch newest.MaxFeePerGas.Cmp(prev.MaxFeePerGas) {
	case 1:
		return TrendIncreasing
	case -1:
		return TrendDecreasing
	}
	return TrendStable
}

// Stats describes the sampler state.
type Stats struct {
	Samples   int    `json:"samples"`
	LastBlock uint64 `json:"last_block"`
	Trend     Trend  `json:"trend"`
}

func (o *Oracle) Stats() Stats {
	var lastBlock uint64
	if last := o.latest.Load(); last != nil {
		lastBlock = last.BlockNumber
	}
	trend := o.TrendNow()

	o.mu.Lock()
	n := o.sampleCount()
	o.mu.Unlock()
	return Stats{Samples: n, LastBlock: lastBlock, Trend: trend}
}

// sampleCount returns the number of valid history entries. Caller holds
// the lock.
func (o *Oracle) sampleCount() int {
	if o.full {
		return len(o.history)
	}
	return o.next
}

func (o *Oracle) sampleLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), o.config.SampleInterval)
			if err := o.Sample(ctx); err != nil {
				log.Warn("Gas sample failed", "err", err)
			}
			cancel()
		case <-o.quit:
			return
		}
	}
}

func (o *Oracle) clamp(fee *big.Int) *big.Int {
	if fee.Cmp(o.config.MinGasPrice) < 0 {
		return new(big.Int).Set(o.config.MinGasPrice)
	}
	if fee.Cmp(o.config.MaxGasPrice) > 0 {
		return new(big.Int).Set(o.config.MaxGasPrice)
	}
	return fee
}

// scale multiplies a fee by a small decimal factor using fixed-point
// arithmetic in the 256-bit domain.
func scale(fee *big.Int, factor float64) *big.Int {
	u, overflow := uint256.FromBig(fee)
	if overflow {
		return fee
	}
	num := uint64(math.Round(factor * 100))
	u.Mul(u, uint256.NewInt(num))
	u.Div(u, uint256.NewInt(100))
	return u.ToBig()
}
