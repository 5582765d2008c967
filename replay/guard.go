// Package replay rejects duplicate (sender, user-nonce) pairs inside a
// sliding time window. It owns the durable replay state of the admission
// path; the signature verifier's nonce cache is only an in-memory
// fast-path on top of it.
package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var ErrReplay = errors.New("nonce already used within replay window")

var DefaultConfig = Config{
	Window:        1 * time.Hour,
	SweepInterval: 5 * time.Minute,
}

type Config struct {
	Window        time.Duration // how long a (sender, nonce) pair stays blocked
	SweepInterval time.Duration // background eviction cadence
}

func (c *Config) String() string {
	return fmt.Sprintf("Window: %v, SweepInterval: %v", c.Window, c.SweepInterval)
}

// entry records one observed user nonce and when it was seen.
type entry struct {
	nonce uint64
	seen  time.Time
}

// Guard tracks observed nonces per sender. A single lock over the map is
// enough; the critical sections only touch small slices.
type Guard struct {
	config Config

	mu      sync.Mutex
	entries map[common.Address][]entry

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewGuard(config Config) *Guard {
	return &Guard{
		config:  config,
		entries: make(map[common.Address][]entry),
		quit:    make(chan struct{}),
	}
}

// Start launches the background sweep that evicts entries older than the
// window.
func (g *Guard) Start() {
	g.wg.Add(1)
	go g.sweepLoop()
}

// Stop terminates the sweep loop and waits for it.
func (g *Guard) Stop() {
	close(g.quit)
	g.wg.Wait()
}

// CheckAndRecord atomically verifies that the nonce has not been seen for
// the sender inside the window and records it. The check and the insert
// happen under one lock, so two concurrent submissions of the same pair
// cannot both pass.
func (g *Guard) CheckAndRecord(sender common.Address, nonce uint64) error {
	now := time.Now()
	cutoff := now.Add(-g.config.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	live := g.prune(sender, cutoff)
	for _, e := range live {
		if e.nonce == nonce {
			replayMeter.Mark(1)
			return fmt.Errorf("%w: sender %s nonce %d", ErrReplay, sender.Hex(), nonce)
		}
	}
	g.entries[sender] = append(live, entry{nonce: nonce, seen: now})
	recordedMeter.Mark(1)
	return nil
}

// IsUsed reports whether the pair is currently blocked.
func (g *Guard) IsUsed(sender common.Address, nonce uint64) bool {
	cutoff := time.Now().Add(-g.config.Window)

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries[sender] {
		if e.nonce == nonce && e.seen.After(cutoff) {
			return true
		}
	}
	return false
}

// NextNonce returns the next user nonce the sender should sign with:
// one past the highest nonce inside the window, or 1 for an empty window.
func (g *Guard) NextNonce(sender common.Address) uint64 {
	cutoff := time.Now().Add(-g.config.Window)

	g.mu.Lock()
	defer g.mu.Unlock()
	var max uint64
	for _, e := range g.entries[sender] {
		if e.seen.After(cutoff) && e.nonce > max {
			max = e.nonce
		}
	}
	return max + 1
}

// prune drops the sender's expired entries in place and returns the live
// slice. Caller holds the lock.
func (g *Guard) prune(sender common.Address, cutoff time.Time) []entry {
	live := g.entries[sender][:0]
	for _, e := range g.entries[sender] {
		if e.seen.After(cutoff) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(g.entries, sender)
		return nil
	}
	g.entries[sender] = live
	return live
}

func (g *Guard) sweepLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.quit:
			return
		}
	}
}

func (g *Guard) sweep() {
	cutoff := time.Now().Add(-g.config.Window)

	g.mu.Lock()
	defer g.mu.Unlock()
	var kept int
	for sender := range g.entries {
		g.prune(sender, cutoff)
		kept += len(g.entries[sender])
	}
	windowGauge.Update(int64(kept))
	log.Trace("Replay window swept", "entries", kept, "senders", len(g.entries))
}

// Stats describes the current window contents.
type Stats struct {
	Entries int           `json:"entries"`
	Senders int           `json:"senders"`
	Window  time.Duration `json:"window"`
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, es := range g.entries {
		n += len(es)
	}
	return Stats{Entries: n, Senders: len(g.entries), Window: g.config.Window}
}
