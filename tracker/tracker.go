// Package tracker follows broadcast transactions to a terminal state:
// confirmed after enough blocks, failed on revert, or dropped when no
// receipt appears within the timeout.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/types"
)

const (
	droppedReason  = "transaction dropped"
	revertedReason = "transaction reverted"
)

var DefaultConfig = Config{
	PollInterval:       5 * time.Second,
	ConfirmationBlocks: 1,
	DropTimeout:        10 * time.Minute,
}

type Config struct {
	PollInterval       time.Duration // receipt poll cadence per submission
	ConfirmationBlocks uint64        // blocks past inclusion before Confirmed
	DropTimeout        time.Duration // receipt-less age treated as dropped
}

func (c *Config) String() string {
	return fmt.Sprintf("PollInterval: %v, ConfirmationBlocks: %d, DropTimeout: %v",
		c.PollInterval, c.ConfirmationBlocks, c.DropTimeout)
}

// submission is one tracked broadcast.
type submission struct {
	jobID       uuid.UUID
	txHash      common.Hash
	submittedAt time.Time
	lastPoll    time.Time
	pollCount   int
}

// Tracker holds the pending-submission set and the poll loop.
type Tracker struct {
	config Config
	client chain.Client
	store  storage.Store

	mu      sync.Mutex
	pending map[common.Hash]*submission

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(client chain.Client, store storage.Store, config Config) *Tracker {
	return &Tracker{
		config:  config,
		client:  client,
		store:   store,
		pending: make(map[common.Hash]*submission),
		quit:    make(chan struct{}),
	}
}

func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.loop()
}

func (t *Tracker) Stop() {
	close(t.quit)
	t.wg.Wait()
}

// Track registers a broadcast transaction for confirmation polling.
func (t *Tracker) Track(id uuid.UUID, txHash common.Hash) {
	t.mu.Lock()
	t.pending[txHash] = &submission{
		jobID:       id,
		txHash:      txHash,
		submittedAt: time.Now(),
	}
	pendingGauge.Update(int64(len(t.pending)))
	t.mu.Unlock()
	log.Debug("Tracking submission", "job", id, "tx", txHash)
}

// Untrack drops a submission from polling and reports whether it was
// present.
func (t *Tracker) Untrack(txHash common.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[txHash]; !ok {
		return false
	}
	delete(t.pending, txHash)
	pendingGauge.Update(int64(len(t.pending)))
	return true
}

// PendingCount returns how many submissions are still being polled.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Poll(context.Background())
		case <-t.quit:
			return
		}
	}
}

// Poll checks every due submission once. Exported so tests and the
// shutdown drain can drive the tracker synchronously.
func (t *Tracker) Poll(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	due := make([]*submission, 0, len(t.pending))
	for _, sub := range t.pending {
		if sub.lastPoll.IsZero() || now.Sub(sub.lastPoll) >= t.config.PollInterval {
			due = append(due, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range due {
		t.check(ctx, sub)
	}
}

// check applies the state table of the confirmation machine to one
// submission.
func (t *Tracker) check(ctx context.Context, sub *submission) {
	pollMeter.Mark(1)

	receipt, err := t.client.TransactionReceipt(ctx, sub.txHash)
	switch {
	case errors.Is(err, chain.ErrNotFound):
		if time.Since(sub.submittedAt) >= t.config.DropTimeout {
			droppedMeter.Mark(1)
			log.Warn("Transaction dropped", "job", sub.jobID, "tx", sub.txHash,
				"age", time.Since(sub.submittedAt).Round(time.Second))
			t.finish(ctx, sub, types.StatusFailed, nil, droppedReason)
			return
		}
		t.touch(sub)
		return
	case err != nil:
		log.Warn("Receipt poll failed", "tx", sub.txHash, "err", err)
		t.touch(sub)
		return
	}

	head, err := t.client.BlockNumber(ctx)
	if err != nil {
		log.Warn("Block number poll failed", "err", err)
		t.touch(sub)
		return
	}

	included := receipt.BlockNumber.Uint64()
	var confirmations uint64
	if head >= included {
		confirmations = head - included
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		revertedMeter.Mark(1)
		log.Warn("Transaction reverted", "job", sub.jobID, "tx", sub.txHash, "block", included)
		t.finish(ctx, sub, types.StatusFailed, receipt, revertedReason)
		return
	}
	if confirmations >= t.config.ConfirmationBlocks {
		confirmedMeter.Mark(1)
		log.Info("Transaction confirmed", "job", sub.jobID, "tx", sub.txHash,
			"block", included, "confirmations", confirmations)
		t.finish(ctx, sub, types.StatusConfirmed, receipt, "")
		return
	}

	// Included but not final yet.
	if err := t.store.UpdateStatus(ctx, sub.jobID, types.StatusUpdate{
		Status: types.StatusProcessing,
	}); err != nil {
		log.Warn("Failed to persist processing status", "job", sub.jobID, "err", err)
	}
	t.touch(sub)
}

// finish writes the terminal status and removes the submission.
func (t *Tracker) finish(ctx context.Context, sub *submission, status types.Status, receipt *ethtypes.Receipt, reason string) {
	update := types.StatusUpdate{Status: status, TxHash: &sub.txHash}
	if receipt != nil {
		block := receipt.BlockNumber.Uint64()
		gasUsed := receipt.GasUsed
		update.BlockNumber = &block
		update.GasUsed = &gasUsed
	}
	if reason != "" {
		update.ErrorMessage = &reason
	}
	if err := t.store.UpdateStatus(ctx, sub.jobID, update); err != nil {
		// The in-memory removal still proceeds: the chain is the
		// authority and a reconciler can backfill the record.
		log.Error("Failed to persist terminal status", "job", sub.jobID, "status", status, "err", err)
	}

	t.mu.Lock()
	delete(t.pending, sub.txHash)
	pendingGauge.Update(int64(len(t.pending)))
	t.mu.Unlock()
}

func (t *Tracker) touch(sub *submission) {
	t.mu.Lock()
	sub.lastPoll = time.Now()
	sub.pollCount++
	t.mu.Unlock()
}

// Stats describes the tracked set.
type Stats struct {
	Pending            int     `json:"pending"`
	OldestAgeSeconds   float64 `json:"oldest_age_seconds"`
	ConfirmationBlocks uint64  `json:"confirmation_blocks"`
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{Pending: len(t.pending), ConfirmationBlocks: t.config.ConfirmationBlocks}
	for _, sub := range t.pending {
		if age := time.Since(sub.submittedAt).Seconds(); age > st.OldestAgeSeconds {
			st.OldestAgeSeconds = age
		}
	}
	return st
}
