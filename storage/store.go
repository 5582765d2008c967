// Package storage is the durable persistence port of the pipeline. Writes
// are at-least-once: the pipeline logs a failed write and continues, so every
// implementation must make status updates idempotent per (job id, status)
// and refuse to leave a terminal state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/types"
)

var ErrNotFound = errors.New("transaction record not found")

// AggregateStats summarizes records created inside a trailing window.
type AggregateStats struct {
	Total      uint64  `json:"total"`
	Pending    uint64  `json:"pending"`
	Processing uint64  `json:"processing"`
	Submitted  uint64  `json:"submitted"`
	Confirmed  uint64  `json:"confirmed"`
	Failed     uint64  `json:"failed"`
	Cancelled  uint64  `json:"cancelled"`
	AvgGasUsed float64 `json:"avg_gas_used"`
}

// Store is the persistence contract the pipeline depends on.
type Store interface {
	// CreateTransaction inserts the initial pending record.
	CreateTransaction(ctx context.Context, record *types.TransactionRecord) error

	// UpdateStatus applies a status update. Re-applying the current
	// status is a no-op, and terminal states are sticky: once a record
	// is confirmed, failed or cancelled no later write moves it.
	UpdateStatus(ctx context.Context, id uuid.UUID, update types.StatusUpdate) error

	// GetTransaction returns the record, or ErrNotFound.
	GetTransaction(ctx context.Context, id uuid.UUID) (*types.TransactionRecord, error)

	// ListBySender pages through a sender's records, newest first, and
	// returns the total count.
	ListBySender(ctx context.Context, sender common.Address, page, limit int) ([]*types.TransactionRecord, int, error)

	// AggregateStats summarizes records created inside the window.
	AggregateStats(ctx context.Context, window time.Duration) (*AggregateStats, error)

	Close() error
}

// applyUpdate folds a StatusUpdate into a record, honoring idempotence
// and terminal stickiness. It reports whether anything changed. Shared by
// the store implementations.
func applyUpdate(record *types.TransactionRecord, update types.StatusUpdate) bool {
	if record.Status == update.Status {
		return false
	}
	if record.Status.Terminal() {
		return false
	}
	record.Status = update.Status
	if update.TxHash != nil {
		record.TxHash = *update.TxHash
	}
	if update.BlockNumber != nil {
		record.BlockNumber = *update.BlockNumber
	}
	if update.GasUsed != nil {
		record.GasUsed = *update.GasUsed
	}
	if update.ErrorMessage != nil {
		record.ErrorMessage = *update.ErrorMessage
	}
	record.UpdatedAt = time.Now().UTC()
	return true
}
