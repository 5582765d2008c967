package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a relayed transaction. Exactly one of
// the terminal states (Confirmed, Failed, Cancelled) is reached per job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSubmitted  Status = "submitted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSubmitted,
		StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TransactionRecord is the durable projection of a job, keyed by the job
// id. All intent fields are stored as submitted; the execution fields are
// filled in as the job progresses.
type TransactionRecord struct {
	ID        uuid.UUID
	Sender    common.Address
	Target    common.Address
	Calldata  []byte
	Value     string // decimal string, avoids precision loss
	GasLimit  uint64
	GasFeeCap string
	GasTipCap string
	Nonce     uint64
	SigV      uint64
	SigR      string
	SigS      string
	Priority  Priority

	Status       Status
	TxHash       common.Hash // zero until submitted
	BlockNumber  uint64
	GasUsed      uint64
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord builds the initial pending record for an admitted intent.
func NewRecord(id uuid.UUID, intent *Intent) *TransactionRecord {
	now := time.Now().UTC()
	return &TransactionRecord{
		ID:        id,
		Sender:    intent.Sender,
		Target:    intent.Target,
		Calldata:  intent.Calldata,
		Value:     intent.Value.String(),
		GasLimit:  intent.GasLimit,
		GasFeeCap: intent.GasFeeCap.String(),
		GasTipCap: intent.GasTipCap.String(),
		Nonce:     intent.Nonce,
		SigV:      intent.V,
		SigR:      intent.R.String(),
		SigS:      intent.S.String(),
		Priority:  intent.Priority,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StatusUpdate carries the mutable execution fields of a record. Fields
// left nil are not touched by the write.
type StatusUpdate struct {
	Status       Status
	TxHash       *common.Hash
	BlockNumber  *uint64
	GasUsed      *uint64
	ErrorMessage *string
}
