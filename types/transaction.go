package types

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Priority classes a user may request for an intent. The class influences
// both scheduling order and the gas recommendation used at execution time.
type Priority uint8

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var ErrInvalidPriority = errors.New("invalid priority class")

// ParsePriority converts the wire form ("low", "normal", "high",
// "critical") into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Weight returns the base scheduling weight of the class. Higher weight is
// served first.
func (p Priority) Weight() uint8 {
	if p < PriorityLow || p > PriorityCritical {
		return uint8(PriorityNormal)
	}
	return uint8(p)
}

// Valid reports whether p is one of the four known classes.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Intent is a signed transaction request submitted by an end user. The
// relayer sponsors gas for it; the user never signs an EVM transaction,
// only this typed payload. An Intent is immutable once admitted.
type Intent struct {
	Sender    common.Address // declared signer, recovered from the signature
	Target    common.Address // contract the sponsored call is directed at
	Calldata  []byte
	Value     *big.Int
	GasLimit  uint64
	GasFeeCap *big.Int // user's max fee per gas
	GasTipCap *big.Int // user's max priority fee per gas
	Nonce     uint64   // user-domain nonce, not an EVM account nonce

	// Signature values over the EIP-712 digest of the fields above
	// plus the submission timestamp.
	V uint64
	R *big.Int
	S *big.Int

	Priority  Priority
	Timestamp time.Time // submission time, covered by the signature
}

// Job is the scheduler's runtime object wrapping an Intent. It is owned
// exclusively by the scheduler while pending and lent to a worker while
// processing.
type Job struct {
	ID     uuid.UUID
	Intent *Intent

	Weight      float64 // effective scheduling weight, possibly adjusted
	CreatedAt   time.Time
	ScheduledAt time.Time // >= CreatedAt, advanced by retry backoff
	RetryCount  int
	MaxRetries  int
}

// Attempts returns the total number of executions so far, counting the
// initial one.
func (j *Job) Attempts() int {
	return j.RetryCount + 1
}
