// Package executor turns a scheduled job plus a wallet lease into a
// broadcast EIP-1559 transaction. The on-chain nonce is assigned here,
// under the lease: the holder is the only writer for its wallet, so the
// latest account nonce cannot be stepped on by a concurrent job.
package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/gasprice"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/types"
	"github.com/mantlenetworkio/relayer/wallet"
)

// substitutionNum/Den encode the 80% bound: a user max fee below
// 8/10 of the oracle recommendation is replaced by the recommendation.
const (
	substitutionNum = 8
	substitutionDen = 10
)

// Registry receives the (job id, tx hash) binding after a successful
// broadcast. Implemented by the confirmation tracker.
type Registry interface {
	Track(id uuid.UUID, txHash common.Hash)
}

// Engine builds, signs and broadcasts transactions. It is stateless;
// everything mutable lives behind the injected collaborators.
type Engine struct {
	client  chain.Client
	oracle  *gasprice.Oracle
	store   storage.Store
	tracker Registry
}

func New(client chain.Client, oracle *gasprice.Oracle, store storage.Store, tracker Registry) *Engine {
	return &Engine{
		client:  client,
		oracle:  oracle,
		store:   store,
		tracker: tracker,
	}
}

// Execute runs the submission algorithm for one job. Errors from RPC
// calls are marked transient so the scheduler retries them; signing
// failures are fatal.
func (e *Engine) Execute(ctx context.Context, job *types.Job, lease *wallet.Lease) (common.Hash, error) {
	start := time.Now()
	defer func() { submitTimer.Update(time.Since(start)) }()

	intent := job.Intent

	// The wallet's EVM nonce, not the user's intent nonce: the latter
	// belongs to the application-layer replay protection.
	nonce, err := e.client.NonceAt(ctx, lease.Address())
	if err != nil {
		return common.Hash{}, types.Transientf("query wallet nonce: %w", err)
	}
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, types.Transientf("query chain id: %w", err)
	}

	feeCap, tipCap := e.pickFees(job)

	target := intent.Target
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       intent.GasLimit,
		To:        &target,
		Value:     intent.Value,
		Data:      intent.Calldata,
	})
	signed, err := lease.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		// Broadcast failures, including "nonce too low", are worth a
		// fresh attempt with a re-queried nonce.
		return common.Hash{}, types.Transientf("broadcast: %w", err)
	}
	lease.NoteNonce(nonce)
	txHash := signed.Hash()
	submittedMeter.Mark(1)
	log.Info("Transaction submitted", "job", job.ID, "tx", txHash, "wallet", lease.Address(), "nonce", nonce)

	// The chain is authoritative from here on; a failed write is logged
	// and tolerated.
	hash := txHash
	if err := e.store.UpdateStatus(ctx, job.ID, types.StatusUpdate{
		Status: types.StatusSubmitted,
		TxHash: &hash,
	}); err != nil {
		log.Error("Failed to persist submitted status", "job", job.ID, "err", err)
	}

	e.tracker.Track(job.ID, txHash)
	return txHash, nil
}

// pickFees applies the gas-substitution rule: if the user's max fee is
// below 80% of the oracle recommendation for the intent's priority class,
// both fees are replaced with the recommendation.
func (e *Engine) pickFees(job *types.Job) (feeCap, tipCap *big.Int) {
	intent := job.Intent
	feeCap, tipCap = intent.GasFeeCap, intent.GasTipCap
	if e.oracle == nil {
		return feeCap, tipCap
	}

	rec, err := e.oracle.Recommend(intent.Priority)
	if err != nil {
		log.Warn("No gas recommendation available", "job", job.ID, "err", err)
		return feeCap, tipCap
	}

	userScaled := new(big.Int).Mul(intent.GasFeeCap, big.NewInt(substitutionDen))
	recScaled := new(big.Int).Mul(rec.MaxFeePerGas, big.NewInt(substitutionNum))
	if userScaled.Cmp(recScaled) < 0 {
		substitutionMeter.Mark(1)
		log.Info("Gas price substituted", "job", job.ID,
			"userMaxFee", intent.GasFeeCap, "recommendedMaxFee", rec.MaxFeePerGas,
			"priority", intent.Priority)
		return rec.MaxFeePerGas, rec.MaxPriorityFeePerGas
	}
	return feeCap, tipCap
}
