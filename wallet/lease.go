package wallet

import (
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Outcome reports how a lease ended.
type Outcome struct {
	Ok      bool
	GasUsed uint64
}

// Lease grants exclusive use of one wallet. The holder is the only party
// allowed to assign that wallet's on-chain nonce and sign with its key.
// Release must be called exactly once; late calls are no-ops.
type Lease struct {
	pool     *Pool
	w        *wallet
	released atomic.Bool
}

// Address returns the leased wallet account.
func (l *Lease) Address() common.Address {
	return l.w.address
}

// SignTx signs an assembled transaction with the leased wallet's key.
// The key itself never leaves the pool.
func (l *Lease) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), l.w.key)
}

// NoteNonce records the on-chain nonce the holder assigned, so the pool
// can track the expected next nonce and detect gaps.
func (l *Lease) NoteNonce(nonce uint64) {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.w.nextNonce = nonce + 1
	l.w.nonceKnown = true
}

// Release returns the wallet to the pool and folds the outcome into its
// stats. Only the first call has an effect.
func (l *Lease) Release(outcome Outcome) {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.release(l.w, outcome)
}
