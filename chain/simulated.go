package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SimBackend is an in-memory Client used by the test suites. It models the
// narrow slice of a node the pipeline touches: account nonces and balances,
// a head counter, fee suggestions and receipts. Broadcast transactions are
// mined immediately by default; tests drive confirmations by advancing the
// head and can queue send failures to exercise retry paths.
type SimBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	head     uint64
	baseFee  *big.Int
	tipCap   *big.Int
	autoMine bool
	status   uint64 // receipt status for auto-mined transactions

	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	sendErrs []error

	// DefaultBalance is reported for accounts with no explicit balance.
	DefaultBalance *big.Int
}

// NewSim creates a backend at head 1 with 1 gwei base fee and tip.
func NewSim(chainID *big.Int) *SimBackend {
	return &SimBackend{
		chainID:        new(big.Int).Set(chainID),
		head:           1,
		baseFee:        big.NewInt(1_000_000_000),
		tipCap:         big.NewInt(1_000_000_000),
		autoMine:       true,
		status:         types.ReceiptStatusSuccessful,
		nonces:         make(map[common.Address]uint64),
		balances:       make(map[common.Address]*big.Int),
		receipts:       make(map[common.Hash]*types.Receipt),
		DefaultBalance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
	}
}

func (b *SimBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *SimBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *SimBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.head
	if number != nil {
		n = number.Uint64()
	}
	return &types.Header{
		Number:  new(big.Int).SetUint64(n),
		BaseFee: new(big.Int).Set(b.baseFee),
	}, nil
}

func (b *SimBackend) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *SimBackend) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int).Set(b.DefaultBalance), nil
}

func (b *SimBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fee := new(big.Int).Mul(b.baseFee, big.NewInt(2))
	return fee.Add(fee, b.tipCap), nil
}

func (b *SimBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.tipCap), nil
}

func (b *SimBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		return err
	}

	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}
	switch current := b.nonces[from]; {
	case tx.Nonce() < current:
		return fmt.Errorf("nonce too low: got %d, state %d", tx.Nonce(), current)
	case tx.Nonce() > current:
		return fmt.Errorf("nonce gap: got %d, state %d", tx.Nonce(), current)
	}
	b.nonces[from]++
	b.sent = append(b.sent, tx)

	if b.autoMine {
		b.head++
		b.receipts[tx.Hash()] = &types.Receipt{
			Status:      b.status,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(b.head),
			GasUsed:     21000,
		}
	}
	return nil
}

func (b *SimBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[txHash]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

// AdvanceBlocks moves the head forward, accruing confirmations for mined
// transactions.
func (b *SimBackend) AdvanceBlocks(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head += n
}

// SetFees replaces the base fee and tip suggestions.
func (b *SimBackend) SetFees(baseFee, tipCap *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseFee = new(big.Int).Set(baseFee)
	b.tipCap = new(big.Int).Set(tipCap)
}

// SetBalance pins an account balance.
func (b *SimBackend) SetBalance(account common.Address, bal *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = new(big.Int).Set(bal)
}

// SetNonce pins an account nonce.
func (b *SimBackend) SetNonce(account common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[account] = nonce
}

// SetAutoMine toggles immediate mining of broadcast transactions. With
// auto-mine off, transactions stay receipt-less until MineTx is called.
func (b *SimBackend) SetAutoMine(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoMine = on
}

// SetMineStatus sets the receipt status applied to subsequently mined
// transactions (types.ReceiptStatusSuccessful or Failed).
func (b *SimBackend) SetMineStatus(status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

// MineTx mines a previously broadcast transaction at the next block with
// the given status.
func (b *SimBackend) MineTx(txHash common.Hash, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head++
	b.receipts[txHash] = &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(b.head),
		GasUsed:     21000,
	}
}

// FailNextSend queues an error returned by the next SendTransaction call.
func (b *SimBackend) FailNextSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErrs = append(b.sendErrs, err)
}

// Sent returns the broadcast transactions in order.
func (b *SimBackend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}
