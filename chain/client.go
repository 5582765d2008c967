// Package chain narrows the JSON-RPC surface the relayer depends on to a
// small client port, so the pipeline can run against a real node or an
// in-memory simulation.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFound is returned by TransactionReceipt while the transaction is
// not yet mined (or was dropped).
var ErrNotFound = ethereum.NotFound

// Client is the chain interface of the execution pipeline. Every call is a
// suspension point; implementations must be safe for concurrent use.
type Client interface {
	// ChainID returns the EIP-155 chain id of the connected network.
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// HeaderByNumber returns the header for the given height, or the
	// latest header when number is nil.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// NonceAt returns the account nonce at the latest block.
	NonceAt(ctx context.Context, account common.Address) (uint64, error)

	// BalanceAt returns the account balance at the latest block.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// SuggestGasPrice returns a max-fee suggestion from the node.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SuggestGasTipCap returns a priority-fee suggestion from the node.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns the receipt of a mined transaction, or
	// ErrNotFound while it is pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}
