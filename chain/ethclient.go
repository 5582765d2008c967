package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// RPCClient implements Client on top of ethclient. The chain id is
// immutable for a connection, so it is fetched once and cached.
type RPCClient struct {
	ec *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the given JSON-RPC endpoint (http, ws or ipc).
func Dial(ctx context.Context, rawurl string) (*RPCClient, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to chain endpoint", "url", rawurl)
	return &RPCClient{ec: ec}, nil
}

// NewRPCClient wraps an existing ethclient connection.
func NewRPCClient(ec *ethclient.Client) *RPCClient {
	return &RPCClient{ec: ec}
}

func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	if c.chainID != nil {
		id := new(big.Int).Set(c.chainID)
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock; concurrent first calls may race the RPC
	// but cache the same value.
	id, err := c.ec.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ec.HeaderByNumber(ctx, number)
}

func (c *RPCClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.ec.NonceAt(ctx, account, nil)
}

func (c *RPCClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, account, nil)
}

func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

func (c *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasTipCap(ctx)
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ec.SendTransaction(ctx, tx)
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ec.TransactionReceipt(ctx, txHash)
}

// Close tears down the underlying RPC connection.
func (c *RPCClient) Close() {
	c.ec.Close()
}
