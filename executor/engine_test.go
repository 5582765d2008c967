package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/gasprice"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/types"
	"github.com/mantlenetworkio/relayer/wallet"
)

func testKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

// recordingRegistry captures Track calls in place of the tracker.
type recordingRegistry struct {
	ids    []uuid.UUID
	hashes []common.Hash
}

func (r *recordingRegistry) Track(id uuid.UUID, txHash common.Hash) {
	r.ids = append(r.ids, id)
	r.hashes = append(r.hashes, txHash)
}

type harness struct {
	engine   *Engine
	sim      *chain.SimBackend
	store    *storage.MemoryStore
	pool     *wallet.Pool
	registry *recordingRegistry
	oracle   *gasprice.Oracle
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sim := chain.NewSim(big.NewInt(1337))
	store := storage.NewMemoryStore()
	registry := &recordingRegistry{}
	oracle := gasprice.NewOracle(sim, gasprice.DefaultConfig)
	require.NoError(t, oracle.Sample(context.Background()))

	keys := testKeys(t, 1)
	cfg := wallet.DefaultConfig
	cfg.AcquireTimeout = time.Second
	pool, err := wallet.NewPool(sim, keys, cfg)
	require.NoError(t, err)
	pool.Start()
	t.Cleanup(pool.Stop)

	return &harness{
		engine:   New(sim, oracle, store, registry),
		sim:      sim,
		store:    store,
		pool:     pool,
		registry: registry,
		oracle:   oracle,
	}
}

func testJob(t *testing.T, store *storage.MemoryStore, priority types.Priority, maxFee *big.Int) *types.Job {
	t.Helper()
	intent := &types.Intent{
		Sender:    common.HexToAddress("0xaa"),
		Target:    common.HexToAddress("0xbb"),
		Calldata:  []byte{0x01, 0x02},
		Value:     big.NewInt(0),
		GasLimit:  21000,
		GasFeeCap: maxFee,
		GasTipCap: big.NewInt(1_000_000_000),
		Nonce:     1,
		Priority:  priority,
		Timestamp: time.Now(),
	}
	job := &types.Job{ID: uuid.New(), Intent: intent, MaxRetries: 3}
	require.NoError(t, store.CreateTransaction(context.Background(), types.NewRecord(job.ID, intent)))
	return job
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(t)
	job := testJob(t, h.store, types.PriorityNormal, big.NewInt(20_000_000_000))

	lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
	require.NoError(t, err)
	txHash, err := h.engine.Execute(context.Background(), job, lease)
	lease.Release(wallet.Outcome{Ok: err == nil})
	require.NoError(t, err)

	sent := h.sim.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, txHash, sent[0].Hash())
	assert.Equal(t, uint64(0), sent[0].Nonce(), "first wallet nonce")
	assert.Equal(t, job.Intent.Target, *sent[0].To())
	assert.Equal(t, job.Intent.Calldata, sent[0].Data())

	// Status persisted as submitted with the hash.
	record, err := h.store.GetTransaction(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSubmitted, record.Status)
	assert.Equal(t, txHash, record.TxHash)

	// Registered with the tracker.
	require.Len(t, h.registry.ids, 1)
	assert.Equal(t, job.ID, h.registry.ids[0])
	assert.Equal(t, txHash, h.registry.hashes[0])
}

func TestExecuteUsesWalletNonceNotUserNonce(t *testing.T) {
	h := newHarness(t)
	job := testJob(t, h.store, types.PriorityNormal, big.NewInt(20_000_000_000))
	job.Intent.Nonce = 999 // user-domain nonce must not leak into the EVM tx

	lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
	require.NoError(t, err)
	defer lease.Release(wallet.Outcome{Ok: true})

	_, err = h.engine.Execute(context.Background(), job, lease)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.sim.Sent()[0].Nonce())
}

func TestGasSubstitution(t *testing.T) {
	h := newHarness(t)

	rec, err := h.oracle.Recommend(types.PriorityNormal)
	require.NoError(t, err)

	tests := []struct {
		name       string
		userFee    *big.Int
		substitute bool
	}{
		{"far below recommendation", big.NewInt(1_000_000_000), true},
		{"generous fee", new(big.Int).Mul(rec.MaxFeePerGas, big.NewInt(2)), false},
		{"exactly the recommendation", new(big.Int).Set(rec.MaxFeePerGas), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob(t, h.store, types.PriorityNormal, tt.userFee)

			lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
			require.NoError(t, err)
			_, err = h.engine.Execute(context.Background(), job, lease)
			lease.Release(wallet.Outcome{Ok: err == nil})
			require.NoError(t, err)

			sent := h.sim.Sent()
			tx := sent[len(sent)-1]
			if tt.substitute {
				assert.Equal(t, rec.MaxFeePerGas, tx.GasFeeCap(), "fee should be replaced")
				assert.Equal(t, rec.MaxPriorityFeePerGas, tx.GasTipCap(), "tip should be replaced")
			} else {
				assert.Equal(t, tt.userFee, tx.GasFeeCap(), "user fee should be kept")
			}
		})
	}
}

func TestBroadcastFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	job := testJob(t, h.store, types.PriorityNormal, big.NewInt(20_000_000_000))
	h.sim.FailNextSend(errors.New("connection refused"))

	lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
	require.NoError(t, err)
	_, err = h.engine.Execute(context.Background(), job, lease)
	lease.Release(wallet.Outcome{Ok: false})

	require.Error(t, err)
	assert.True(t, types.IsTransient(err), "broadcast failures are retryable")
	assert.Empty(t, h.sim.Sent())
	assert.Empty(t, h.registry.ids, "failed submission must not be tracked")
}

func TestNonceTooLowIsTransient(t *testing.T) {
	h := newHarness(t)
	job := testJob(t, h.store, types.PriorityNormal, big.NewInt(20_000_000_000))
	h.sim.FailNextSend(errors.New("nonce too low"))

	lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
	require.NoError(t, err)
	defer lease.Release(wallet.Outcome{Ok: false})

	_, err = h.engine.Execute(context.Background(), job, lease)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestExecuteWithoutOracle(t *testing.T) {
	h := newHarness(t)
	engine := New(h.sim, nil, h.store, h.registry)
	userFee := big.NewInt(9_000_000_000)
	job := testJob(t, h.store, types.PriorityNormal, userFee)

	lease, err := h.pool.Acquire(context.Background(), job.Intent.Priority)
	require.NoError(t, err)
	defer lease.Release(wallet.Outcome{Ok: true})

	_, err = engine.Execute(context.Background(), job, lease)
	require.NoError(t, err)
	assert.Equal(t, userFee, h.sim.Sent()[0].GasFeeCap(), "user fee kept when no oracle is wired")
}
