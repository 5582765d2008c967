package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/relayer/types"
)

// Both implementations must satisfy the same contract; every test runs
// against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func testRecord(sender common.Address, nonce uint64) *types.TransactionRecord {
	intent := &types.Intent{
		Sender:    sender,
		Target:    common.HexToAddress("0xbb"),
		Calldata:  []byte{0xca, 0xfe},
		Value:     big.NewInt(12345),
		GasLimit:  21000,
		GasFeeCap: big.NewInt(20_000_000_000),
		GasTipCap: big.NewInt(2_000_000_000),
		Nonce:     nonce,
		V:         27,
		R:         big.NewInt(11),
		S:         big.NewInt(22),
		Priority:  types.PriorityHigh,
		Timestamp: time.Now(),
	}
	return types.NewRecord(uuid.New(), intent)
}

func TestCreateAndGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := testRecord(common.HexToAddress("0xaa"), 1)
			require.NoError(t, store.CreateTransaction(ctx, record))

			got, err := store.GetTransaction(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, record.ID, got.ID)
			assert.Equal(t, record.Sender, got.Sender)
			assert.Equal(t, record.Target, got.Target)
			assert.Equal(t, record.Calldata, got.Calldata)
			assert.Equal(t, record.Value, got.Value)
			assert.Equal(t, record.GasLimit, got.GasLimit)
			assert.Equal(t, record.Priority, got.Priority)
			assert.Equal(t, types.StatusPending, got.Status)

			_, err = store.GetTransaction(ctx, uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStatusUpdateIdempotence(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := testRecord(common.HexToAddress("0xaa"), 1)
			require.NoError(t, store.CreateTransaction(ctx, record))

			txHash := common.HexToHash("0xdead")
			update := types.StatusUpdate{Status: types.StatusSubmitted, TxHash: &txHash}
			require.NoError(t, store.UpdateStatus(ctx, record.ID, update))

			got, _ := store.GetTransaction(ctx, record.ID)
			firstUpdated := got.UpdatedAt

			// Replaying the same status is a no-op beyond the first.
			require.NoError(t, store.UpdateStatus(ctx, record.ID, update))
			got, _ = store.GetTransaction(ctx, record.ID)
			assert.Equal(t, types.StatusSubmitted, got.Status)
			assert.Equal(t, firstUpdated, got.UpdatedAt)
		})
	}
}

func TestTerminalStatusSticky(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := testRecord(common.HexToAddress("0xaa"), 1)
			require.NoError(t, store.CreateTransaction(ctx, record))

			block := uint64(7)
			gas := uint64(21000)
			require.NoError(t, store.UpdateStatus(ctx, record.ID, types.StatusUpdate{
				Status:      types.StatusConfirmed,
				BlockNumber: &block,
				GasUsed:     &gas,
			}))

			// No write moves a record out of a terminal state.
			require.NoError(t, store.UpdateStatus(ctx, record.ID, types.StatusUpdate{
				Status: types.StatusCancelled,
			}))
			got, _ := store.GetTransaction(ctx, record.ID)
			assert.Equal(t, types.StatusConfirmed, got.Status)
			assert.Equal(t, uint64(7), got.BlockNumber)
			assert.Equal(t, uint64(21000), got.GasUsed)
		})
	}
}

func TestUpdateUnknownRecord(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateStatus(context.Background(), uuid.New(), types.StatusUpdate{
				Status: types.StatusFailed,
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListBySenderPagination(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sender := common.HexToAddress("0xaa")
			other := common.HexToAddress("0xcc")

			for i := 0; i < 5; i++ {
				record := testRecord(sender, uint64(i+1))
				record.CreatedAt = record.CreatedAt.Add(time.Duration(i) * time.Second)
				require.NoError(t, store.CreateTransaction(ctx, record))
			}
			require.NoError(t, store.CreateTransaction(ctx, testRecord(other, 1)))

			page1, total, err := store.ListBySender(ctx, sender, 1, 2)
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, page1, 2)
			// Newest first.
			assert.Equal(t, uint64(5), page1[0].Nonce)
			assert.Equal(t, uint64(4), page1[1].Nonce)

			page3, _, err := store.ListBySender(ctx, sender, 3, 2)
			require.NoError(t, err)
			require.Len(t, page3, 1)
			assert.Equal(t, uint64(1), page3[0].Nonce)

			empty, total, err := store.ListBySender(ctx, sender, 9, 2)
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			assert.Empty(t, empty)
		})
	}
}

func TestAggregateStats(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			statuses := []types.Status{
				types.StatusConfirmed, types.StatusConfirmed,
				types.StatusFailed, types.StatusPending,
			}
			for i, status := range statuses {
				record := testRecord(common.HexToAddress("0xaa"), uint64(i+1))
				require.NoError(t, store.CreateTransaction(ctx, record))
				if status != types.StatusPending {
					gas := uint64(30000)
					require.NoError(t, store.UpdateStatus(ctx, record.ID, types.StatusUpdate{
						Status:  status,
						GasUsed: &gas,
					}))
				}
			}

			stats, err := store.AggregateStats(ctx, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), stats.Total)
			assert.Equal(t, uint64(2), stats.Confirmed)
			assert.Equal(t, uint64(1), stats.Failed)
			assert.Equal(t, uint64(1), stats.Pending)
			assert.Equal(t, float64(30000), stats.AvgGasUsed)

			// Nothing inside a zero-length window.
			stats, err = store.AggregateStats(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), stats.Total)
		})
	}
}

func TestSQLRoundTripPreservesFields(t *testing.T) {
	store, err := OpenSQL(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	record := testRecord(common.HexToAddress("0xaa"), 42)
	require.NoError(t, store.CreateTransaction(ctx, record))

	txHash := common.HexToHash("0xbeef")
	block := uint64(100)
	gas := uint64(55555)
	errMsg := "transaction reverted"
	require.NoError(t, store.UpdateStatus(ctx, record.ID, types.StatusUpdate{
		Status:       types.StatusFailed,
		TxHash:       &txHash,
		BlockNumber:  &block,
		GasUsed:      &gas,
		ErrorMessage: &errMsg,
	}))

	got, err := store.GetTransaction(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, txHash, got.TxHash)
	assert.Equal(t, block, got.BlockNumber)
	assert.Equal(t, gas, got.GasUsed)
	assert.Equal(t, errMsg, got.ErrorMessage)
	assert.Equal(t, record.SigR, got.SigR)
	assert.Equal(t, record.SigS, got.SigS)
	assert.Equal(t, uint64(27), got.SigV)
}

func TestDuplicateCreateRejected(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := testRecord(common.HexToAddress("0xaa"), 1)
			require.NoError(t, store.CreateTransaction(ctx, record))
			assert.Error(t, store.CreateTransaction(ctx, record))
		})
	}
}
