package eip712

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/relayer/types"
)

func testConfig() Config {
	cfg := DefaultConfig
	cfg.ChainID = big.NewInt(1337)
	cfg.VerifyingContract = common.HexToAddress("0xa513E6E4b8f2a923D98304ec87F64353C4D5C853")
	return cfg
}

func testIntent(sender common.Address, nonce uint64) *types.Intent {
	return &types.Intent{
		Sender:    sender,
		Target:    common.HexToAddress("0x1"),
		Calldata:  []byte{0xde, 0xad},
		Value:     big.NewInt(0),
		GasLimit:  21000,
		GasFeeCap: big.NewInt(20_000_000_000),
		GasTipCap: big.NewInt(2_000_000_000),
		Nonce:     nonce,
		Priority:  types.PriorityNormal,
		Timestamp: time.Now(),
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	v := NewVerifier(testConfig())
	intent := testIntent(sender, 1)
	require.NoError(t, v.SignIntent(intent, key))

	if err := v.Verify(intent); err != nil {
		t.Fatalf("valid intent rejected: %v", err)
	}
	assert.Equal(t, uint64(1), v.LastNonce(sender))
}

func TestVerifyWrongSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)

	v := NewVerifier(testConfig())
	intent := testIntent(sender, 1)
	require.NoError(t, v.SignIntent(intent, other))

	assert.ErrorIs(t, v.Verify(intent), ErrBadSignature)
	// A failed verification must not advance the nonce cache.
	assert.Equal(t, uint64(0), v.LastNonce(sender))
}

func TestVerifyStaleSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)

	cfg := testConfig()
	cfg.MaxSignatureAge = time.Minute
	v := NewVerifier(cfg)

	tests := []struct {
		name  string
		age   time.Duration
		stale bool
	}{
		{"fresh", 10 * time.Second, false},
		{"just inside", 59 * time.Second, false},
		{"at the bound", time.Minute, true}, // exclusive upper bound
		{"past the bound", 2 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := testIntent(sender, 1)
			intent.Timestamp = time.Now().Add(-tt.age)
			require.NoError(t, v.SignIntent(intent, key))

			err := NewVerifier(cfg).Verify(intent)
			if tt.stale {
				assert.ErrorIs(t, err, ErrStaleSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyNonceMonotonic(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)
	v := NewVerifier(testConfig())

	sign := func(nonce uint64) *types.Intent {
		intent := testIntent(sender, nonce)
		require.NoError(t, v.SignIntent(intent, key))
		return intent
	}

	require.NoError(t, v.Verify(sign(2)))
	assert.ErrorIs(t, v.Verify(sign(2)), ErrBadNonce)
	assert.ErrorIs(t, v.Verify(sign(1)), ErrBadNonce)
	assert.NoError(t, v.Verify(sign(3)))
}

func TestVerifyMalformedSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)
	v := NewVerifier(testConfig())

	tests := []struct {
		name   string
		mutate func(*types.Intent)
	}{
		{"zero r", func(i *types.Intent) { i.R = big.NewInt(0) }},
		{"zero s", func(i *types.Intent) { i.S = big.NewInt(0) }},
		{"nil r", func(i *types.Intent) { i.R = nil }},
		{"v below 27", func(i *types.Intent) { i.V = 1 }},
		{"v between 28 and 35", func(i *types.Intent) { i.V = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := testIntent(sender, 1)
			require.NoError(t, v.SignIntent(intent, key))
			tt.mutate(intent)
			assert.ErrorIs(t, v.Verify(intent), ErrMalformedSignature)
		})
	}
}

func TestVerifyEIP155V(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)
	v := NewVerifier(testConfig())

	intent := testIntent(sender, 1)
	require.NoError(t, v.SignIntent(intent, key))

	// Re-encode the recovery id in EIP-155 form for chain id 1337:
	// v = recId + chainId*2 + 35.
	recID := intent.V - 27
	intent.V = recID + 2*1337 + 35
	assert.NoError(t, v.Verify(intent))
}

func TestDigestCoversTimestamp(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)
	v := NewVerifier(testConfig())

	intent := testIntent(sender, 1)
	d1, err := v.Digest(intent)
	require.NoError(t, err)

	intent.Timestamp = intent.Timestamp.Add(time.Second)
	d2, err := v.Digest(intent)
	require.NoError(t, err)

	if d1 == d2 {
		t.Error("digest should change with the submission timestamp")
	}
}
