package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestCheckAndRecord(t *testing.T) {
	g := NewGuard(Config{Window: time.Minute, SweepInterval: time.Minute})
	sender := common.HexToAddress("0x1")

	if err := g.CheckAndRecord(sender, 1); err != nil {
		t.Fatalf("first nonce rejected: %v", err)
	}
	assert.ErrorIs(t, g.CheckAndRecord(sender, 1), ErrReplay)
	assert.NoError(t, g.CheckAndRecord(sender, 2))

	// A different sender has its own window.
	assert.NoError(t, g.CheckAndRecord(common.HexToAddress("0x2"), 1))
}

func TestWindowExpiry(t *testing.T) {
	g := NewGuard(Config{Window: 30 * time.Millisecond, SweepInterval: time.Hour})
	sender := common.HexToAddress("0x1")

	assert.NoError(t, g.CheckAndRecord(sender, 1))
	assert.True(t, g.IsUsed(sender, 1))

	time.Sleep(50 * time.Millisecond)

	// Outside the window the pair is usable again.
	assert.False(t, g.IsUsed(sender, 1))
	assert.NoError(t, g.CheckAndRecord(sender, 1))
}

func TestNextNonce(t *testing.T) {
	g := NewGuard(DefaultConfig)
	sender := common.HexToAddress("0x1")

	if n := g.NextNonce(sender); n != 1 {
		t.Errorf("empty window next nonce = %d, want 1", n)
	}
	g.CheckAndRecord(sender, 1)
	g.CheckAndRecord(sender, 5)
	if n := g.NextNonce(sender); n != 6 {
		t.Errorf("next nonce = %d, want 6", n)
	}
}

func TestConcurrentSameNonce(t *testing.T) {
	g := NewGuard(DefaultConfig)
	sender := common.HexToAddress("0x1")

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.CheckAndRecord(sender, 7)
		}(i)
	}
	wg.Wait()

	// Exactly one racer wins.
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestSweep(t *testing.T) {
	g := NewGuard(Config{Window: 10 * time.Millisecond, SweepInterval: time.Hour})
	for i := 0; i < 5; i++ {
		g.CheckAndRecord(common.BigToAddress(common.Big1), uint64(i+1))
	}
	assert.Equal(t, 5, g.Stats().Entries)

	time.Sleep(20 * time.Millisecond)
	g.sweep()

	st := g.Stats()
	assert.Equal(t, 0, st.Entries)
	assert.Equal(t, 0, st.Senders)
}
