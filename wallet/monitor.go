package wallet

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// monitorLoop periodically refreshes balances and on-chain nonces for the
// monitored account set. Low balances flip the health predicate without
// any explicit flag: healthyLocked re-evaluates on every acquire.
func (p *Pool) monitorLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.BalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.refreshAccounts()
		case <-p.quit:
			return
		}
	}
}

// refreshAccounts fetches balance and nonce for every monitored address.
// RPC failures leave the previous observation in place.
func (p *Pool) refreshAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.BalanceInterval)
	defer cancel()

	var low []common.Address
	for _, addr := range p.monitored.ToSlice() {
		balance, err := p.client.BalanceAt(ctx, addr)
		if err != nil {
			log.Warn("Balance refresh failed", "wallet", addr, "err", err)
			continue
		}
		nonce, err := p.client.NonceAt(ctx, addr)
		if err != nil {
			log.Warn("Nonce refresh failed", "wallet", addr, "err", err)
			continue
		}

		p.mu.Lock()
		for _, w := range p.wallets {
			if w.address != addr {
				continue
			}
			w.balance = balance
			w.chainNonce = nonce
			if !w.nonceKnown {
				w.nextNonce = nonce
			}
			if balance.Cmp(p.config.MinBalance) < 0 {
				low = append(low, addr)
			}
			break
		}
		p.mu.Unlock()
	}

	if len(low) > 0 {
		lowBalanceGauge.Update(int64(len(low)))
		log.Warn("Wallets below minimum balance", "count", len(low), "wallets", low)
	} else {
		lowBalanceGauge.Update(0)
	}

	// A balance top-up may have restored health; wake one waiter.
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// rotateLoop performs scheduled rotation and reacts to emergency rotation
// requests raised when a wallet's success rate collapses.
func (p *Pool) rotateLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.RotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.rotate("scheduled")
		case <-p.rotateNow:
			p.rotate("emergency")
		case <-p.quit:
			return
		}
	}
}
