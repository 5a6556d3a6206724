// Package bankroll tracks the house's total locked collateral across all
// live channels. Both the off-chain engine (per-bet limits, house funding)
// and the on-chain settlement contract hold one of these and must agree at
// equilibrium.
package bankroll

import (
	"math/big"
	"sync"

	"github.com/agentcasino/channel/casinoerr"
)

// Guard is a process-wide exposure counter. Exposure is an arbitrary-
// precision non-negative integer — a uint64 cap would ceiling a
// multi-channel casino's total collateral at under twenty ether. Zero
// value is not usable; use New.
type Guard struct {
	mu          sync.Mutex
	totalLocked *big.Int
	maxExposure *big.Int
}

// New creates a Guard with the given maximum total exposure.
func New(maxExposure *big.Int) *Guard {
	return &Guard{totalLocked: big.NewInt(0), maxExposure: new(big.Int).Set(maxExposure)}
}

// CanLock reports whether amount could currently be locked without
// exceeding maxExposure.
func (g *Guard) CanLock(amount *big.Int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canLockLocked(amount)
}

func (g *Guard) canLockLocked(amount *big.Int) bool {
	sum := new(big.Int).Add(g.totalLocked, amount)
	return sum.Cmp(g.maxExposure) <= 0
}

// Lock reserves amount against the exposure cap. Fails with a Policy error
// if doing so would exceed maxExposure.
func (g *Guard) Lock(amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.canLockLocked(amount) {
		return casinoerr.NewPolicy("bankroll: locking %s would exceed max exposure %s (currently %s locked)",
			amount, g.maxExposure, g.totalLocked)
	}
	g.totalLocked.Add(g.totalLocked, amount)
	return nil
}

// Unlock releases amount previously locked. Fails if amount exceeds the
// currently locked total (would imply unlocking collateral never locked).
func (g *Guard) Unlock(amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if amount.Cmp(g.totalLocked) > 0 {
		return casinoerr.NewPolicy("bankroll: unlocking %s exceeds locked total %s", amount, g.totalLocked)
	}
	g.totalLocked.Sub(g.totalLocked, amount)
	return nil
}

// TotalLocked returns the current locked collateral total.
func (g *Guard) TotalLocked() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.totalLocked)
}

// MaxExposure returns the configured cap.
func (g *Guard) MaxExposure() *big.Int {
	return new(big.Int).Set(g.maxExposure)
}
