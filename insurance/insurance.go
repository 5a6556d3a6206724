// Package insurance implements the segregated treasury that receives a
// skim of house profit at every channel settlement: a balance that is
// never spent on payouts, only withdrawn by the owner through a
// timelocked two-step process.
package insurance

import (
	"math/big"
	"sync"
	"time"

	"github.com/agentcasino/channel/casinoerr"
)

// WithdrawalTimelock is how long a requested insurance withdrawal must
// wait before it can be executed.
const WithdrawalTimelock = 3 * 24 * time.Hour

// BPS is the house-profit skim rate in basis points (10% = 1000bps).
const BPS = 1000

// Store is the durable backing a Sink persists its balance and any pending
// withdrawal request to, so the treasury survives a restart the same way
// every other on-chain record does. settlement.Ledger implements this.
type Store interface {
	InsuranceBalance() *big.Int
	SetInsuranceBalance(*big.Int)
	InsuranceRequest() (amount *big.Int, at time.Time, pending bool)
	SetInsuranceRequest(amount *big.Int, at time.Time)
	ClearInsuranceRequest()
}

// memStore is the Store used when New is called without one, keeping the
// package self-contained for standalone use and its own tests.
type memStore struct {
	balance   *big.Int
	reqAmount *big.Int
	reqAt     time.Time
	pending   bool
}

func newMemStore() *memStore { return &memStore{balance: big.NewInt(0)} }

func (m *memStore) InsuranceBalance() *big.Int { return new(big.Int).Set(m.balance) }

func (m *memStore) SetInsuranceBalance(v *big.Int) { m.balance = new(big.Int).Set(v) }

func (m *memStore) InsuranceRequest() (*big.Int, time.Time, bool) {
	if !m.pending {
		return nil, time.Time{}, false
	}
	return new(big.Int).Set(m.reqAmount), m.reqAt, true
}

func (m *memStore) SetInsuranceRequest(amount *big.Int, at time.Time) {
	m.reqAmount = new(big.Int).Set(amount)
	m.reqAt = at
	m.pending = true
}

func (m *memStore) ClearInsuranceRequest() {
	m.pending = false
	m.reqAmount = nil
}

// Sink is the insurance treasury. Zero value is not usable; use New or
// NewWithStore.
type Sink struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// New creates an empty Sink backed by process memory only.
func New() *Sink {
	return &Sink{store: newMemStore(), now: time.Now}
}

// NewWithStore creates an empty Sink whose balance and pending withdrawal
// request persist to store instead of living only in process memory.
func NewWithStore(store Store) *Sink {
	return &Sink{store: store, now: time.Now}
}

// Skim computes the insurance contribution for a house profit of
// houseProfit (may be negative — in which case the contribution is zero)
// using integer basis-point math: max(0, houseProfit) * BPS / 10000.
func Skim(houseProfit *big.Int) *big.Int {
	if houseProfit.Sign() <= 0 {
		return big.NewInt(0)
	}
	v := new(big.Int).Mul(houseProfit, big.NewInt(BPS))
	return v.Div(v, big.NewInt(10_000))
}

// Credit adds amount to the treasury balance (called by the settlement
// contract at close/resolve time).
func (s *Sink) Credit(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.store.InsuranceBalance()
	bal.Add(bal, amount)
	s.store.SetInsuranceBalance(bal)
}

// Balance returns the current treasury balance.
func (s *Sink) Balance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.InsuranceBalance()
}

// RequestWithdrawal starts the timelock for withdrawing amount. Only one
// request may be outstanding at a time.
func (s *Sink) RequestWithdrawal(amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, pending := s.store.InsuranceRequest(); pending {
		return casinoerr.NewPolicy("insurance: a withdrawal request is already pending")
	}
	balance := s.store.InsuranceBalance()
	if amount.Sign() <= 0 || amount.Cmp(balance) > 0 {
		return casinoerr.NewValidation("insurance: requested amount %s exceeds balance %s", amount, balance)
	}
	s.store.SetInsuranceRequest(amount, s.now())
	return nil
}

// CancelWithdrawal cancels any pending withdrawal request. Always allowed
// by the current owner.
func (s *Sink) CancelWithdrawal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.ClearInsuranceRequest()
}

// ExecuteWithdrawal completes a pending withdrawal once the timelock has
// elapsed, deducting it from the treasury balance and returning the
// withdrawn amount.
func (s *Sink) ExecuteWithdrawal() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqAmount, reqAt, pending := s.store.InsuranceRequest()
	if !pending {
		return nil, casinoerr.NewPolicy("insurance: no withdrawal request pending")
	}
	if s.now().Sub(reqAt) < WithdrawalTimelock {
		return nil, casinoerr.NewPolicy("insurance: withdrawal timelock not yet elapsed")
	}
	balance := s.store.InsuranceBalance()
	if reqAmount.Cmp(balance) > 0 {
		return nil, casinoerr.NewIntegrity("insurance: pending withdrawal %s exceeds current balance %s", reqAmount, balance)
	}
	balance.Sub(balance, reqAmount)
	s.store.SetInsuranceBalance(balance)
	s.store.ClearInsuranceRequest()
	return reqAmount, nil
}
