package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentcasino/channel/bankroll"
	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/insurance"
	"github.com/agentcasino/channel/relay"
	"github.com/agentcasino/channel/signer"
)

// Defaults applied when the corresponding Config fields are zero.
var (
	ChallengePeriod    = 24 * time.Hour
	MinChannelDuration = time.Hour
)

// Contract is the on-chain settlement counterpart: it holds escrowed
// funds, verifies house signatures, enforces nonce monotonicity, skims
// insurance, and exposes the dispute/emergency-exit paths. It never reads
// the off-chain engine's in-memory table directly — the two only meet
// through a SignedState the agent submits.
type Contract struct {
	ledger      *Ledger
	bank        *bankroll.Guard
	ins         *insurance.Sink
	domain      signer.Domain
	houseSigner common.Address

	minDeposit         *big.Int
	maxDeposit         *big.Int
	minChannelDuration time.Duration
	challengePeriod    time.Duration

	// relaySink and relayStealthAddress forward an executed insurance
	// withdrawal to a stealth address instead of crediting it straight to
	// the owner, so the withdrawal's on-chain destination carries no link
	// back to this contract. Either being unset skips relaying entirely.
	relaySink           relay.Sink
	relayStealthAddress string

	now func() time.Time
}

// Config bundles Contract's construction-time parameters.
type Config struct {
	Ledger             *Ledger
	Bank               *bankroll.Guard
	Insurance          *insurance.Sink
	Domain             signer.Domain
	HouseSigner        common.Address
	MinDeposit         *big.Int
	MaxDeposit         *big.Int
	MinChannelDuration time.Duration
	ChallengePeriod    time.Duration
	Owner              string
	// Relay and RelayStealthAddress are optional; when both are set,
	// ExecuteInsuranceWithdrawal forwards the withdrawn amount through Relay
	// instead of crediting it directly.
	Relay               relay.Sink
	RelayStealthAddress string
}

// NewContract constructs a Contract.
func NewContract(cfg Config) *Contract {
	minDur := cfg.MinChannelDuration
	if minDur == 0 {
		minDur = MinChannelDuration
	}
	period := cfg.ChallengePeriod
	if period == 0 {
		period = ChallengePeriod
	}
	// Owner is durable ledger state: only seed it from config on a fresh
	// ledger that has never recorded one.
	if cfg.Ledger.Owner() == "" && cfg.Owner != "" {
		cfg.Ledger.SetOwner(cfg.Owner)
		_ = cfg.Ledger.Commit()
	}
	return &Contract{
		ledger:              cfg.Ledger,
		bank:                cfg.Bank,
		ins:                 cfg.Insurance,
		domain:              cfg.Domain,
		houseSigner:         cfg.HouseSigner,
		minDeposit:          cfg.MinDeposit,
		maxDeposit:          cfg.MaxDeposit,
		minChannelDuration:  minDur,
		challengePeriod:     period,
		relaySink:           cfg.Relay,
		relayStealthAddress: cfg.RelayStealthAddress,
		now:                 time.Now,
	}
}

// OpenChannel opens a channel for agent, escrowing value.
func (c *Contract) OpenChannel(agent string, value *big.Int) (*Channel, error) {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return nil, err
	}
	if ch.Status != StatusNone {
		return nil, casinoerr.NewValidation("settlement: channel for %s already exists", agent)
	}
	if value.Cmp(c.minDeposit) < 0 || value.Cmp(c.maxDeposit) > 0 {
		return nil, casinoerr.NewValidation("settlement: deposit %s outside [%s,%s]", value, c.minDeposit, c.maxDeposit)
	}
	snap := c.ledger.Snapshot()
	ch = &Channel{
		Agent:        agent,
		AgentDeposit: new(big.Int).Set(value),
		HouseDeposit: big.NewInt(0),
		AgentBalance: new(big.Int).Set(value),
		HouseBalance: big.NewInt(0),
		Status:       StatusOpen,
		OpenedAt:     c.now().Unix(),
	}
	if err := c.ledger.SetChannel(ch); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	if err := c.ledger.Commit(); err != nil {
		return nil, err
	}
	return ch, nil
}

// FundHouseSide increases houseDeposit/houseBalance by value, subject to
// the bankroll exposure cap.
func (c *Contract) FundHouseSide(agent string, value *big.Int) (*Channel, error) {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return nil, err
	}
	if ch.Status != StatusOpen {
		return nil, casinoerr.NewValidation("settlement: channel for %s not open", agent)
	}
	if !c.bank.CanLock(value) {
		return nil, casinoerr.NewPolicy("settlement: funding %s would exceed bankroll exposure cap", value)
	}
	snap := c.ledger.Snapshot()
	if err := c.bank.Lock(value); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	ch.HouseDeposit.Add(ch.HouseDeposit, value)
	ch.HouseBalance.Add(ch.HouseBalance, value)
	if err := c.ledger.SetChannel(ch); err != nil {
		_ = c.bank.Unlock(value)
		_ = c.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	if err := c.ledger.Commit(); err != nil {
		return nil, err
	}
	return ch, nil
}

// verifySignedClose checks nonce monotonicity, conservation, and that sig
// recovers to the configured house signer, for any state the agent
// presents.
func (c *Contract) verifySignedClose(ch *Channel, agentBalance, houseBalance *big.Int, nonce uint64, sig []byte) error {
	if nonce <= ch.Nonce && ch.Nonce != 0 {
		return casinoerr.NewValidation("settlement: presented nonce %d not greater than current %d", nonce, ch.Nonce)
	}
	sum := new(big.Int).Add(agentBalance, houseBalance)
	dep := new(big.Int).Add(ch.AgentDeposit, ch.HouseDeposit)
	if sum.Cmp(dep) != 0 {
		return casinoerr.NewIntegrity("settlement: presented balances %s+%s do not conserve deposits %s", agentBalance, houseBalance, dep)
	}
	agentAddr, err := decodeAgentAddress(ch.Agent)
	if err != nil {
		return err
	}
	state := signer.ChannelState{Agent: agentAddr, AgentBalance: agentBalance, CasinoBalance: houseBalance, Nonce: new(big.Int).SetUint64(nonce)}
	recovered, err := signer.Recover(c.domain, state, sig)
	if err != nil {
		return err
	}
	if recovered != c.houseSigner {
		return casinoerr.NewCryptographic("settlement: signature recovers to %s, want house %s", recovered.Hex(), c.houseSigner.Hex())
	}
	return nil
}

func decodeAgentAddress(agentHex string) (common.Address, error) {
	raw := common.FromHex(agentHex)
	if len(raw) != 20 {
		return common.Address{}, casinoerr.NewValidation("settlement: invalid agent address %q", agentHex)
	}
	return common.BytesToAddress(raw), nil
}

// settle pays out a final (agentBalance, houseBalance) pair, skims
// insurance off any house profit, and closes the channel.
func (c *Contract) settle(ch *Channel, agentBalance, houseBalance *big.Int, nonce uint64) error {
	profit := new(big.Int).Sub(houseBalance, ch.HouseDeposit)
	skim := insurance.Skim(profit)
	housePayout := new(big.Int).Sub(houseBalance, skim)

	ch.AgentBalance = agentBalance
	ch.HouseBalance = housePayout
	ch.Nonce = nonce
	ch.Status = StatusClosed
	if err := c.ledger.SetChannel(ch); err != nil {
		return err
	}
	c.ins.Credit(skim)
	_ = c.bank.Unlock(ch.HouseDeposit)
	// Pull-payment fallback: in this single-process model, transfers never
	// fail at the network layer, but the amounts are still routed through
	// pendingWithdrawals so withdrawPending's code path is exercised and
	// agents/house can claim on their own schedule.
	c.ledger.CreditPendingWithdrawal(ch.Agent, agentBalance)
	c.ledger.CreditPendingWithdrawal("house", housePayout)
	return nil
}

// CloseChannel cooperatively settles agent's channel using a house-signed
// state with nonce strictly greater than the channel's current nonce; while
// the current nonce is 0, a nonce-0 state is also accepted.
func (c *Contract) CloseChannel(agent string, agentBalance, houseBalance *big.Int, nonce uint64, sig []byte) error {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return err
	}
	if ch.Status != StatusOpen {
		return casinoerr.NewValidation("settlement: channel for %s not open", agent)
	}
	if err := c.verifySignedClose(ch, agentBalance, houseBalance, nonce, sig); err != nil {
		return err
	}
	snap := c.ledger.Snapshot()
	if err := c.settle(ch, agentBalance, houseBalance, nonce); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return err
	}
	return c.ledger.Commit()
}

// StartChallenge opens a dispute window over a presented state.
func (c *Contract) StartChallenge(agent string, agentBalance, houseBalance *big.Int, nonce uint64, sig []byte) error {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return err
	}
	if ch.Status != StatusOpen {
		return casinoerr.NewValidation("settlement: channel for %s not open", agent)
	}
	if err := c.verifySignedClose(ch, agentBalance, houseBalance, nonce, sig); err != nil {
		return err
	}
	snap := c.ledger.Snapshot()
	ch.AgentBalance = agentBalance
	ch.HouseBalance = houseBalance
	ch.Nonce = nonce
	ch.Status = StatusDisputed
	ch.DisputeDeadline = c.now().Add(c.challengePeriod).Unix()
	if err := c.ledger.SetChannel(ch); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return err
	}
	return c.ledger.Commit()
}

// CounterChallenge overrides a dispute with a strictly higher-nonce state
// while still inside the deadline, and resets the deadline.
func (c *Contract) CounterChallenge(agent string, agentBalance, houseBalance *big.Int, nonce uint64, sig []byte) error {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return err
	}
	if ch.Status != StatusDisputed {
		return casinoerr.NewValidation("settlement: channel for %s not disputed", agent)
	}
	if c.now().Unix() > ch.DisputeDeadline {
		return casinoerr.NewLiveness("settlement: dispute deadline for %s has passed", agent)
	}
	if err := c.verifySignedClose(ch, agentBalance, houseBalance, nonce, sig); err != nil {
		return err
	}
	snap := c.ledger.Snapshot()
	ch.AgentBalance = agentBalance
	ch.HouseBalance = houseBalance
	ch.Nonce = nonce
	ch.DisputeDeadline = c.now().Add(c.challengePeriod).Unix()
	if err := c.ledger.SetChannel(ch); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return err
	}
	return c.ledger.Commit()
}

// ResolveChallenge settles a disputed channel at its currently stored
// balances once the deadline has passed.
func (c *Contract) ResolveChallenge(agent string) error {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return err
	}
	if ch.Status != StatusDisputed {
		return casinoerr.NewValidation("settlement: channel for %s not disputed", agent)
	}
	if c.now().Unix() <= ch.DisputeDeadline {
		return casinoerr.NewPolicy("settlement: dispute deadline for %s has not passed", agent)
	}
	snap := c.ledger.Snapshot()
	if err := c.settle(ch, ch.AgentBalance, ch.HouseBalance, ch.Nonce); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return err
	}
	return c.ledger.Commit()
}

// EmergencyExit returns original deposits to an agent who never played a
// round (nonce == 0) once the minimum channel duration has elapsed.
func (c *Contract) EmergencyExit(agent string) error {
	ch, err := c.ledger.GetChannel(agent)
	if err != nil {
		return err
	}
	if ch.Status != StatusOpen {
		return casinoerr.NewValidation("settlement: channel for %s not open", agent)
	}
	if ch.Nonce != 0 {
		return casinoerr.NewPolicy("settlement: channel for %s has already played rounds", agent)
	}
	elapsed := time.Duration(c.now().Unix()-ch.OpenedAt) * time.Second
	if elapsed < c.minChannelDuration {
		return casinoerr.NewPolicy("settlement: minimum channel duration not yet elapsed")
	}
	snap := c.ledger.Snapshot()
	ch.Status = StatusClosed
	if err := c.ledger.SetChannel(ch); err != nil {
		_ = c.ledger.RevertToSnapshot(snap)
		return err
	}
	_ = c.bank.Unlock(ch.HouseDeposit)
	c.ledger.CreditPendingWithdrawal(agent, ch.AgentDeposit)
	c.ledger.CreditPendingWithdrawal("house", ch.HouseDeposit)
	return c.ledger.Commit()
}

// WithdrawPending lets payee pull any balance credited by the pull-payment
// fallback, clearing it.
func (c *Contract) WithdrawPending(payee string) (*big.Int, error) {
	amt := c.ledger.ClearPendingWithdrawal(payee)
	if amt.Sign() == 0 {
		return nil, casinoerr.NewValidation("settlement: no pending withdrawal for %s", payee)
	}
	if err := c.ledger.Commit(); err != nil {
		return nil, err
	}
	return amt, nil
}

// TransferOwner begins the 2-day timelocked ownership handover to
// newOwner. Blocked while the bankroll guard has any exposure locked. The
// pending transfer and its request time are durable ledger state, so a
// restart mid-timelock does not reset the clock.
func (c *Contract) TransferOwner(newOwner string) error {
	if c.bank.TotalLocked().Sign() > 0 {
		return casinoerr.NewPolicy("settlement: ownership transfer blocked while bankroll exposure is nonzero")
	}
	c.ledger.SetPendingOwner(newOwner)
	c.ledger.SetOwnerTransferAt(c.now())
	return c.ledger.Commit()
}

// OwnerTransferTimelock is the wait between TransferOwner and AcceptOwner.
const OwnerTransferTimelock = 2 * 24 * time.Hour

// AcceptOwner completes a pending ownership transfer once the timelock
// has elapsed.
func (c *Contract) AcceptOwner() error {
	pending := c.ledger.PendingOwner()
	if pending == "" {
		return casinoerr.NewPolicy("settlement: no ownership transfer pending")
	}
	if c.now().Sub(c.ledger.OwnerTransferAt()) < OwnerTransferTimelock {
		return casinoerr.NewPolicy("settlement: ownership transfer timelock not yet elapsed")
	}
	c.ledger.SetOwner(pending)
	c.ledger.SetPendingOwner("")
	return c.ledger.Commit()
}

// CancelTransferOwner cancels a pending ownership transfer.
func (c *Contract) CancelTransferOwner() error {
	c.ledger.SetPendingOwner("")
	return c.ledger.Commit()
}

// Owner returns the current owner.
func (c *Contract) Owner() string { return c.ledger.Owner() }

// SetInsuranceFund swaps the insurance module. The insurance sink and
// bankroll guard are constructed before the contract and may need to be
// replaced after deployment (a migration to a new treasury, say), so both
// are injectable post-construction rather than fixed for the contract's
// lifetime.
func (c *Contract) SetInsuranceFund(ins *insurance.Sink) error {
	if ins == nil {
		return casinoerr.NewValidation("settlement: insurance fund must not be nil")
	}
	c.ins = ins
	return nil
}

// SetBankrollManager swaps the bankroll guard. Rejected while any exposure
// is locked — swapping mid-flight would orphan the locked total.
func (c *Contract) SetBankrollManager(bank *bankroll.Guard) error {
	if bank == nil {
		return casinoerr.NewValidation("settlement: bankroll manager must not be nil")
	}
	if c.bank.TotalLocked().Sign() > 0 {
		return casinoerr.NewPolicy("settlement: bankroll manager swap blocked while exposure is nonzero")
	}
	c.bank = bank
	return nil
}

// RequestInsuranceWithdrawal starts the 3-day timelock for withdrawing
// amount from the insurance treasury.
func (c *Contract) RequestInsuranceWithdrawal(amount *big.Int) error {
	if err := c.ins.RequestWithdrawal(amount); err != nil {
		return err
	}
	return c.ledger.Commit()
}

// CancelInsuranceWithdrawal cancels a pending insurance withdrawal request.
func (c *Contract) CancelInsuranceWithdrawal() error {
	c.ins.CancelWithdrawal()
	return c.ledger.Commit()
}

// ExecuteInsuranceWithdrawal completes a pending insurance withdrawal once
// its timelock has elapsed. When a relay sink and stealth address are
// configured, the withdrawn amount is forwarded through the relay instead of
// being credited straight to the owner, so the payout carries no link back
// to this contract; the relay forward is fire-and-forget and
// its failure does not unwind the already-committed withdrawal.
func (c *Contract) ExecuteInsuranceWithdrawal() (*big.Int, error) {
	amt, err := c.ins.ExecuteWithdrawal()
	if err != nil {
		return nil, err
	}
	if c.relaySink == nil || c.relayStealthAddress == "" {
		c.ledger.CreditPendingWithdrawal(c.ledger.Owner(), amt)
	}
	if err := c.ledger.Commit(); err != nil {
		return nil, err
	}
	if c.relaySink != nil && c.relayStealthAddress != "" {
		_ = c.relaySink.Forward(c.relayStealthAddress, amt)
	}
	return amt, nil
}

// InsuranceBalance returns the insurance treasury's current balance.
func (c *Contract) InsuranceBalance() *big.Int { return c.ins.Balance() }

// Ledger exposes the backing ledger, for status queries and commit.
func (c *Contract) Ledger() *Ledger { return c.ledger }
