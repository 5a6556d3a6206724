package channel

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentcasino/channel/bankroll"
	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/events"
	"github.com/agentcasino/channel/signer"
)

// SignedState is the tuple the engine hands back after every mutation: the
// current channel state plus the house's EIP-712 signature over it. An
// agent's client persists the highest-nonce SignedState it has seen and
// submits it to the settlement contract on dispute.
type SignedState struct {
	Agent         string `json:"agent"`
	AgentBalance  string `json:"agent_balance"`
	CasinoBalance string `json:"casino_balance"`
	Nonce         uint64 `json:"nonce"`
	Signature     string `json:"signature"`
}

// Engine is the off-chain channel-and-game engine. It owns
// the in-memory channel table exclusively; the settlement contract never
// reads it directly, only the signed states it periodically hands out.
type Engine struct {
	store      *Store
	bank       *bankroll.Guard
	signerPort signer.Port
	domain     signer.Domain
	minDeposit  *big.Int
	maxDeposit  *big.Int
	maxChannels int
	emitter     *events.Emitter
}

// Config bundles Engine's construction-time parameters.
type Config struct {
	Bank       *bankroll.Guard
	Signer     signer.Port
	Domain     signer.Domain
	MinDeposit *big.Int
	MaxDeposit *big.Int
	// MaxChannels caps how many channels may be open at once. Zero means
	// unlimited.
	MaxChannels int
	// CommitTimeout overrides the pending-commit expiry window (default
	// CommitTTL) when nonzero.
	CommitTimeout time.Duration
	// Emitter is optional. When set, the engine publishes a channel_opened,
	// round_resolved, or channel_closed event after every successful open,
	// game action, or close.
	Emitter *events.Emitter
}

// NewEngine creates an Engine backed by a fresh Store.
func NewEngine(cfg Config) *Engine {
	store := NewStore()
	if cfg.CommitTimeout > 0 {
		store.SetCommitTTL(cfg.CommitTimeout)
	}
	return &Engine{
		store:       store,
		bank:        cfg.Bank,
		signerPort:  cfg.Signer,
		domain:      cfg.Domain,
		minDeposit:  cfg.MinDeposit,
		maxDeposit:  cfg.MaxDeposit,
		maxChannels: cfg.MaxChannels,
		emitter:     cfg.Emitter,
	}
}

func (e *Engine) emit(typ events.EventType, action, agent string, result map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Event{
		Timestamp: e.store.Now().Unix(),
		Type:      typ,
		Action:    action,
		Agent:     agent,
		Result:    result,
	})
}

// Store exposes the engine's backing store, for the RPC layer's read-only
// status endpoints and for wiring games' Scheduler sweeps.
func (e *Engine) Store() *Store { return e.store }

func (e *Engine) sign(ch *Channel) (SignedState, error) {
	return signChannelState(e.signerPort, e.domain, ch)
}

// signChannelState asks signerPort for a house signature over ch's current
// balances/nonce under domain. Every mutator in this package — the engine's
// own HandleAction/CloseChannel/OpenChannel as well as a Scheduler's
// out-of-band fold — must route through this so every successful mutation
// produces a state proof in the same shape.
func signChannelState(signerPort signer.Port, domain signer.Domain, ch *Channel) (SignedState, error) {
	addr, err := decodeAgentAddress(ch.Agent)
	if err != nil {
		return SignedState{}, err
	}
	state := signer.ChannelState{
		Agent:         addr,
		AgentBalance:  new(big.Int).Set(ch.AgentBalance),
		CasinoBalance: new(big.Int).Set(ch.HouseBalance),
		Nonce:         new(big.Int).SetUint64(ch.Nonce),
	}
	sig, err := signerPort.Sign(domain, state)
	if err != nil {
		return SignedState{}, casinoerr.NewCryptographic("channel: sign state: %v", err)
	}
	return SignedState{
		Agent:         ch.Agent,
		AgentBalance:  ch.AgentBalance.String(),
		CasinoBalance: ch.HouseBalance.String(),
		Nonce:         ch.Nonce,
		Signature:     "0x" + hex.EncodeToString(sig),
	}, nil
}

func decodeAgentAddress(agentHex string) (common.Address, error) {
	raw, err := hex.DecodeString(agentHex)
	if err != nil || len(raw) != 20 {
		return common.Address{}, casinoerr.NewValidation("channel: invalid agent address %q", agentHex)
	}
	return common.BytesToAddress(raw), nil
}

// OpenChannel opens a new channel for agent, locking houseDeposit against
// the bankroll cap and rejecting a second concurrent channel for the same
// agent.
func (e *Engine) OpenChannel(agent string, agentDeposit, houseDeposit *big.Int) (*Channel, SignedState, error) {
	if _, err := decodeAgentAddress(agent); err != nil {
		return nil, SignedState{}, err
	}
	if existing := e.store.GetChannel(agent); existing != nil && existing.Status == StateOpen {
		return nil, SignedState{}, casinoerr.NewPolicy("channel: agent %s already has an open channel", agent)
	}
	if e.maxChannels > 0 && e.store.ChannelCount() >= e.maxChannels {
		return nil, SignedState{}, casinoerr.NewPolicy("channel: maximum of %d open channels reached", e.maxChannels)
	}
	if agentDeposit.Sign() < 0 || houseDeposit.Sign() < 0 {
		return nil, SignedState{}, casinoerr.NewValidation("channel: deposits must be non-negative")
	}
	if e.minDeposit != nil && agentDeposit.Cmp(e.minDeposit) < 0 {
		return nil, SignedState{}, casinoerr.NewValidation("channel: agent deposit %s below minimum %s", agentDeposit, e.minDeposit)
	}
	if e.maxDeposit != nil && agentDeposit.Cmp(e.maxDeposit) > 0 {
		return nil, SignedState{}, casinoerr.NewValidation("channel: agent deposit %s exceeds maximum %s", agentDeposit, e.maxDeposit)
	}
	if !e.bank.CanLock(houseDeposit) {
		return nil, SignedState{}, casinoerr.NewPolicy("channel: house deposit %s would exceed bankroll exposure cap", houseDeposit)
	}
	if err := e.bank.Lock(houseDeposit); err != nil {
		return nil, SignedState{}, err
	}

	now := e.store.Now().Unix()
	ch := &Channel{
		Agent:        agent,
		AgentDeposit: new(big.Int).Set(agentDeposit),
		HouseDeposit: new(big.Int).Set(houseDeposit),
		AgentBalance: new(big.Int).Set(agentDeposit),
		HouseBalance: new(big.Int).Set(houseDeposit),
		Nonce:        0,
		Status:       StateOpen,
		OpenedAt:     now,
	}
	e.store.SetChannel(ch)

	signed, err := e.sign(ch)
	if err != nil {
		return nil, SignedState{}, err
	}
	e.emit(events.EventChannelOpened, "open_channel", agent, map[string]any{
		"agentDeposit": agentDeposit.String(),
		"houseDeposit": houseDeposit.String(),
	})
	return ch, signed, nil
}

// GetStatus returns the channel state for agent.
func (e *Engine) GetStatus(agent string) (*Channel, error) {
	ch := e.store.GetChannel(agent)
	if ch == nil {
		return nil, casinoerr.NewValidation("channel: no channel for agent %s", agent)
	}
	return ch, nil
}

// HandleAction routes one "<game>_<action>" request to its game module and
// returns the game's result plus the refreshed signed channel state.
func (e *Engine) HandleAction(agent, game, action string, params json.RawMessage) (any, SignedState, error) {
	ch := e.store.GetChannel(agent)
	if ch == nil || ch.Status != StateOpen {
		return nil, SignedState{}, casinoerr.NewLiveness("channel: no open channel for agent %s", agent)
	}
	g, err := Lookup(game)
	if err != nil {
		return nil, SignedState{}, err
	}
	ctx := &Context{Store: e.store, Signer: e.signerPort, Domain: e.domain}
	snap := ch.Clone()

	result, err := g.HandleAction(ctx, ch, action, params)
	if err != nil {
		ch.Restore(snap)
		return nil, SignedState{}, err
	}
	if !ch.InvariantOK() {
		ch.Restore(snap)
		return nil, SignedState{}, casinoerr.NewIntegrity("channel: post-action balance invariant violated for agent %s", agent)
	}
	e.store.SetChannel(ch)

	// Signing is the only suspending step in a mutation; if it fails, roll
	// the balance/nonce update back so conservation and the nonce are
	// untouched.
	signed, err := e.sign(ch)
	if err != nil {
		ch.Restore(snap)
		e.store.SetChannel(ch)
		return nil, SignedState{}, err
	}
	resultFields, _ := result.(map[string]any)
	e.emit(events.EventRoundResolved, game+"_"+action, agent, resultFields)
	return result, signed, nil
}

// CloseChannel cooperatively closes agent's channel, releasing the house's
// locked collateral back to the bankroll and returning the final signed
// state the agent should submit on-chain (or simply discard, if the
// settlement contract is told out of band).
func (e *Engine) CloseChannel(agent string) (SignedState, error) {
	ch := e.store.GetChannel(agent)
	if ch == nil || ch.Status != StateOpen {
		return SignedState{}, casinoerr.NewLiveness("channel: no open channel for agent %s", agent)
	}
	if !ch.InvariantOK() {
		return SignedState{}, casinoerr.NewIntegrity("channel: close refused, balance invariant violated for agent %s", agent)
	}
	ch.Status = StateClosed
	signed, err := e.sign(ch)
	if err != nil {
		ch.Status = StateOpen
		return SignedState{}, err
	}
	_ = e.bank.Unlock(ch.HouseDeposit)
	e.store.DeleteChannel(agent)
	e.emit(events.EventChannelClosed, "close_channel", agent, map[string]any{
		"finalNonce": ch.Nonce,
	})
	return signed, nil
}

// RunScheduled sweeps expired pending commits, audits every open channel's
// balance invariant, and runs every registered game's periodic work (lotto
// draw execution).
func (e *Engine) RunScheduled() error {
	e.store.SweepExpiredCommits()
	for _, ch := range e.store.AllChannels() {
		if !ch.InvariantOK() {
			// Close will refuse such a channel anyway; flag it early so the
			// operator sees the corruption before the agent does.
			log.Printf("[engine] balance invariant violated for agent %s: %s+%s != %s+%s",
				ch.Agent, ch.AgentBalance, ch.HouseBalance, ch.AgentDeposit, ch.HouseDeposit)
		}
	}
	ctx := &Context{Store: e.store, Signer: e.signerPort, Domain: e.domain, Emitter: e.emitter}
	for _, name := range Registered() {
		g, err := Lookup(name)
		if err != nil {
			continue
		}
		if sched, ok := g.(Scheduler); ok {
			if err := sched.RunScheduled(ctx, e.store); err != nil {
				return err
			}
		}
	}
	return nil
}
