// Package channel implements the off-chain channel-and-game engine: the
// in-memory channel table, per-channel mutators, commit-reveal-backed game
// routing, and signed-state production after every mutation.
package channel

import "math/big"

// Status is a channel's lifecycle state.
type Status int

const (
	StateNone Status = iota
	StateOpen
	StateDisputed
	StateClosed
)

func (s Status) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateOpen:
		return "open"
	case StateDisputed:
		return "disputed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoundRecord is a non-authoritative record of one resolved round, kept on
// the channel for display purposes only — the signed ChannelState is what
// settlement actually trusts.
type RoundRecord struct {
	Agent        string `json:"agent"`
	Game         string `json:"game"`
	Bet          string `json:"bet"` // decimal ether, display only
	Payout       string `json:"payout"`
	Won          bool   `json:"won"`
	Multiplier   uint64 `json:"multiplier,omitempty"`
	Reels        []int  `json:"reels,omitempty"`
	Choice       string `json:"choice,omitempty"`
	Result       string `json:"result,omitempty"`
	PickedNumber int    `json:"picked_number,omitempty"`
	DrawID       string `json:"draw_id,omitempty"`
	TicketCount  int    `json:"ticket_count,omitempty"`
	Nonce        uint64 `json:"nonce"`
	Timestamp    int64  `json:"timestamp"`
}

// Channel mirrors the on-chain escrow record for one agent.
// Only the engine's mutators may change AgentBalance/HouseBalance/Nonce;
// everything else is fixed at open.
type Channel struct {
	Agent           string
	AgentDeposit    *big.Int
	HouseDeposit    *big.Int
	AgentBalance    *big.Int
	HouseBalance    *big.Int
	Nonce           uint64
	Status          Status
	OpenedAt        int64
	DisputeDeadline int64
	Games           []RoundRecord
}

// Clone returns a deep copy of c, for the snapshot/rollback step a mutator
// takes before an operation that can still fail after balances/nonce have
// already moved (e.g. signing).
func (c *Channel) Clone() *Channel {
	clone := *c
	clone.AgentDeposit = new(big.Int).Set(c.AgentDeposit)
	clone.HouseDeposit = new(big.Int).Set(c.HouseDeposit)
	clone.AgentBalance = new(big.Int).Set(c.AgentBalance)
	clone.HouseBalance = new(big.Int).Set(c.HouseBalance)
	clone.Games = append([]RoundRecord(nil), c.Games...)
	return &clone
}

// Restore overwrites c's mutable fields with snap's, in place — used to
// roll back a failed mutation without invalidating other references to c.
func (c *Channel) Restore(snap *Channel) {
	c.AgentDeposit = snap.AgentDeposit
	c.HouseDeposit = snap.HouseDeposit
	c.AgentBalance = snap.AgentBalance
	c.HouseBalance = snap.HouseBalance
	c.Nonce = snap.Nonce
	c.Status = snap.Status
	c.OpenedAt = snap.OpenedAt
	c.DisputeDeadline = snap.DisputeDeadline
	c.Games = snap.Games
}

// InvariantOK reports whether conservation holds for c: balances sum to
// deposits and neither side is negative.
func (c *Channel) InvariantOK() bool {
	sumBalances := new(big.Int).Add(c.AgentBalance, c.HouseBalance)
	sumDeposits := new(big.Int).Add(c.AgentDeposit, c.HouseDeposit)
	return sumBalances.Cmp(sumDeposits) == 0 &&
		c.AgentBalance.Sign() >= 0 && c.HouseBalance.Sign() >= 0
}

// PendingCommit is the durable record of an outstanding commit, keyed by
// (agent, game).
type PendingCommit struct {
	Agent      string
	Game       string
	CasinoSeed string
	BetWei     *big.Int
	Params     map[string]any
	Timestamp  int64 // unix nanoseconds
}

// Draw is one lotto drawing. Immutable once Drawn is set.
type Draw struct {
	DrawID       string
	CasinoSeed   string
	Commitment   string
	DrawTime     int64 // unix seconds; draw becomes eligible to execute at/after this time
	Tickets      map[string][]int // agent -> picked numbers, one entry per ticket
	TotalPool    *big.Int
	Drawn        bool
	WinningNumber int
	DrawnAt      int64
}
