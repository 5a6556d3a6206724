package games

import (
	"encoding/json"
	"math/big"

	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/channel"
	"github.com/agentcasino/channel/commitreveal"
	"github.com/agentcasino/channel/weimath"
)

func init() {
	channel.RegisterGame(NewSlots())
}

// slotWeights and slotPayouts are fixed per-symbol tables: weight[i] is
// that symbol's share out of 100, payout[i] its win multiplier.
var slotWeights = [5]uint32{30, 25, 20, 15, 10}
var slotPayouts = [5]uint64{5, 10, 25, 50, 290}

// slotMaxMultiplier is the worst-case payout multiplier (three-of-a-kind on
// the rarest symbol), used for bankroll guarding.
const slotMaxMultiplier = 290

// Slots is the three-reel slot machine game.
type Slots struct{}

// NewSlots constructs the slots game plug-in.
func NewSlots() *Slots { return &Slots{} }

func (s *Slots) Name() string          { return "slots" }
func (s *Slots) DisplayName() string   { return "Slots" }
func (s *Slots) RTP() float64          { return slotsRTP() }
func (s *Slots) MaxMultiplier() uint64 { return slotMaxMultiplier }
func (s *Slots) Actions() []string     { return []string{"commit", "reveal", "status"} }

// slotsRTP is the player's expected return per unit staked: a spin pays
// only when all three independently-drawn reels land the same symbol, so
// each symbol contributes (weight/100)^3 * payout.
func slotsRTP() float64 {
	sum := 0.0
	for i, w := range slotWeights {
		p := float64(w) / 100
		sum += p * p * p * float64(slotPayouts[i])
	}
	return sum
}

// slotsCommitParams is the wire format for the slots "commit" action.
type slotsCommitParams struct {
	Bet string `json:"bet"`
}

// slotsRevealParams is the wire format for the slots "reveal" action.
type slotsRevealParams struct {
	AgentSeed string `json:"agentSeed"`
}

func (s *Slots) HandleAction(ctx *channel.Context, ch *channel.Channel, action string, params json.RawMessage) (any, error) {
	switch action {
	case "commit":
		return s.commit(ctx, ch, params)
	case "reveal":
		return s.reveal(ctx, ch, params)
	case "status":
		return pendingStatus(ctx, ch, s.Name()), nil
	default:
		return nil, casinoerr.NewValidation("slots: unknown action %q", action)
	}
}

func (s *Slots) commit(ctx *channel.Context, ch *channel.Channel, raw json.RawMessage) (any, error) {
	var p slotsCommitParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	betWei, err := weimath.ToWei(p.Bet)
	if err != nil {
		return nil, err
	}
	if err := ValidateBet(ch, betWei, s.MaxMultiplier(), 2); err != nil {
		return nil, err
	}
	casinoSeed, commitment, err := commitreveal.Commit()
	if err != nil {
		return nil, casinoerr.NewCryptographic("slots: commit: %v", err)
	}
	pc := &channel.PendingCommit{
		Agent:      ch.Agent,
		Game:       s.Name(),
		CasinoSeed: casinoSeed,
		BetWei:     betWei,
	}
	if err := ctx.Store.BeginCommit(pc); err != nil {
		return nil, err
	}
	return map[string]any{
		"commitment": commitment,
		"bet":        p.Bet,
	}, nil
}

func (s *Slots) reveal(ctx *channel.Context, ch *channel.Channel, raw json.RawMessage) (any, error) {
	var p slotsRevealParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	pc, err := ctx.Store.TakePending(ch.Agent, s.Name())
	if err != nil {
		return nil, err
	}
	if ch.AgentBalance.Cmp(pc.BetWei) < 0 {
		return nil, casinoerr.NewPolicy("slots: agent balance %s below committed bet %s", ch.AgentBalance, pc.BetWei)
	}

	hash, _, proof := commitreveal.ComputeResult(pc.CasinoSeed, p.AgentSeed, ch.Nonce)

	reels := make([]int, 3)
	for i, off := range []int{0, 4, 8} {
		v := be32At(hash, off) % 100
		reels[i] = symbolIndex(v)
	}

	var payout *big.Int
	won := reels[0] == reels[1] && reels[1] == reels[2]
	if won {
		payout = new(big.Int).Mul(pc.BetWei, new(big.Int).SetUint64(slotPayouts[reels[0]]))
		payout = minBig(payout, ch.HouseBalance)
	} else {
		payout = big.NewInt(0)
	}

	ch.AgentBalance.Add(ch.AgentBalance, payout)
	ch.AgentBalance.Sub(ch.AgentBalance, pc.BetWei)
	ch.HouseBalance.Add(ch.HouseBalance, pc.BetWei)
	ch.HouseBalance.Sub(ch.HouseBalance, payout)
	ch.Nonce++

	ch.Games = append(ch.Games, channel.RoundRecord{
		Agent:      ch.Agent,
		Game:       s.Name(),
		Bet:        weimath.ToDecimal(pc.BetWei),
		Payout:     weimath.ToDecimal(payout),
		Won:        won,
		Reels:      reels,
		Multiplier: payoutMultiplier(won, reels),
		Nonce:      ch.Nonce,
		Timestamp:  ctx.Store.Now().Unix(),
	})

	return map[string]any{
		"reels":  reels,
		"payout": weimath.ToDecimal(payout),
		"won":    won,
		"proof":  proof,
	}, nil
}

func payoutMultiplier(won bool, reels []int) uint64 {
	if !won {
		return 0
	}
	return slotPayouts[reels[0]]
}

// symbolIndex maps a uniform value in [0,100) to a symbol index according
// to slotWeights' cumulative buckets.
func symbolIndex(v uint32) int {
	var cum uint32
	for i, w := range slotWeights {
		cum += w
		if v < cum {
			return i
		}
	}
	return len(slotWeights) - 1
}
