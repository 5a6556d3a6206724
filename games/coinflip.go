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
	channel.RegisterGame(NewCoinflip())
}

// coinflipMaxMultiplier bounds the worst-case payout (a win pays bet*19/10,
// truncated, which is always below 2x the stake; ValidateBet guards with
// this flat ceiling).
const coinflipMaxMultiplier = 2

// coinflipPayoutNum/Den implement the exact 19/10 payout multiplier via
// integer division, never floating point.
const coinflipPayoutNum = 19
const coinflipPayoutDen = 10

// Coinflip is the heads/tails even-money(-ish) game.
type Coinflip struct{}

// NewCoinflip constructs the coinflip game plug-in.
func NewCoinflip() *Coinflip { return &Coinflip{} }

func (c *Coinflip) Name() string          { return "coinflip" }
func (c *Coinflip) DisplayName() string   { return "Coinflip" }
func (c *Coinflip) RTP() float64          { return 0.5 * float64(coinflipPayoutNum) / float64(coinflipPayoutDen) }
func (c *Coinflip) MaxMultiplier() uint64 { return coinflipMaxMultiplier }
func (c *Coinflip) Actions() []string     { return []string{"commit", "reveal", "status"} }

type coinflipCommitParams struct {
	Bet    string `json:"bet"`
	Choice string `json:"choice"`
}

type coinflipRevealParams struct {
	AgentSeed string `json:"agentSeed"`
}

func (c *Coinflip) HandleAction(ctx *channel.Context, ch *channel.Channel, action string, params json.RawMessage) (any, error) {
	switch action {
	case "commit":
		return c.commit(ctx, ch, params)
	case "reveal":
		return c.reveal(ctx, ch, params)
	case "status":
		return pendingStatus(ctx, ch, c.Name()), nil
	default:
		return nil, casinoerr.NewValidation("coinflip: unknown action %q", action)
	}
}

func (c *Coinflip) commit(ctx *channel.Context, ch *channel.Channel, raw json.RawMessage) (any, error) {
	var p coinflipCommitParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Choice != "heads" && p.Choice != "tails" {
		return nil, casinoerr.NewValidation("coinflip: choice must be heads or tails, got %q", p.Choice)
	}
	betWei, err := weimath.ToWei(p.Bet)
	if err != nil {
		return nil, err
	}
	if err := ValidateBet(ch, betWei, c.MaxMultiplier(), 2); err != nil {
		return nil, err
	}
	casinoSeed, commitment, err := commitreveal.Commit()
	if err != nil {
		return nil, casinoerr.NewCryptographic("coinflip: commit: %v", err)
	}
	pc := &channel.PendingCommit{
		Agent:      ch.Agent,
		Game:       c.Name(),
		CasinoSeed: casinoSeed,
		BetWei:     betWei,
		Params:     map[string]any{"choice": p.Choice},
	}
	if err := ctx.Store.BeginCommit(pc); err != nil {
		return nil, err
	}
	return map[string]any{
		"commitment": commitment,
		"bet":        p.Bet,
		"choice":     p.Choice,
	}, nil
}

func (c *Coinflip) reveal(ctx *channel.Context, ch *channel.Channel, raw json.RawMessage) (any, error) {
	var p coinflipRevealParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	pc, err := ctx.Store.TakePending(ch.Agent, c.Name())
	if err != nil {
		return nil, err
	}
	if ch.AgentBalance.Cmp(pc.BetWei) < 0 {
		return nil, casinoerr.NewPolicy("coinflip: agent balance %s below committed bet %s", ch.AgentBalance, pc.BetWei)
	}
	choice, _ := pc.Params["choice"].(string)

	hash, _, proof := commitreveal.ComputeResult(pc.CasinoSeed, p.AgentSeed, ch.Nonce)
	result := "tails"
	if be32At(hash, 0)%2 == 0 {
		result = "heads"
	}
	won := result == choice

	var payout *big.Int
	if won {
		payout = new(big.Int).Mul(pc.BetWei, big.NewInt(coinflipPayoutNum))
		payout.Div(payout, big.NewInt(coinflipPayoutDen))
		ceiling := new(big.Int).Add(ch.HouseBalance, pc.BetWei)
		payout = minBig(payout, ceiling)
	} else {
		payout = big.NewInt(0)
	}

	ch.AgentBalance.Add(ch.AgentBalance, payout)
	ch.AgentBalance.Sub(ch.AgentBalance, pc.BetWei)
	ch.HouseBalance.Add(ch.HouseBalance, pc.BetWei)
	ch.HouseBalance.Sub(ch.HouseBalance, payout)
	ch.Nonce++

	ch.Games = append(ch.Games, channel.RoundRecord{
		Agent:     ch.Agent,
		Game:      c.Name(),
		Bet:       weimath.ToDecimal(pc.BetWei),
		Payout:    weimath.ToDecimal(payout),
		Won:       won,
		Choice:    choice,
		Result:    result,
		Nonce:     ch.Nonce,
		Timestamp: ctx.Store.Now().Unix(),
	})

	return map[string]any{
		"result": result,
		"payout": weimath.ToDecimal(payout),
		"won":    won,
		"proof":  proof,
	}, nil
}
