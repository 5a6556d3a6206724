// Package games implements the concrete Game plug-ins — Slots, Coinflip,
// Lotto — that register themselves with the channel engine's game
// registry at init() time. Each conforms to the channel.Game capability
// and speaks only through the narrow channel.Context it is handed.
package games

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/channel"
	"github.com/agentcasino/channel/weimath"
)

// ValidateBet enforces the common pre-bet checks every commit/reveal game
// must apply before accepting a wager: bet must be positive, the agent
// must be able to cover it, and the house must be able to cover the worst
// case (bet * maxMultiplier * safetyFactor).
func ValidateBet(ch *channel.Channel, betWei *big.Int, maxMultiplier uint64, safetyFactor uint64) error {
	if betWei.Sign() <= 0 {
		return casinoerr.NewValidation("games: bet must be positive, got %s", betWei)
	}
	if ch.AgentBalance.Cmp(betWei) < 0 {
		return casinoerr.NewPolicy("games: agent balance %s below bet %s", ch.AgentBalance, betWei)
	}
	worstCase := new(big.Int).Mul(betWei, new(big.Int).SetUint64(maxMultiplier))
	worstCase.Mul(worstCase, new(big.Int).SetUint64(safetyFactor))
	if worstCase.Cmp(ch.HouseBalance) > 0 {
		return casinoerr.NewPolicy("games: bet %s exceeds house coverage (house balance %s)", betWei, ch.HouseBalance)
	}
	return nil
}

// pendingStatus reports whether (agent, game) has an outstanding commit,
// exposing only the bet and the commit's age. The casino seed stays
// server-side until reveal — handing it out early would let the agent
// search for a winning agentSeed.
func pendingStatus(ctx *channel.Context, ch *channel.Channel, game string) map[string]any {
	pc := ctx.Store.PeekPending(ch.Agent, game)
	if pc == nil {
		return map[string]any{"pending": false}
	}
	age := ctx.Store.Now().Sub(time.Unix(0, pc.Timestamp))
	return map[string]any{
		"pending":    true,
		"bet":        weimath.ToDecimal(pc.BetWei),
		"ageSeconds": int64(age.Seconds()),
	}
}

// decodeParams unmarshals raw into v, wrapping any error as Validation.
func decodeParams(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return casinoerr.NewValidation("games: bad params: %v", err)
	}
	return nil
}

// be32At reads a big-endian uint32 out of hash at byte offset off.
func be32At(hash []byte, off int) uint32 {
	return uint32(hash[off])<<24 | uint32(hash[off+1])<<16 | uint32(hash[off+2])<<8 | uint32(hash[off+3])
}

// minBig returns the smaller of a, b.
func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
