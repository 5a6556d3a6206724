package games

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/channel"
	"github.com/agentcasino/channel/commitreveal"
	"github.com/agentcasino/channel/events"
	"github.com/agentcasino/channel/weimath"
)

// Fixed game parameters: an 85x payout on a 1-in-100 pick, at most 10
// tickets per agent per draw.
const lottoPayoutMultiplier = 85
const lottoMaxTickets = 10
const lottoNumberRange = 100

var defaultLotto = NewLotto(mustWei("0.0001"), 6*time.Hour)

func init() {
	channel.RegisterGame(defaultLotto)
}

func mustWei(s string) *big.Int {
	v, err := weimath.ToWei(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Configure overrides the registered lotto game's ticket price, draw
// interval, and per-draw ticket cap, for wiring from loaded configuration
// at startup. A non-positive maxTickets leaves the existing cap unchanged.
func Configure(ticketPrice *big.Int, drawInterval time.Duration, maxTickets int) {
	defaultLotto.mu.Lock()
	defer defaultLotto.mu.Unlock()
	defaultLotto.ticketPrice = new(big.Int).Set(ticketPrice)
	defaultLotto.drawInterval = drawInterval
	if maxTickets > 0 {
		defaultLotto.maxTickets = maxTickets
	}
}

// Lotto is the number-pick drawing game. Unlike Slots/Coinflip it has no
// commit/reveal handshake with the agent — the randomness commitment is
// made once per draw, at draw creation, and shared across every ticket
// holder.
type Lotto struct {
	mu           sync.RWMutex
	ticketPrice  *big.Int
	drawInterval time.Duration
	maxTickets   int
}

// NewLotto constructs a lotto game plug-in with the given ticket price (wei)
// and draw interval, using the default per-draw ticket cap.
func NewLotto(ticketPrice *big.Int, drawInterval time.Duration) *Lotto {
	return &Lotto{ticketPrice: new(big.Int).Set(ticketPrice), drawInterval: drawInterval, maxTickets: lottoMaxTickets}
}

func (l *Lotto) Name() string          { return "lotto" }
func (l *Lotto) DisplayName() string   { return "Lotto" }
func (l *Lotto) RTP() float64          { return float64(lottoPayoutMultiplier) / float64(lottoNumberRange) }
func (l *Lotto) MaxMultiplier() uint64 { return lottoPayoutMultiplier }
func (l *Lotto) Actions() []string     { return []string{"buy", "executeDraw", "claim", "status"} }

func (l *Lotto) snapshot() (*big.Int, time.Duration, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.ticketPrice), l.drawInterval, l.maxTickets
}

type lottoBuyParams struct {
	PickedNumber int `json:"pickedNumber"`
	TicketCount  int `json:"ticketCount"`
}

type lottoExecuteDrawParams struct {
	DrawID string `json:"drawId"`
}

func (l *Lotto) HandleAction(ctx *channel.Context, ch *channel.Channel, action string, params json.RawMessage) (any, error) {
	switch action {
	case "buy":
		return l.buy(ctx, ch, params)
	case "executeDraw":
		return l.executeDraw(ctx, params)
	case "claim":
		return l.claim(ctx, ch)
	case "status":
		return map[string]any{"unclaimed": weimath.ToDecimal(ctx.Store.Unclaimed(ch.Agent))}, nil
	default:
		return nil, casinoerr.NewValidation("lotto: unknown action %q", action)
	}
}

// ensureOpenDraw returns the single in-flight (not-yet-drawn) draw,
// creating one if none exists.
func (l *Lotto) ensureOpenDraw(ctx *channel.Context) (*channel.Draw, error) {
	pending := ctx.Store.PendingDraws()
	if len(pending) > 0 {
		return pending[0], nil
	}
	casinoSeed, commitment, err := commitreveal.Commit()
	if err != nil {
		return nil, casinoerr.NewCryptographic("lotto: commit draw: %v", err)
	}
	_, drawInterval, _ := l.snapshot()
	draw := &channel.Draw{
		DrawID:     commitment,
		CasinoSeed: casinoSeed,
		Commitment: commitment,
		DrawTime:   ctx.Store.Now().Add(drawInterval).Unix(),
		Tickets:    make(map[string][]int),
		TotalPool:  big.NewInt(0),
	}
	ctx.Store.SetDraw(draw)
	return draw, nil
}

func (l *Lotto) buy(ctx *channel.Context, ch *channel.Channel, raw json.RawMessage) (any, error) {
	var p lottoBuyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.PickedNumber < 1 || p.PickedNumber > lottoNumberRange {
		return nil, casinoerr.NewValidation("lotto: pickedNumber must be in [1,%d], got %d", lottoNumberRange, p.PickedNumber)
	}
	ticketPrice, _, maxTickets := l.snapshot()
	if p.TicketCount < 1 || p.TicketCount > maxTickets {
		return nil, casinoerr.NewValidation("lotto: ticketCount must be in [1,%d], got %d", maxTickets, p.TicketCount)
	}

	draw, err := l.ensureOpenDraw(ctx)
	if err != nil {
		return nil, err
	}
	if len(draw.Tickets[ch.Agent])+p.TicketCount > maxTickets {
		return nil, casinoerr.NewPolicy("lotto: agent %s would exceed %d tickets for this draw", ch.Agent, maxTickets)
	}

	cost := new(big.Int).Mul(ticketPrice, big.NewInt(int64(p.TicketCount)))
	if ch.AgentBalance.Cmp(cost) < 0 {
		return nil, casinoerr.NewPolicy("lotto: agent balance %s below ticket cost %s", ch.AgentBalance, cost)
	}
	worstCase := new(big.Int).Mul(ticketPrice, big.NewInt(lottoPayoutMultiplier))
	worstCase.Mul(worstCase, big.NewInt(int64(p.TicketCount)))
	if worstCase.Cmp(ch.HouseBalance) > 0 {
		return nil, casinoerr.NewPolicy("lotto: potential payout %s exceeds house balance %s", worstCase, ch.HouseBalance)
	}

	for i := 0; i < p.TicketCount; i++ {
		draw.Tickets[ch.Agent] = append(draw.Tickets[ch.Agent], p.PickedNumber)
	}
	draw.TotalPool.Add(draw.TotalPool, cost)
	ctx.Store.SetDraw(draw)

	ch.AgentBalance.Sub(ch.AgentBalance, cost)
	ch.HouseBalance.Add(ch.HouseBalance, cost)
	ch.Nonce++

	ch.Games = append(ch.Games, channel.RoundRecord{
		Agent:        ch.Agent,
		Game:         l.Name(),
		Bet:          weimath.ToDecimal(cost),
		PickedNumber: p.PickedNumber,
		TicketCount:  p.TicketCount,
		DrawID:       draw.DrawID,
		Nonce:        ch.Nonce,
		Timestamp:    ctx.Store.Now().Unix(),
	})

	return map[string]any{
		"drawId": draw.DrawID,
		"cost":   weimath.ToDecimal(cost),
	}, nil
}

// executeDraw runs a single draw to completion if it is due, crediting
// UnclaimedWinnings for every matching ticket holder. It does not touch
// any particular channel.
func (l *Lotto) executeDraw(ctx *channel.Context, raw json.RawMessage) (any, error) {
	var p lottoExecuteDrawParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	draw := ctx.Store.GetDraw(p.DrawID)
	if draw == nil {
		return nil, casinoerr.NewValidation("lotto: no such draw %q", p.DrawID)
	}
	if err := l.runDraw(ctx, draw); err != nil {
		return nil, err
	}
	return map[string]any{"winningNumber": draw.WinningNumber}, nil
}

// runDraw executes draw if it is due and not already drawn. Idempotent:
// calling it again on an already-drawn record is a no-op.
func (l *Lotto) runDraw(ctx *channel.Context, draw *channel.Draw) error {
	if draw.Drawn {
		return nil
	}
	if ctx.Store.Now().Unix() < draw.DrawTime {
		return casinoerr.NewPolicy("lotto: draw %s not due until %d", draw.DrawID, draw.DrawTime)
	}

	entropy := fmt.Sprintf("%d:%s", len(draw.Tickets), draw.TotalPool.String())
	hash, _, _ := commitreveal.ComputeResult(draw.CasinoSeed, entropy, 0)
	winningNumber := int(be32At(hash, 0)%lottoNumberRange) + 1

	ticketPrice, _, _ := l.snapshot()
	for agent, picks := range draw.Tickets {
		matches := 0
		for _, n := range picks {
			if n == winningNumber {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		payout := new(big.Int).Mul(ticketPrice, big.NewInt(lottoPayoutMultiplier))
		payout.Mul(payout, big.NewInt(int64(matches)))
		ctx.Store.CreditUnclaimed(agent, payout)
	}

	draw.Drawn = true
	draw.WinningNumber = winningNumber
	draw.DrawnAt = ctx.Store.Now().Unix()
	ctx.Store.SetDraw(draw)
	return nil
}

func (l *Lotto) claim(ctx *channel.Context, ch *channel.Channel) (any, error) {
	taken := ctx.Store.ClaimUpTo(ch.Agent, ch.HouseBalance)
	if taken.Sign() == 0 {
		return map[string]any{"claimed": "0"}, nil
	}
	ch.HouseBalance.Sub(ch.HouseBalance, taken)
	ch.AgentBalance.Add(ch.AgentBalance, taken)
	ch.Nonce++

	ch.Games = append(ch.Games, channel.RoundRecord{
		Agent:     ch.Agent,
		Game:      l.Name(),
		Payout:    weimath.ToDecimal(taken),
		Won:       true,
		Nonce:     ch.Nonce,
		Timestamp: ctx.Store.Now().Unix(),
	})

	return map[string]any{"claimed": weimath.ToDecimal(taken)}, nil
}

// RunScheduled implements channel.Scheduler: it executes every due draw and
// folds winnings directly into still-open channels via applyWinnings.
func (l *Lotto) RunScheduled(ctx *channel.Context, store *channel.Store) error {
	for _, draw := range store.PendingDraws() {
		if store.Now().Unix() < draw.DrawTime {
			continue
		}
		if err := l.runDraw(ctx, draw); err != nil {
			continue
		}
		for agent := range draw.Tickets {
			l.applyWinnings(ctx, store, agent)
		}
	}
	return nil
}

// applyWinnings folds as much of agent's unclaimed balance as the agent's
// currently open channel's house side can cover, preserving conservation
// and decrementing the unclaimed balance by exactly what was applied.
// Like every other mutator, it produces a fresh signed state before the
// mutation is considered complete — if signing fails the balance/nonce
// update is rolled back so the channel is left exactly as if the fold
// never happened.
func (l *Lotto) applyWinnings(ctx *channel.Context, store *channel.Store, agent string) {
	ch := store.GetChannel(agent)
	if ch == nil || ch.Status != channel.StateOpen {
		return
	}
	taken := store.ClaimUpTo(agent, ch.HouseBalance)
	if taken.Sign() == 0 {
		return
	}
	snap := ch.Clone()
	ch.HouseBalance.Sub(ch.HouseBalance, taken)
	ch.AgentBalance.Add(ch.AgentBalance, taken)
	ch.Nonce++

	signed, err := ctx.Sign(ch)
	if err != nil {
		ch.Restore(snap)
		store.CreditUnclaimed(agent, taken)
		return
	}
	store.SetChannel(ch)
	ctx.Emit(events.EventChannelMutated, l.Name()+"_applyWinnings", agent, map[string]any{
		"applied":      weimath.ToDecimal(taken),
		"nonce":        signed.Nonce,
		"signature":    signed.Signature,
		"agentBalance": signed.AgentBalance,
		"houseBalance": signed.CasinoBalance,
	})
}
