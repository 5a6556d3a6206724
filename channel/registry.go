package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/events"
	"github.com/agentcasino/channel/signer"
)

// Context is the capability surface handed to a Game on every action: the
// engine's Store, the signer and its domain, and an optional Emitter. It
// never carries the Engine itself, so a game cannot call the engine's
// mutators; the Store does let it read any agent's channel.
type Context struct {
	Store  *Store
	Signer signer.Port
	Domain signer.Domain
	// Emitter is optional; set only on the Context handed to Scheduler.RunScheduled
	// so out-of-band mutations can publish the same events a direct action would.
	Emitter *events.Emitter
}

// Sign produces a house-signed state over ch's current balances/nonce.
// Any code path that mutates a channel outside the normal HandleAction flow
// (a Scheduler's periodic fold, for instance) must call this before the
// mutation is considered complete.
func (ctx *Context) Sign(ch *Channel) (SignedState, error) {
	return signChannelState(ctx.Signer, ctx.Domain, ch)
}

// Emit publishes an event if ctx carries an Emitter; a no-op otherwise.
func (ctx *Context) Emit(typ events.EventType, action, agent string, result map[string]any) {
	if ctx.Emitter == nil {
		return
	}
	ctx.Emitter.Emit(events.Event{
		Timestamp: ctx.Store.Now().Unix(),
		Type:      typ,
		Action:    action,
		Agent:     agent,
		Result:    result,
	})
}

// Game is the capability every plug-in game module implements and
// registers at init() time. Adding a game means writing one of these and
// calling RegisterGame — the engine never special-cases a game by name.
type Game interface {
	Name() string
	DisplayName() string
	RTP() float64
	MaxMultiplier() uint64
	Actions() []string
	HandleAction(ctx *Context, ch *Channel, action string, params json.RawMessage) (any, error)
}

// Scheduler is implemented by games that need periodic, channel-independent
// work (lotto's draw execution). It is optional — most games don't need it.
type Scheduler interface {
	RunScheduled(ctx *Context, store *Store) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Game)
)

// RegisterGame adds g to the global game registry. Called from each game
// package's init(). Panics on duplicate registration — a name collision
// is a programming error, not a runtime condition.
func RegisterGame(g Game) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := g.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("channel: game %q already registered", name))
	}
	registry[name] = g
}

// Lookup returns the registered game named name.
func Lookup(name string) (Game, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	g, ok := registry[name]
	if !ok {
		return nil, casinoerr.NewValidation("channel: unknown game %q", name)
	}
	return g, nil
}

// Registered returns the names of every registered game, for status/
// discovery endpoints.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
