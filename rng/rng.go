// Package rng implements the verifiable-RNG round state machine: an
// alternate randomness path where the house requests entropy from an
// external provider rather than running commit-reveal locally.
package rng

import (
	"sync"
	"time"

	"github.com/agentcasino/channel/casinoerr"
)

// State is a round's position in the state machine.
type State int

const (
	None State = iota
	Requested
	Fulfilled
	Settled
	Expired
	Failed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Requested:
		return "requested"
	case Fulfilled:
		return "fulfilled"
	case Settled:
		return "settled"
	case Expired:
		return "expired"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultTTL is how long a Requested round may wait for fulfillment before
// any observer may mark it Expired.
const DefaultTTL = 5 * time.Minute

// Round is one verifiable-RNG request/fulfill/settle cycle.
type Round struct {
	RequestID   string
	Agent       string
	Bet         string
	Choice      string
	FeePaid     string
	State       State
	RandomValue []byte
	Result      int
	RequestedAt time.Time
	FulfilledAt time.Time
	SettledAt   time.Time
	ttl         time.Duration
}

// Store is the process-wide table of in-flight verifiable-RNG rounds,
// guarded by a single mutex.
type Store struct {
	mu           sync.Mutex
	rounds       map[string]*Round
	providerAddr string
	ttl          time.Duration
	now          func() time.Time
}

// NewStore creates an empty Store using DefaultTTL. providerAddr restricts
// Fulfill to callbacks claiming to originate from the configured provider.
func NewStore(providerAddr string) *Store {
	return &Store{rounds: make(map[string]*Round), providerAddr: providerAddr, ttl: DefaultTTL, now: time.Now}
}

// SetTTL overrides the TTL applied to rounds requested from now on, for
// wiring from loaded configuration at startup.
func (s *Store) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Request creates a new round in the Requested state, keyed by requestID.
// Replay safety: a requestID already in use (in any non-None state) is
// rejected.
func (s *Store) Request(requestID, agent, bet, choice, feePaid string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rounds[requestID]; ok && existing.State != None {
		return nil, casinoerr.NewValidation("rng: request id %q already in use (state %s)", requestID, existing.State)
	}
	r := &Round{
		RequestID:   requestID,
		Agent:       agent,
		Bet:         bet,
		Choice:      choice,
		FeePaid:     feePaid,
		State:       Requested,
		RequestedAt: s.now(),
		ttl:         s.ttl,
	}
	s.rounds[requestID] = r
	return r, nil
}

// Fulfill records the provider's random value for requestID. callerAddr
// must match the configured provider address exactly.
func (s *Store) Fulfill(requestID, callerAddr string, randomValue []byte) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[requestID]
	if !ok {
		return nil, casinoerr.NewValidation("rng: unknown request id %q", requestID)
	}
	if callerAddr != s.providerAddr {
		return nil, casinoerr.NewCryptographic("rng: fulfillment from unauthorized provider %q", callerAddr)
	}
	if r.State != Requested {
		return nil, casinoerr.NewPolicy("rng: round %q not in Requested state (got %s)", requestID, r.State)
	}
	if s.now().Sub(r.RequestedAt) > r.ttl {
		r.State = Expired
		return nil, casinoerr.NewLiveness("rng: round %q expired before fulfillment", requestID)
	}
	r.RandomValue = randomValue
	r.State = Fulfilled
	r.FulfilledAt = s.now()
	return r, nil
}

// Settle applies the deterministic result derivation (random mod 2 for a
// coinflip-shaped round) and marks the round processed.
func (s *Store) Settle(requestID string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[requestID]
	if !ok {
		return nil, casinoerr.NewValidation("rng: unknown request id %q", requestID)
	}
	if r.State != Fulfilled {
		return nil, casinoerr.NewPolicy("rng: round %q not in Fulfilled state (got %s)", requestID, r.State)
	}
	r.Result = int(lastByte(r.RandomValue) % 2)
	r.State = Settled
	r.SettledAt = s.now()
	return r, nil
}

// Expire marks a Requested round Expired once its TTL has elapsed. Any
// observer may call this; it is not restricted to the requesting agent.
func (s *Store) Expire(requestID string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[requestID]
	if !ok {
		return nil, casinoerr.NewValidation("rng: unknown request id %q", requestID)
	}
	if r.State != Requested {
		return nil, casinoerr.NewPolicy("rng: round %q not in Requested state (got %s)", requestID, r.State)
	}
	if s.now().Sub(r.RequestedAt) <= r.ttl {
		return nil, casinoerr.NewPolicy("rng: round %q has not yet exceeded its TTL", requestID)
	}
	r.State = Expired
	return r, nil
}

// Fail transitions a round into the terminal Failed state from any
// non-terminal state, for unrecoverable provider errors.
func (s *Store) Fail(requestID string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[requestID]
	if !ok {
		return nil, casinoerr.NewValidation("rng: unknown request id %q", requestID)
	}
	if r.State == Settled || r.State == Failed {
		return nil, casinoerr.NewPolicy("rng: round %q already terminal (%s)", requestID, r.State)
	}
	r.State = Failed
	return r, nil
}

// Get returns the round for requestID, or nil.
func (s *Store) Get(requestID string) *Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[requestID]
}

func lastByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1]
}
