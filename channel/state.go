package channel

import (
	"math/big"
	"sync"
	"time"

	"github.com/agentcasino/channel/casinoerr"
)

// CommitTTL is how long a PendingCommit may sit unrevealed before it
// expires (overridable via Store.SetCommitTTL, or Store.commitTTL in
// tests).
const CommitTTL = 5 * time.Minute

// Store is the engine's exclusive, in-memory bookkeeping surface: the
// channel table, outstanding commits, unclaimed lotto winnings and lotto
// draws. One RWMutex guards all four tables; entries with a TTL are
// dropped by a periodic sweep.
type Store struct {
	mu sync.RWMutex

	channels  map[string]*Channel
	pending   map[string]*PendingCommit // key: agent+"/"+game
	unclaimed map[string]*big.Int
	draws     map[string]*Draw

	commitTTL time.Duration
	now       func() time.Time
}

// NewStore creates an empty Store using the default commit TTL and the
// system clock.
func NewStore() *Store {
	return &Store{
		channels:  make(map[string]*Channel),
		pending:   make(map[string]*PendingCommit),
		unclaimed: make(map[string]*big.Int),
		draws:     make(map[string]*Draw),
		commitTTL: CommitTTL,
		now:       time.Now,
	}
}

func pendingKey(agent, game string) string { return agent + "/" + game }

// GetChannel returns the channel for agent, or nil if none is open.
func (s *Store) GetChannel(agent string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[agent]
}

// SetChannel upserts a channel record.
func (s *Store) SetChannel(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Agent] = ch
}

// DeleteChannel removes a closed channel's record.
func (s *Store) DeleteChannel(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, agent)
}

// ChannelCount returns how many channels are currently tracked.
func (s *Store) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// AllChannels returns a snapshot slice of every open channel, for the
// scheduler's invariant audit sweep.
func (s *Store) AllChannels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// BeginCommit records pc as the single outstanding commit for (agent, game),
// failing if a non-expired one already exists. A commit to a different game
// for the same agent is unaffected — single-flight is keyed per
// (agent, game), not per agent.
func (s *Store) BeginCommit(pc *PendingCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(pc.Agent, pc.Game)
	if existing, ok := s.pending[key]; ok {
		if s.now().Sub(time.Unix(0, existing.Timestamp)) <= s.commitTTL {
			return casinoerr.NewPolicy("channel: pending commit already exists for %s/%s", pc.Agent, pc.Game)
		}
	}
	pc.Timestamp = s.now().UnixNano()
	s.pending[key] = pc
	return nil
}

// TakePending atomically fetches and removes the pending commit for
// (agent, game), failing if none exists or if it has expired.
func (s *Store) TakePending(agent, game string) (*PendingCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(agent, game)
	pc, ok := s.pending[key]
	if !ok {
		return nil, casinoerr.NewLiveness("channel: no pending commit for %s/%s", agent, game)
	}
	delete(s.pending, key)
	age := s.now().Sub(time.Unix(0, pc.Timestamp))
	if age > s.commitTTL {
		return nil, casinoerr.NewLiveness("channel: commit for %s/%s expired %s ago", agent, game, age)
	}
	return pc, nil
}

// PeekPending returns the pending commit for (agent, game) without
// consuming it, for status reporting.
func (s *Store) PeekPending(agent, game string) *PendingCommit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[pendingKey(agent, game)]
}

// SweepExpiredCommits drops any pending commit older than the configured
// TTL, returning how many were removed.
func (s *Store) SweepExpiredCommits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := s.now()
	for k, pc := range s.pending {
		if now.Sub(time.Unix(0, pc.Timestamp)) > s.commitTTL {
			delete(s.pending, k)
			removed++
		}
	}
	return removed
}

// Unclaimed returns the unclaimed lotto balance for agent (zero if none).
func (s *Store) Unclaimed(agent string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.unclaimed[agent]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// CreditUnclaimed adds amount to agent's unclaimed lotto balance.
func (s *Store) CreditUnclaimed(agent string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.unclaimed[agent]
	if !ok {
		cur = big.NewInt(0)
	}
	s.unclaimed[agent] = new(big.Int).Add(cur, amount)
}

// ClaimUpTo withdraws at most cap from agent's unclaimed balance, leaving
// any remainder unclaimed, and returns the amount actually taken.
func (s *Store) ClaimUpTo(agent string, cap *big.Int) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.unclaimed[agent]
	if !ok || cur.Sign() == 0 {
		return big.NewInt(0)
	}
	taken := cur
	remainder := big.NewInt(0)
	if cur.Cmp(cap) > 0 {
		taken = new(big.Int).Set(cap)
		remainder = new(big.Int).Sub(cur, cap)
	}
	if remainder.Sign() > 0 {
		s.unclaimed[agent] = remainder
	} else {
		delete(s.unclaimed, agent)
	}
	return new(big.Int).Set(taken)
}

// GetDraw returns a draw by id, or nil.
func (s *Store) GetDraw(drawID string) *Draw {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draws[drawID]
}

// SetDraw upserts a draw record.
func (s *Store) SetDraw(d *Draw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws[d.DrawID] = d
}

// PendingDraws returns every draw not yet executed, for the lotto
// scheduler sweep.
func (s *Store) PendingDraws() []*Draw {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Draw, 0)
	for _, d := range s.draws {
		if !d.Drawn {
			out = append(out, d)
		}
	}
	return out
}

// Now returns the store's clock; tests may override s.now directly.
func (s *Store) Now() time.Time { return s.now() }

// SetCommitTTL overrides the pending-commit expiry window, for wiring from
// loaded configuration at startup.
func (s *Store) SetCommitTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitTTL = ttl
}
