// Package relay implements the stealth-payout sink: a fire-and-forget
// forwarder that moves value from the house to a stealth address with no
// link back to any channel or ledger state. The real privacy relay this
// stands in for is an external collaborator; this is the minimal sink the
// core needs to exercise that boundary.
package relay

import (
	"math/big"
	"sync"

	"github.com/agentcasino/channel/casinoerr"
)

// Sink is the abstract forwarding operation the core depends on.
type Sink interface {
	Forward(stealthAddress string, value *big.Int) error
}

// LogSink is the reference Sink: it records forwards for audit purposes
// only, deliberately keeping no association between a forward and any
// channel, agent, or round. Production deployments swap this for the real
// privacy relay without changing the interface.
type LogSink struct {
	mu       sync.Mutex
	forwards []forward
}

type forward struct {
	StealthAddress string
	Value          *big.Int
}

// NewLogSink constructs an empty LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

// Forward records a fire-and-forget transfer. It does no format check on
// the address — cheap validation only: an empty address or a non-positive
// value is rejected — because nothing downstream reacts to a forward's
// outcome.
func (s *LogSink) Forward(stealthAddress string, value *big.Int) error {
	if value.Sign() <= 0 {
		return casinoerr.NewValidation("relay: forward value must be positive, got %s", value)
	}
	if stealthAddress == "" {
		return casinoerr.NewValidation("relay: stealth address must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwards = append(s.forwards, forward{StealthAddress: stealthAddress, Value: new(big.Int).Set(value)})
	return nil
}

// Count returns how many forwards have been recorded, for tests and
// operational visibility only.
func (s *LogSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forwards)
}
