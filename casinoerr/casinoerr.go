// Package casinoerr gives each error class in the channel engine's error
// taxonomy a concrete Go type so callers can discriminate with errors.As
// instead of matching on message text.
package casinoerr

import "fmt"

// Validation errors: malformed input. No state changes.
type Validation struct{ Msg string }

func (e *Validation) Error() string { return e.Msg }

// NewValidation constructs a Validation error.
func NewValidation(format string, args ...any) error {
	return &Validation{Msg: fmt.Sprintf(format, args...)}
}

// Policy errors: well-formed input rejected by a business rule
// (insufficient balance, bankroll cap, pending commit exists, ...).
type Policy struct{ Msg string }

func (e *Policy) Error() string { return e.Msg }

func NewPolicy(format string, args ...any) error {
	return &Policy{Msg: fmt.Sprintf(format, args...)}
}

// Liveness errors: a deadline or TTL has passed (commit expired, dispute
// deadline passed, RNG round expired). Any pending resource is cleaned up
// by the caller before this is returned.
type Liveness struct{ Msg string }

func (e *Liveness) Error() string { return e.Msg }

func NewLiveness(format string, args ...any) error {
	return &Liveness{Msg: fmt.Sprintf(format, args...)}
}

// Integrity errors: an invariant that must always hold does not. Fatal for
// the operation; indicates a bug, not a protocol violation by a peer.
type Integrity struct{ Msg string }

func (e *Integrity) Error() string { return e.Msg }

func NewIntegrity(format string, args ...any) error {
	return &Integrity{Msg: fmt.Sprintf(format, args...)}
}

// Cryptographic errors: signature recovery mismatch, bad commitment.
type Cryptographic struct{ Msg string }

func (e *Cryptographic) Error() string { return e.Msg }

func NewCryptographic(format string, args ...any) error {
	return &Cryptographic{Msg: fmt.Sprintf(format, args...)}
}

// Transfer errors: an on-chain payout call failed. Not fatal — the amount
// is rerouted to pending withdrawals by the caller.
type Transfer struct{ Msg string }

func (e *Transfer) Error() string { return e.Msg }

func NewTransfer(format string, args ...any) error {
	return &Transfer{Msg: fmt.Sprintf(format, args...)}
}

// Provider errors: the verifiable-RNG provider failed to request or
// fulfill randomness.
type Provider struct{ Msg string }

func (e *Provider) Error() string { return e.Msg }

func NewProvider(format string, args ...any) error {
	return &Provider{Msg: fmt.Sprintf(format, args...)}
}
