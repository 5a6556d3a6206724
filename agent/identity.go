// Package agent provides lightweight ed25519 identities for the players
// ("agents") interacting with the channel engine. The house's side of the
// protocol is authenticated by an EIP-712 signature over the channel state
// (see package signer); agents are never asked to produce an on-chain
// verified signature in this system, so a cheap identity scheme is enough
// to authenticate requests at the engine boundary and to derive each
// agent's 20-byte channel key.
package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentcasino/channel/casinoerr"
)

// PrivateKey wraps an ed25519 private key.
type PrivateKey []byte

// PublicKey wraps an ed25519 public key.
type PublicKey []byte

// Identity holds an agent's key pair.
type Identity struct {
	priv PrivateKey
	pub  PublicKey
}

// Generate creates a fresh agent identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("agent: generate key: %w", err)
	}
	return &Identity{priv: PrivateKey(priv), pub: PublicKey(pub)}, nil
}

// FromPrivateKey wraps an existing ed25519 private key.
func FromPrivateKey(priv PrivateKey) *Identity {
	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: PublicKey(pub)}
}

// Address returns the 20-byte (40 hex char) channel key derived from the
// public key: the first 20 bytes of SHA-256(pubkey).
func (id *Identity) Address() string {
	return AddressFromPubKey(id.pub)
}

// AddressFromPubKey derives the channel address for an arbitrary pubkey.
func AddressFromPubKey(pub PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:20])
}

// Sign signs data, authenticating a request as originating from this
// identity (e.g. open_channel, commit, reveal).
func (id *Identity) Sign(data []byte) string {
	sig := ed25519.Sign(ed25519.PrivateKey(id.priv), data)
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature against data for the given pubkey.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return casinoerr.NewCryptographic("agent: invalid signature hex: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return casinoerr.NewCryptographic("agent: signature verification failed")
	}
	return nil
}

// PubKey returns the hex-encoded public key.
func (id *Identity) PubKey() string { return hex.EncodeToString(id.pub) }
