// Package commitreveal implements the SHA-256 commit-reveal primitive used
// by every game: the house commits to a secret seed before the agent's
// wager is locked in, then reveals it once the agent's own contribution is
// known, so neither party can bias the outcome alone.
package commitreveal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/agentcasino/channel/casinoerr"
)

// seedBytes is the length of the house's random commitment seed.
const seedBytes = 32

// Proof records everything needed to independently re-derive and verify a
// round's result after the fact.
type Proof struct {
	CasinoSeed string `json:"casino_seed"`
	AgentSeed  string `json:"agent_seed"`
	Nonce      uint64 `json:"nonce"`
	Hash       string `json:"hash"` // hex SHA-256
}

// Commit generates a fresh house seed and its commitment. The seed must not
// be revealed until the agent's reveal action.
func Commit() (seed, commitment string, err error) {
	raw := make([]byte, seedBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("commitreveal: generate seed: %w", err)
	}
	seed = hex.EncodeToString(raw)
	commitment = sha256Hex([]byte(seed))
	return seed, commitment, nil
}

// ComputeResult derives the deterministic per-round hash from the house's
// seed, the agent's freely-chosen seed, and the channel nonce at the time
// of the round (so replaying the same seed pair at a later nonce yields a
// different result). rng is the big-endian unsigned integer interpretation
// of the hash, suitable for reduction modulo a game's outcome space.
func ComputeResult(casinoSeed, agentSeed string, nonce uint64) (hash []byte, rng *big.Int, proof Proof) {
	input := fmt.Sprintf("%s:%s:%d", casinoSeed, agentSeed, nonce)
	sum := sha256.Sum256([]byte(input))
	hash = sum[:]
	rng = new(big.Int).SetBytes(hash)
	proof = Proof{
		CasinoSeed: casinoSeed,
		AgentSeed:  agentSeed,
		Nonce:      nonce,
		Hash:       hex.EncodeToString(hash),
	}
	return hash, rng, proof
}

// Verify checks that casinoSeed is the preimage of commitment, i.e. that the
// house did not switch its seed after publishing the commitment.
func Verify(commitment, casinoSeed string) bool {
	return sha256Hex([]byte(casinoSeed)) == commitment
}

// VerifyProof re-derives p's hash from its recorded inputs and checks it
// matches p.Hash, and that p.CasinoSeed matches the originally published
// commitment — establishing commit binding for a completed round.
func VerifyProof(commitment string, p Proof) error {
	if !Verify(commitment, p.CasinoSeed) {
		return casinoerr.NewCryptographic("commitreveal: casino seed does not match published commitment")
	}
	_, _, recomputed := ComputeResult(p.CasinoSeed, p.AgentSeed, p.Nonce)
	if recomputed.Hash != p.Hash {
		return casinoerr.NewCryptographic("commitreveal: recorded hash does not match recomputed hash")
	}
	return nil
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
