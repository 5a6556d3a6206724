// Package signer implements the house's signing port: an abstract
// "given the EIP-712 domain and a ChannelState tuple, return a signature"
// operation, and its inverse, recovery-to-house-account verification. The
// production signing identity (a KMS-backed signer) lives outside this
// module; Local below is the reference implementation used for tests and
// single-operator deployments.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/agentcasino/channel/casinoerr"
)

// Domain is the fixed EIP-712 domain every channel state is signed under.
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

const domainName = "AgentCasino"
const domainVersion = "1"

// ChannelState is the typed struct signed and verified under this domain.
// Field order is part of the wire contract and must not change: address
// agent, uint256 agentBalance, uint256 casinoBalance, uint256 nonce.
type ChannelState struct {
	Agent         common.Address
	AgentBalance  *big.Int
	CasinoBalance *big.Int
	Nonce         *big.Int
}

// Port is the abstract signing operation the engine depends on. A KMS,
// hardware wallet, or the Local reference implementation can all satisfy
// it.
type Port interface {
	Sign(domain Domain, state ChannelState) (sig []byte, err error)
}

// typedData builds the EIP-712 TypedData document for state under domain.
func typedData(domain Domain, state ChannelState) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"ChannelState": []apitypes.Type{
				{Name: "agent", Type: "address"},
				{Name: "agentBalance", Type: "uint256"},
				{Name: "casinoBalance", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "ChannelState",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"agent":         state.Agent.Hex(),
			"agentBalance":  state.AgentBalance.String(),
			"casinoBalance": state.CasinoBalance.String(),
			"nonce":         state.Nonce.String(),
		},
	}
}

// Digest computes the final EIP-712 signing hash (the 0x1901-prefixed
// keccak256 digest) for state under domain.
func Digest(domain Domain, state ChannelState) ([]byte, error) {
	td := typedData(domain, state)
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("signer: hash typed data: %w", err)
	}
	return digest, nil
}

// Recover recovers the address that produced sig over state under domain.
// The settlement contract compares this against the configured house
// account.
func Recover(domain Domain, state ChannelState, sig []byte) (common.Address, error) {
	digest, err := Digest(domain, state)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != 65 {
		return common.Address{}, casinoerr.NewCryptographic("signer: signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, casinoerr.NewCryptographic("signer: recover public key: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Local signs with an in-process ECDSA private key. It is the reference
// SignerPort implementation; a KMS-backed signer with the same interface
// is out of scope here.
type Local struct {
	priv *ecdsa.PrivateKey
}

// NewLocal wraps an existing ECDSA private key as a SignerPort.
func NewLocal(priv *ecdsa.PrivateKey) *Local {
	return &Local{priv: priv}
}

// Address returns the house account this signer will recover to.
func (l *Local) Address() common.Address {
	return crypto.PubkeyToAddress(l.priv.PublicKey)
}

// Sign implements Port.
func (l *Local) Sign(domain Domain, state ChannelState) ([]byte, error) {
	digest, err := Digest(domain, state)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, l.priv)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return sig, nil
}
