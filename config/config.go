// Package config loads and validates node configuration for the casino
// engine from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// durationJSON lets configuration express durations as Go duration
// strings ("5m", "6h") in JSON while the rest of the codebase consumes a
// plain time.Duration.
type durationJSON time.Duration

func (d durationJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *durationJSON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = durationJSON(parsed)
	return nil
}

// Duration returns d as a time.Duration.
func (d durationJSON) Duration() time.Duration { return time.Duration(d) }

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`

	KeystorePath string `json:"keystore_path"`
	// KeystorePassword is read from an environment variable named by this
	// field, never stored in the config file itself.
	KeystorePasswordEnv string `json:"keystore_password_env"`

	ChainID           int64  `json:"chain_id"`
	VerifyingContract string `json:"verifying_contract"` // 20-byte hex address of this deployment

	MaxExposure string `json:"max_exposure"` // decimal ether, bankroll cap
	MaxChannels int    `json:"max_channels"` // open-channel cap; 0 = unlimited

	ChallengePeriod    durationJSON `json:"challenge_period"`
	MinChannelDuration durationJSON `json:"min_channel_duration"`
	MinDeposit         string       `json:"min_deposit"` // decimal ether
	MaxDeposit         string       `json:"max_deposit"` // decimal ether
	InsuranceBps       int          `json:"insurance_bps"`

	CommitTimeout     durationJSON `json:"commit_timeout"`
	MaxTicketsPerDraw int          `json:"max_tickets_per_draw"`
	DrawInterval      durationJSON `json:"draw_interval"`
	TicketPrice       string       `json:"ticket_price"` // decimal ether
	EntropyTTL        durationJSON `json:"entropy_ttl"`
	// EntropyProvider is the address the verifiable-RNG alternate path
	// accepts Fulfill callbacks from. Empty disables the rng_* RPC methods
	// entirely.
	EntropyProvider string `json:"entropy_provider,omitempty"`

	// InsuranceWithdrawalRelay is the stealth address the privacy relay
	// forwards an executed insurance withdrawal to, so the
	// owner's on-chain payout destination carries no link back to the
	// contract. Empty skips relaying and leaves the withdrawal a direct
	// pending-withdrawal credit.
	InsuranceWithdrawalRelay string `json:"insurance_withdrawal_relay,omitempty"`

	TLS          *TLSConfig `json:"tls,omitempty"`
	RPCAuthToken string     `json:"rpc_auth_token,omitempty"`
}

// DefaultConfig returns a single-operator development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:              "casino0",
		DataDir:             "./data",
		RPCPort:             8645,
		KeystorePath:        "./data/house.keystore.json",
		KeystorePasswordEnv: "AGENTCASINO_KEYSTORE_PASSWORD",
		ChainID:             1337,
		MaxExposure:         "100",
		MaxChannels:         1000,
		ChallengePeriod:     durationJSON(24 * time.Hour),
		MinChannelDuration:  durationJSON(time.Hour),
		MinDeposit:          "0.001",
		MaxDeposit:          "10",
		InsuranceBps:        1000,
		CommitTimeout:       durationJSON(5 * time.Minute),
		MaxTicketsPerDraw:   10,
		DrawInterval:        durationJSON(6 * time.Hour),
		TicketPrice:         "0.0001",
		EntropyTTL:          durationJSON(5 * time.Minute),
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.KeystorePath == "" {
		return fmt.Errorf("keystore_path must not be empty")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive")
	}
	if len(c.VerifyingContract) != 40 {
		return fmt.Errorf("verifying_contract must be a 20-byte hex address (40 chars), got %d chars", len(c.VerifyingContract))
	}
	if c.InsuranceBps < 0 || c.InsuranceBps > 10_000 {
		return fmt.Errorf("insurance_bps must be 0-10000, got %d", c.InsuranceBps)
	}
	if c.MaxChannels < 0 {
		return fmt.Errorf("max_channels must not be negative")
	}
	if c.MaxTicketsPerDraw <= 0 {
		return fmt.Errorf("max_tickets_per_draw must be positive")
	}
	if c.CommitTimeout.Duration() <= 0 {
		return fmt.Errorf("commit_timeout must be positive")
	}
	if c.DrawInterval.Duration() <= 0 {
		return fmt.Errorf("draw_interval must be positive")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
