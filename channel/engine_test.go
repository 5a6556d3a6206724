package channel

import (
	"bytes"
	"log"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentcasino/channel/bankroll"
	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/signer"
)

// stubSigner satisfies signer.Port without touching real ECDSA machinery,
// so engine tests can focus on balance/nonce bookkeeping.
type stubSigner struct{}

func (stubSigner) Sign(domain signer.Domain, state signer.ChannelState) ([]byte, error) {
	return make([]byte, 65), nil
}

func testAgent(n byte) string {
	var addr common.Address
	addr[19] = n
	return addr.Hex()[2:]
}

func newTestEngine(t *testing.T, maxExposure int64) *Engine {
	t.Helper()
	return NewEngine(Config{
		Bank:       bankroll.New(big.NewInt(maxExposure)),
		Signer:     stubSigner{},
		Domain:     signer.Domain{ChainID: 1337, VerifyingContract: common.Address{}},
		MinDeposit: big.NewInt(0),
		MaxDeposit: new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)),
	})
}

// TestOpenCloseNoGames: opening and immediately closing a channel
// with no rounds played must leave balances untouched at nonce 0.
func TestOpenCloseNoGames(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	agent := testAgent(1)
	agentDeposit := big.NewInt(10_000)
	houseDeposit := big.NewInt(10_000)

	ch, signed, err := e.OpenChannel(agent, agentDeposit, houseDeposit)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	if signed.Nonce != 0 {
		t.Errorf("nonce after open: got %d want 0", signed.Nonce)
	}
	if !ch.InvariantOK() {
		t.Error("invariant should hold right after open")
	}

	closed, err := e.CloseChannel(agent)
	if err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	if closed.AgentBalance != agentDeposit.String() || closed.CasinoBalance != houseDeposit.String() {
		t.Errorf("balances changed across a no-op close: got (%s,%s)", closed.AgentBalance, closed.CasinoBalance)
	}
	if closed.Nonce != 0 {
		t.Errorf("final nonce: got %d want 0", closed.Nonce)
	}
}

// TestOpenChannelDuplicateRejected: an agent may have at most one open
// channel.
func TestOpenChannelDuplicateRejected(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	agent := testAgent(2)
	if _, _, err := e.OpenChannel(agent, big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, _, err := e.OpenChannel(agent, big.NewInt(100), big.NewInt(100)); err == nil {
		t.Error("second open for the same agent should fail")
	}
}

// TestMaxChannelsEnforced: once the configured open-channel cap is
// reached, further opens are rejected until a channel closes.
func TestMaxChannelsEnforced(t *testing.T) {
	e := NewEngine(Config{
		Bank:        bankroll.New(big.NewInt(1_000_000)),
		Signer:      stubSigner{},
		Domain:      signer.Domain{ChainID: 1337},
		MinDeposit:  big.NewInt(0),
		MaxDeposit:  big.NewInt(1_000_000),
		MaxChannels: 2,
	})
	for n := byte(1); n <= 2; n++ {
		if _, _, err := e.OpenChannel(testAgent(n), big.NewInt(100), big.NewInt(100)); err != nil {
			t.Fatalf("open %d: %v", n, err)
		}
	}
	if _, _, err := e.OpenChannel(testAgent(3), big.NewInt(100), big.NewInt(100)); err == nil {
		t.Fatal("opening past the channel cap should fail")
	}
	if _, err := e.CloseChannel(testAgent(1)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := e.OpenChannel(testAgent(3), big.NewInt(100), big.NewInt(100)); err != nil {
		t.Errorf("open after a close freed a slot: %v", err)
	}
}

// TestBankrollCapEnforced: opening a channel whose house
// deposit would push total locked exposure past the configured cap fails.
func TestBankrollCapEnforced(t *testing.T) {
	e := newTestEngine(t, 100)
	agent := testAgent(3)
	if _, _, err := e.OpenChannel(agent, big.NewInt(10), big.NewInt(101)); err == nil {
		t.Error("house deposit exceeding bankroll cap should be rejected")
	}
}

// TestCommitSingleFlightPerGame: a second commit to the same
// game while one is outstanding is rejected, but a commit to a different
// game is accepted.
func TestCommitSingleFlightPerGame(t *testing.T) {
	s := NewStore()
	fixed := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return fixed }

	pc1 := &PendingCommit{Agent: "a", Game: "slots", CasinoSeed: "seed1"}
	if err := s.BeginCommit(pc1); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	pc2 := &PendingCommit{Agent: "a", Game: "slots", CasinoSeed: "seed2"}
	if err := s.BeginCommit(pc2); err == nil {
		t.Error("second commit to the same (agent, game) should be rejected")
	}
	pc3 := &PendingCommit{Agent: "a", Game: "coinflip", CasinoSeed: "seed3"}
	if err := s.BeginCommit(pc3); err != nil {
		t.Errorf("commit to a different game should be accepted: %v", err)
	}
}

// TestCommitExpiryClearsSlot: revealing after the commit TTL
// fails and the pending slot is cleared so a fresh commit can be made.
func TestCommitExpiryClearsSlot(t *testing.T) {
	s := NewStore()
	start := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return start }

	pc := &PendingCommit{Agent: "a", Game: "slots", CasinoSeed: "seed", BetWei: big.NewInt(1)}
	if err := s.BeginCommit(pc); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s.now = func() time.Time { return start.Add(6 * time.Minute) }
	if _, err := s.TakePending("a", "slots"); err == nil {
		t.Error("reveal after TTL should fail")
	}
	if _, err := s.TakePending("a", "slots"); err == nil {
		t.Error("pending slot should be cleared after the expired reveal attempt")
	} else if _, ok := err.(*casinoerr.Liveness); !ok {
		t.Errorf("expected a Liveness error for missing pending commit, got %T", err)
	}

	// A fresh commit to the same key should now succeed immediately.
	pc2 := &PendingCommit{Agent: "a", Game: "slots", CasinoSeed: "seed2"}
	if err := s.BeginCommit(pc2); err != nil {
		t.Errorf("commit after expiry cleanup should succeed: %v", err)
	}
}

// TestCloseChannelRefusesInvariantViolation: if a channel's
// balances are tampered with so conservation no longer holds, close must
// refuse and report InvariantViolation without producing a signed state.
func TestCloseChannelRefusesInvariantViolation(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	agent := testAgent(4)
	if _, _, err := e.OpenChannel(agent, big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	ch, err := e.GetStatus(agent)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	ch.AgentBalance.Add(ch.AgentBalance, big.NewInt(1)) // tamper: fabricate 1 wei
	e.store.SetChannel(ch)

	status, err := e.GetStatus(agent)
	if err != nil {
		t.Fatalf("status after tamper: %v", err)
	}
	if status.InvariantOK() {
		t.Error("invariant should read false immediately after tampering")
	}

	if _, err := e.CloseChannel(agent); err == nil {
		t.Fatal("close should refuse a channel with a broken invariant")
	} else if _, ok := err.(*casinoerr.Integrity); !ok {
		t.Errorf("expected an Integrity error, got %T: %v", err, err)
	}
}

// TestRunScheduledFlagsInvariantViolation: the scheduler's audit sweep
// reports a tampered channel without mutating it, so the operator sees
// the corruption before the agent's next close attempt does.
func TestRunScheduledFlagsInvariantViolation(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	agent := testAgent(6)
	if _, _, err := e.OpenChannel(agent, big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	ch, err := e.GetStatus(agent)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	ch.AgentBalance.Add(ch.AgentBalance, big.NewInt(1))

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	if err := e.RunScheduled(); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if !strings.Contains(buf.String(), agent) {
		t.Errorf("audit sweep did not flag the tampered channel; log output: %q", buf.String())
	}
	if got, err := e.GetStatus(agent); err != nil || got.InvariantOK() {
		t.Error("the sweep must report, not repair: the tampered balance should remain")
	}
}

// TestRunScheduledSweepsExpiredCommits exercises the scheduler tick's
// expired-commit sweep independent of any particular game.
func TestRunScheduledSweepsExpiredCommits(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	start := time.Unix(1_700_000_000, 0)
	e.store.now = func() time.Time { return start }
	pc := &PendingCommit{Agent: "a", Game: "slots", CasinoSeed: "seed"}
	if err := e.store.BeginCommit(pc); err != nil {
		t.Fatalf("commit: %v", err)
	}
	e.store.now = func() time.Time { return start.Add(10 * time.Minute) }
	if err := e.RunScheduled(); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if pending := e.store.PeekPending("a", "slots"); pending != nil {
		t.Error("expired commit should have been swept")
	}
}
