package settlement_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/agentcasino/channel/internal/testutil"
	"github.com/agentcasino/channel/settlement"
)

// TestSnapshotRevertDiscardsBufferedWrites ensures a revert rolls the write
// buffer back to exactly the snapshotted view without touching what was
// already committed.
func TestSnapshotRevertDiscardsBufferedWrites(t *testing.T) {
	l := testutil.NewLedger()

	l.SetOwner("owner1")
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := l.Snapshot()
	l.SetOwner("owner2")
	l.CreditPendingWithdrawal("payee1", big.NewInt(500))
	if err := l.RevertToSnapshot(snap); err != nil {
		t.Fatalf("RevertToSnapshot: %v", err)
	}

	if got := l.Owner(); got != "owner1" {
		t.Errorf("owner after revert: got %q want owner1", got)
	}
	if got := l.PendingWithdrawal("payee1"); got.Sign() != 0 {
		t.Errorf("pending withdrawal after revert: got %s want 0", got)
	}
}

// TestRevertToInvalidSnapshotFails covers the out-of-range snapshot id
// guard.
func TestRevertToInvalidSnapshotFails(t *testing.T) {
	l := testutil.NewLedger()
	if err := l.RevertToSnapshot(0); err == nil {
		t.Error("reverting to a snapshot that was never taken should fail")
	}
}

// TestPendingWithdrawalAccumulatesAndClears covers the pull-payment
// bookkeeping the settle path relies on.
func TestPendingWithdrawalAccumulatesAndClears(t *testing.T) {
	l := testutil.NewLedger()
	l.CreditPendingWithdrawal("payee1", big.NewInt(300))
	l.CreditPendingWithdrawal("payee1", big.NewInt(200))
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := l.PendingWithdrawal("payee1"); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("accumulated pending withdrawal: got %s want 500", got)
	}
	cleared := l.ClearPendingWithdrawal("payee1")
	if cleared.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("cleared amount: got %s want 500", cleared)
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit after clear: %v", err)
	}
	if got := l.PendingWithdrawal("payee1"); got.Sign() != 0 {
		t.Errorf("pending withdrawal after clear: got %s want 0", got)
	}
}

// TestComputeRootTracksStateChanges ensures the audit root is stable for
// identical state and moves when any channel or pending record changes.
func TestComputeRootTracksStateChanges(t *testing.T) {
	l := testutil.NewLedger()
	ch := &settlement.Channel{
		Agent:        "agent1",
		AgentDeposit: big.NewInt(1_000),
		HouseDeposit: big.NewInt(1_000),
		AgentBalance: big.NewInt(1_000),
		HouseBalance: big.NewInt(1_000),
		Status:       settlement.StatusOpen,
	}
	if err := l.SetChannel(ch); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	r1 := l.ComputeRoot()
	if r2 := l.ComputeRoot(); r2 != r1 {
		t.Error("ComputeRoot is not stable across repeated calls on unchanged state")
	}

	l.CreditPendingWithdrawal("payee1", big.NewInt(1))
	if r3 := l.ComputeRoot(); r3 == r1 {
		t.Error("ComputeRoot did not change after a state write")
	}
}

// TestInsuranceRequestRoundTrip covers the timelock request fields the
// insurance sink persists through the ledger.
func TestInsuranceRequestRoundTrip(t *testing.T) {
	l := testutil.NewLedger()
	at := time.Unix(1_700_000_000, 0).UTC()
	l.SetInsuranceRequest(big.NewInt(750), at)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	amt, gotAt, pending := l.InsuranceRequest()
	if !pending {
		t.Fatal("expected a pending insurance request")
	}
	if amt.Cmp(big.NewInt(750)) != 0 {
		t.Errorf("request amount: got %s want 750", amt)
	}
	if !gotAt.Equal(at) {
		t.Errorf("request time: got %s want %s", gotAt, at)
	}

	l.ClearInsuranceRequest()
	if _, _, pending := l.InsuranceRequest(); pending {
		t.Error("request should be cleared")
	}
}
