package rng

import (
	"testing"
	"time"
)

// TestFullRoundLifecycle covers Request -> Fulfill -> Settle.
func TestFullRoundLifecycle(t *testing.T) {
	s := NewStore("provider1")
	start := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return start }

	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := s.Get("req1").State; got != Requested {
		t.Errorf("state after request: got %s want requested", got)
	}

	s.now = func() time.Time { return start.Add(time.Minute) }
	if _, err := s.Fulfill("req1", "provider1", []byte{0xAA, 0xBB, 0x01}); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if got := s.Get("req1").State; got != Fulfilled {
		t.Errorf("state after fulfill: got %s want fulfilled", got)
	}

	r, err := s.Settle("req1")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if r.State != Settled {
		t.Errorf("state after settle: got %s want settled", r.State)
	}
	if r.Result != 1 {
		t.Errorf("result: got %d want 1 (last byte 0x01 mod 2)", r.Result)
	}
}

// TestFulfillRejectsUnauthorizedProvider enforces that only the configured
// provider address may fulfill a request.
func TestFulfillRejectsUnauthorizedProvider(t *testing.T) {
	s := NewStore("provider1")
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := s.Fulfill("req1", "someone-else", []byte{1}); err == nil {
		t.Error("fulfillment from an unauthorized provider should be rejected")
	}
}

// TestRequestIDReplayRejected covers replay safety: a requestID already in
// a non-None state cannot be reused.
func TestRequestIDReplayRejected(t *testing.T) {
	s := NewStore("provider1")
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := s.Request("req1", "agent1", "200", "tails", "1"); err == nil {
		t.Error("reusing an in-flight request id should be rejected")
	}
}

// TestFulfillAfterTTLExpiresInline ensures a late fulfillment attempt marks
// the round Expired and fails rather than silently succeeding.
func TestFulfillAfterTTLExpiresInline(t *testing.T) {
	s := NewStore("provider1")
	start := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return start }
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	s.now = func() time.Time { return start.Add(DefaultTTL + time.Second) }
	if _, err := s.Fulfill("req1", "provider1", []byte{1}); err == nil {
		t.Error("fulfilling past the TTL should fail")
	}
	if got := s.Get("req1").State; got != Expired {
		t.Errorf("state after late fulfill attempt: got %s want expired", got)
	}
}

// TestExpireRejectedBeforeTTL ensures Expire cannot be called early.
func TestExpireRejectedBeforeTTL(t *testing.T) {
	s := NewStore("provider1")
	start := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return start }
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := s.Expire("req1"); err == nil {
		t.Error("expiring before the TTL elapses should fail")
	}

	s.now = func() time.Time { return start.Add(DefaultTTL + time.Second) }
	if _, err := s.Expire("req1"); err != nil {
		t.Errorf("expiring after the TTL elapses should succeed: %v", err)
	}
}

// TestFailTerminalFromNonTerminalOnly ensures Fail cannot be applied to an
// already-terminal round.
func TestFailTerminalFromNonTerminalOnly(t *testing.T) {
	s := NewStore("provider1")
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := s.Fulfill("req1", "provider1", []byte{0x02}); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if _, err := s.Settle("req1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if _, err := s.Fail("req1"); err == nil {
		t.Error("failing an already-settled round should be rejected")
	}
}

// TestSettleRequiresFulfilledState ensures Settle cannot run before Fulfill.
func TestSettleRequiresFulfilledState(t *testing.T) {
	s := NewStore("provider1")
	if _, err := s.Request("req1", "agent1", "100", "heads", "1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := s.Settle("req1"); err == nil {
		t.Error("settling a round that was never fulfilled should fail")
	}
}
