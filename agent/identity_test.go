package agent

import "testing"

// TestGenerateProducesVerifiableIdentity covers the sign/verify round
// trip for a freshly generated identity.
func TestGenerateProducesVerifiableIdentity(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("open_channel:agent1")
	sig := id.Sign(msg)

	if err := Verify(id.pub, msg, sig); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

// TestVerifyRejectsTamperedMessage ensures a signature over one message
// does not verify against a different message.
func TestVerifyRejectsTamperedMessage(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sig := id.Sign([]byte("commit:round1"))
	if err := Verify(id.pub, []byte("commit:round2"), sig); err == nil {
		t.Error("verification should fail against a different message")
	}
}

// TestVerifyRejectsMalformedHex covers the hex-decode failure path.
func TestVerifyRejectsMalformedHex(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := Verify(id.pub, []byte("msg"), "not-hex"); err == nil {
		t.Error("a malformed hex signature should be rejected")
	}
}

// TestAddressFromPubKeyIsDeterministic ensures the same key always derives
// the same 20-byte channel address.
func TestAddressFromPubKeyIsDeterministic(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a1 := id.Address()
	a2 := AddressFromPubKey(id.pub)
	if a1 != a2 {
		t.Errorf("addresses differ: %q vs %q", a1, a2)
	}
	if len(a1) != 40 {
		t.Errorf("address length: got %d want 40 hex chars", len(a1))
	}
}

// TestFromPrivateKeyReconstructsSamePublicKey ensures wrapping an existing
// private key derives the same address Generate would have produced.
func TestFromPrivateKeyReconstructsSamePublicKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	reconstructed := FromPrivateKey(id.priv)
	if reconstructed.Address() != id.Address() {
		t.Errorf("address: got %q want %q", reconstructed.Address(), id.Address())
	}
	if reconstructed.PubKey() != id.PubKey() {
		t.Errorf("pubkey: got %q want %q", reconstructed.PubKey(), id.PubKey())
	}
}

// TestDifferentIdentitiesHaveDifferentAddresses is a sanity check against
// a degenerate derivation that ignores the key.
func TestDifferentIdentitiesHaveDifferentAddresses(t *testing.T) {
	id1, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	id2, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id1.Address() == id2.Address() {
		t.Error("two freshly generated identities should not collide")
	}
}
