package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *LevelDB {
	t.Helper()
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSetGetRoundTrip covers the basic put/read path.
func TestSetGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Errorf("Get: got %q want %q", got, "v1")
	}
}

// TestGetMissingKeyReturnsErrNotFound ensures the sentinel error is
// surfaced rather than the raw leveldb error.
func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get([]byte("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on a missing key: got %v want ErrNotFound", err)
	}
}

// TestDeleteRemovesKey covers delete-then-get.
func TestDeleteRemovesKey(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Delete([]byte("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got %v want ErrNotFound", err)
	}
}

// TestBatchWriteIsAtomicallyVisible covers the batch path used by the
// settlement ledger to flush dirty writes.
func TestBatchWriteIsAtomicallyVisible(t *testing.T) {
	db := openTestDB(t)
	b := db.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if string(got) != want {
			t.Errorf("Get(%q): got %q want %q", k, got, want)
		}
	}
}

// TestBatchResetDiscardsPendingOps ensures Reset clears queued writes
// before Write is called.
func TestBatchResetDiscardsPendingOps(t *testing.T) {
	db := openTestDB(t)
	b := db.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Reset()
	b.Set([]byte("b"), []byte("2"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := db.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(a) after Reset: got %v want ErrNotFound", err)
	}
	if got, err := db.Get([]byte("b")); err != nil || string(got) != "2" {
		t.Errorf("Get(b): got (%q, %v) want (2, nil)", got, err)
	}
}

// TestIteratorScansPrefixRange covers the prefix-bounded iterator used by
// the settlement ledger's prefix scans (ComputeRoot).
func TestIteratorScansPrefixRange(t *testing.T) {
	db := openTestDB(t)
	entries := map[string]string{
		"channel:a1": "1",
		"channel:a2": "2",
		"draw:1":     "x",
	}
	for k, v := range entries {
		if err := db.Set([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	it := db.NewIterator([]byte("channel:"))
	defer it.Release()

	seen := map[string]string{}
	for it.Next() {
		seen[string(it.Key())] = string(it.Value())
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("got %d keys under the channel: prefix, want 2", len(seen))
	}
	if seen["channel:a1"] != "1" || seen["channel:a2"] != "2" {
		t.Errorf("unexpected iterator contents: %+v", seen)
	}
}
