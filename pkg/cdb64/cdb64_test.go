package cdb64

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/pkg/byterange"
)

func writeTestIndex(t *testing.T, records map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cdb")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for k, v := range records {
		if err := w.Add([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return path
}

func openTestReader(t *testing.T, path string) *Reader {
	t.Helper()
	src, err := byterange.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return NewReader(src)
}

// TestRoundTrip confirms every written record reads back unchanged.
func TestRoundTrip(t *testing.T) {
	records := map[string]string{}
	for i := 0; i < 200; i++ {
		records[fmt.Sprintf("key-%04d", i)] = fmt.Sprintf("value-%04d", i)
	}

	path := writeTestIndex(t, records)
	r := openTestReader(t, path)
	ctx := context.Background()

	for k, v := range records {
		got, ok, err := r.Get(ctx, []byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if !ok {
			t.Fatalf("Get(%q): not found", k)
		}
		if string(got) != v {
			t.Fatalf("Get(%q) = %q, want %q", k, got, v)
		}
	}

	_, ok, err := r.Get(ctx, []byte("does-not-exist"))
	if err != nil {
		t.Fatalf("Get(nonexistent): %v", err)
	}
	if ok {
		t.Fatal("expected nonexistent key to be absent")
	}

	entries, err := r.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != len(records) {
		t.Fatalf("Entries returned %d, want %d", len(entries), len(records))
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if seen[string(e.Key)] {
			t.Fatalf("duplicate entry for key %q", e.Key)
		}
		seen[string(e.Key)] = true
		if records[string(e.Key)] != string(e.Value) {
			t.Fatalf("entry %q has value %q, want %q", e.Key, e.Value, records[string(e.Key)])
		}
	}
}

func TestSlotCountForLoadFactor(t *testing.T) {
	cases := []struct {
		count    uint64
		wantMin  uint64
	}{
		{0, 2},
		{1, 2},
		{3, 4},
		{5, 8},
		{100, 128},
	}
	for _, c := range cases {
		got := slotCountFor(c.count)
		if got < c.wantMin {
			t.Errorf("slotCountFor(%d) = %d, want >= %d", c.count, got, c.wantMin)
		}
	}
}

func TestStoredHashReservesZero(t *testing.T) {
	if storedHash(0) != 1 {
		t.Fatalf("storedHash(0) = %d, want 1", storedHash(0))
	}
	if storedHash(42) != 42 {
		t.Fatalf("storedHash(42) = %d, want 42", storedHash(42))
	}
}

func TestEntriesSortedKeysStable(t *testing.T) {
	records := map[string]string{"a": "1", "b": "2", "c": "3"}
	path := writeTestIndex(t, records)
	r := openTestReader(t, path)

	entries, err := r.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range entries {
		keys = append(keys, string(e.Key))
	}
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[a b c]" {
		t.Fatalf("got keys %v", keys)
	}
}
