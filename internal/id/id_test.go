package id

import "testing"

func TestParseRoundTrip(t *testing.T) {
	raw := make([]byte, Size)
	for i := range raw {
		raw[i] = byte(i)
	}
	want, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", want.String(), err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v want %v", got, want)
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("QQ"); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestLessUsesRawBytes(t *testing.T) {
	// A is lexicographically smaller in raw bytes but its base64url string
	// sorts greater, confirming Less compares raw bytes, not the encoded form.
	a := ID{0x00} // "AAAA..."
	b := ID{0xd0} // "0AAA..."
	if !Less(a, b) {
		t.Fatal("expected a < b by raw bytes")
	}
	if Less(b, a) {
		t.Fatal("expected b !< a")
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatal("Zero.IsZero() should be true")
	}
	nz := ID{1}
	if nz.IsZero() {
		t.Fatal("non-zero ID reported as zero")
	}
}
