package merkle

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/ar-io/ar-io-node-sub005/pkg/ruleset"
)

func hh(parts ...[]byte) [32]byte {
	hsh := sha256.New()
	for _, p := range parts {
		hsh.Write(p)
	}
	var out [32]byte
	copy(out[:], hsh.Sum(nil))
	return out
}

func u256(v uint64) []byte {
	b := make([]byte, 32)
	b[24] = byte(v >> 56)
	b[25] = byte(v >> 48)
	b[26] = byte(v >> 40)
	b[27] = byte(v >> 32)
	b[28] = byte(v >> 24)
	b[29] = byte(v >> 16)
	b[30] = byte(v >> 8)
	b[31] = byte(v)
	return b
}

func leafFrame(dataHash []byte, note uint64) (frame []byte, hash [32]byte) {
	noteBytes := u256(note)
	dh := hh(dataHash)
	nh := hh(noteBytes)
	leafHash := hh(dh[:], nh[:])
	frame = append(append([]byte{}, dataHash...), noteBytes...)
	return frame, leafHash
}

func branchFrame(left, right [32]byte, boundary uint64) (frame []byte, hash [32]byte) {
	boundaryBytes := u256(boundary)
	lh := hh(left[:])
	rh := hh(right[:])
	bh := hh(boundaryBytes)
	branchHash := hh(lh[:], rh[:], bh[:])
	frame = append(append(append([]byte{}, left[:]...), right[:]...), boundaryBytes...)
	return frame, branchHash
}

func fixedBytes(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

// TestSingleChunk validates a single-leaf path covering the whole data root.
func TestSingleChunk(t *testing.T) {
	dataHash := fixedBytes(0xAA)
	frame, root := leafFrame(dataHash, 200_000)

	res, err := ParseDataPath(root, 200_000, frame, 100_000, ruleset.Basic)
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}
	if res.StartOffset != 0 || res.EndOffset != 200_000 {
		t.Fatalf("got start=%d end=%d, want 0,200000", res.StartOffset, res.EndOffset)
	}
	if res.IsRebased {
		t.Fatal("expected is_rebased=false")
	}
}

// TestTwoChunkLastShort validates both leaves of a two-chunk tree whose
// last chunk is shorter than MAX_CHUNK.
func TestTwoChunkLastShort(t *testing.T) {
	dataHash1 := fixedBytes(0x01)
	dataHash2 := fixedBytes(0x02)

	leaf1Frame, leaf1Hash := leafFrame(dataHash1, 262_144)
	leaf2Frame, leaf2Hash := leafFrame(dataHash2, 312_144)
	branch, root := branchFrame(leaf1Hash, leaf2Hash, 262_144)

	path2 := append(append([]byte{}, branch...), leaf2Frame...)
	res, err := ParseDataPath(root, 312_144, path2, 300_000, ruleset.StrictDataSplit)
	if err != nil {
		t.Fatalf("ParseDataPath (chunk2): %v", err)
	}
	if res.StartOffset != 262_144 || res.EndOffset != 312_144 {
		t.Fatalf("chunk2: got start=%d end=%d", res.StartOffset, res.EndOffset)
	}
	if !res.IsRightMostInSubtree {
		t.Fatal("chunk2: expected is_right_most_in_subtree=true")
	}

	path1 := append(append([]byte{}, branch...), leaf1Frame...)
	res1, err := ParseDataPath(root, 312_144, path1, 100_000, ruleset.Basic)
	if err != nil {
		t.Fatalf("ParseDataPath (chunk1): %v", err)
	}
	if res1.StartOffset != 0 || res1.EndOffset != 262_144 {
		t.Fatalf("chunk1: got start=%d end=%d", res1.StartOffset, res1.EndOffset)
	}
	if res1.IsRightMostInSubtree {
		t.Fatal("chunk1: expected is_right_most_in_subtree=false")
	}
}

// TestOversizedUnderStrictBorders confirms a chunk over MAX_CHUNK is
// rejected once StrictBorders is in force.
func TestOversizedUnderStrictBorders(t *testing.T) {
	dataHash := fixedBytes(0xCC)
	frame, root := leafFrame(dataHash, 262_145)

	_, err := ParseDataPath(root, 262_145, frame, 131_000, ruleset.StrictBorders)
	if err == nil {
		t.Fatal("expected InvalidPath for oversized chunk under StrictBorders")
	}
}

func TestExtractNote(t *testing.T) {
	dataHash := fixedBytes(0xAA)
	frame, _ := leafFrame(dataHash, 200_000)

	note, err := ExtractNote(frame)
	if err != nil {
		t.Fatalf("ExtractNote: %v", err)
	}
	if note != 200_000 {
		t.Fatalf("got note=%d, want 200000", note)
	}
}

func TestExtractRoot(t *testing.T) {
	dataHash := fixedBytes(0xAA)
	frame, root := leafFrame(dataHash, 200_000)

	got, err := ExtractRoot(frame)
	if err != nil {
		t.Fatalf("ExtractRoot: %v", err)
	}
	if !bytes.Equal(got[:], root[:]) {
		t.Fatalf("ExtractRoot mismatch")
	}
}

func TestVerifyChunkHash(t *testing.T) {
	dataHash := fixedBytes(0xAA)
	frame, root := leafFrame(dataHash, 200_000)

	res, err := ParseDataPath(root, 200_000, frame, 0, ruleset.Basic)
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}

	var wrongHash [32]byte
	wrongHash[0] = 0xFF
	if err := res.VerifyChunkHash(wrongHash); err == nil {
		t.Fatal("expected mismatch error for wrong chunk hash")
	}

	// The leaf frame carries dataHash as its chunk data hash, so that
	// value verifies.
	var leafHash [32]byte
	copy(leafHash[:], dataHash[:])
	if err := res.VerifyChunkHash(leafHash); err != nil {
		t.Fatalf("VerifyChunkHash with the leaf's own data hash: %v", err)
	}
}

func rebaseFrameBytes(leftRoot, rightRoot [32]byte, boundary uint64) (frame []byte, hash [32]byte) {
	boundaryBytes := u256(boundary)
	lh := hh(leftRoot[:])
	rh := hh(rightRoot[:])
	bh := hh(boundaryBytes)
	branchHash := hh(lh[:], rh[:], bh[:])
	frame = append(append([]byte{}, make([]byte, 32)...), leftRoot[:]...)
	frame = append(frame, rightRoot[:]...)
	frame = append(frame, boundaryBytes...)
	return frame, branchHash
}

// TestRebaseMarker exercises the rebase subtree path, where entering the
// right side resets the offset frame to the subtree's own local 0 rather
// than the parent's absolute coordinates.
func TestRebaseMarker(t *testing.T) {
	dataHashA := fixedBytes(0x11)
	dataHashB := fixedBytes(0x22)
	_, leftRoot := leafFrame(dataHashA, 500) // unused subtree, never entered
	rightLeafFrame, rightRoot := leafFrame(dataHashB, 500)

	rebase, root := rebaseFrameBytes(leftRoot, rightRoot, 500)
	path := append(append([]byte{}, rebase...), rightLeafFrame...)

	res, err := ParseDataPath(root, 1000, path, 700, ruleset.OffsetRebaseSupport)
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}
	if res.StartOffset != 500 || res.EndOffset != 1000 {
		t.Fatalf("got start=%d end=%d, want 500,1000", res.StartOffset, res.EndOffset)
	}
	if !res.IsRebased || res.RebaseDepth != 1 {
		t.Fatalf("got isRebased=%v depth=%d, want true,1", res.IsRebased, res.RebaseDepth)
	}
}

func TestRebaseRejectedUnderOlderRuleset(t *testing.T) {
	dataHashA := fixedBytes(0x11)
	dataHashB := fixedBytes(0x22)
	_, leftRoot := leafFrame(dataHashA, 500)
	rightLeafFrame, rightRoot := leafFrame(dataHashB, 500)

	rebase, root := rebaseFrameBytes(leftRoot, rightRoot, 500)
	path := append(append([]byte{}, rebase...), rightLeafFrame...)

	if _, err := ParseDataPath(root, 1000, path, 700, ruleset.StrictDataSplit); err == nil {
		t.Fatal("expected rebase marker to be rejected under StrictDataSplit")
	}
}

func TestInvalidBranchHash(t *testing.T) {
	dataHash1 := fixedBytes(0x01)
	dataHash2 := fixedBytes(0x02)
	leaf1Frame, leaf1Hash := leafFrame(dataHash1, 262_144)
	_, leaf2Hash := leafFrame(dataHash2, 312_144)
	branch, _ := branchFrame(leaf1Hash, leaf2Hash, 262_144)

	var wrongRoot [32]byte
	wrongRoot[0] = 0x99
	path := append(append([]byte{}, branch...), leaf1Frame...)
	if _, err := ParseDataPath(wrongRoot, 312_144, path, 100_000, ruleset.Basic); err == nil {
		t.Fatal("expected hash mismatch error against wrong root")
	}
}
