// Package merkle implements the data_path / tx_path parser: it walks a
// Merkle proof root-to-leaf, verifying each node's hash against the
// chain carried from its parent, and yields the boundaries of the leaf
// chunk the proof attests to.
//
// Verification always happens before any value derived from the proof
// is trusted, never the reverse. The hashing here is protocol-defined
// and fixed to sha256, independent of any other hash function used
// elsewhere in this module for non-protocol purposes such as integrity
// fingerprints.
package merkle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/ar-io/ar-io-node-sub005/pkg/ruleset"
)

const (
	hashSize        = 32
	noteSize        = 32
	leafFrameSize   = hashSize + noteSize         // 64
	branchFrameSize = hashSize*2 + noteSize        // 96
	rebaseFrameSize = hashSize*3 + noteSize        // 128: marker + left_root + right_root + boundary
)

// ErrInvalidPath is wrapped by every parse failure.
var ErrInvalidPath = errors.New("merkle: invalid path")

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, reason)
}

// Result is the outcome of a successful ParseDataPath call.
type Result struct {
	Validated bool

	// ChunkDataHash is the leaf's data_hash, to be compared against a
	// delivered chunk's own hash by the caller.
	ChunkDataHash [32]byte

	StartOffset          uint64 // inclusive
	EndOffset            uint64 // exclusive
	ChunkSize            uint64
	IsRightMostInSubtree bool
	IsRebased            bool
	RebaseDepth          int
}

func h(parts ...[]byte) [32]byte {
	hh := sha256.New()
	for _, p := range parts {
		hh.Write(p)
	}
	var out [32]byte
	copy(out[:], hh.Sum(nil))
	return out
}

func isAllZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// decodeU256BE decodes a 32-byte big-endian unsigned integer, refusing
// values that don't fit a uint64 (no offset in this protocol's domain
// legitimately exceeds that).
func decodeU256BE(b []byte) (uint64, error) {
	if len(b) != 32 {
		return 0, invalid("boundary/note must be 32 bytes")
	}
	for _, x := range b[:24] {
		if x != 0 {
			return 0, invalid("boundary/note exceeds uint64 range")
		}
	}
	return new(big.Int).SetBytes(b[24:]).Uint64(), nil
}

func clampOffset(offset, dataSize uint64) uint64 {
	if dataSize == 0 {
		return 0
	}
	if offset > dataSize-1 {
		return dataSize - 1
	}
	return offset
}

// ParseDataPath validates path against dataRoot under rs and returns the
// boundaries of the chunk covering offset (clamped into [0, dataSize-1]
// first), walking branch, rebase, and leaf frames from the root down to
// the leaf.
func ParseDataPath(dataRoot [32]byte, dataSize uint64, path []byte, offset uint64, rs ruleset.Ruleset) (*Result, error) {
	target := clampOffset(offset, dataSize)

	cursor := path
	expected := dataRoot
	frameBase := uint64(0)
	rangeStart := uint64(0)
	isRightmost := true
	isRebased := false
	rebaseDepth := 0

	for {
		switch {
		case len(cursor) == leafFrameSize:
			dataHash := cursor[0:32]
			noteRaw := cursor[32:64]
			note, err := decodeU256BE(noteRaw)
			if err != nil {
				return nil, err
			}

			dh := h(dataHash)
			nh := h(noteRaw)
			leafHash := h(dh[:], nh[:])
			if leafHash != expected {
				return nil, invalid("leaf hash mismatch")
			}

			end := frameBase + note
			if end <= rangeStart {
				return nil, invalid("leaf note does not advance past chunk start")
			}
			chunkSize := end - rangeStart

			if rs.RequiresStrictBorders() && chunkSize > ruleset.MaxChunk {
				return nil, invalid("chunk size exceeds MAX_CHUNK")
			}
			if rs.RequiresStrictDataSplit() && !isRightmost && chunkSize != ruleset.MaxChunk {
				return nil, invalid("non-last chunk must equal MAX_CHUNK under this ruleset")
			}

			var dataHashArr [32]byte
			copy(dataHashArr[:], dataHash)

			return &Result{
				Validated:            true,
				ChunkDataHash:        dataHashArr,
				StartOffset:          rangeStart,
				EndOffset:            end,
				ChunkSize:            chunkSize,
				IsRightMostInSubtree: isRightmost,
				IsRebased:            isRebased,
				RebaseDepth:          rebaseDepth,
			}, nil

		case len(cursor) >= hashSize && isAllZero(cursor[:hashSize]):
			if !rs.AllowsRebase() {
				return nil, invalid("rebase marker not permitted under this ruleset")
			}
			if len(cursor) < rebaseFrameSize {
				return nil, invalid("truncated rebase frame")
			}
			leftRoot := cursor[32:64]
			rightRoot := cursor[64:96]
			boundary := cursor[96:128]

			bval, err := decodeU256BE(boundary)
			if err != nil {
				return nil, err
			}

			lh := h(leftRoot)
			rh := h(rightRoot)
			bh := h(boundary)
			branchHash := h(lh[:], rh[:], bh[:])
			if branchHash != expected {
				return nil, invalid("rebase branch hash mismatch")
			}

			absBoundary := frameBase + bval
			if target < absBoundary {
				isRightmost = false
				copy(expected[:], leftRoot)
			} else {
				copy(expected[:], rightRoot)
				frameBase = absBoundary
				rangeStart = absBoundary
			}
			isRebased = true
			rebaseDepth++
			cursor = cursor[rebaseFrameSize:]

		default:
			if len(cursor) < branchFrameSize {
				return nil, invalid("truncated branch frame")
			}
			left := cursor[0:32]
			right := cursor[32:64]
			boundary := cursor[64:96]

			bval, err := decodeU256BE(boundary)
			if err != nil {
				return nil, err
			}

			lh := h(left)
			rh := h(right)
			bh := h(boundary)
			branchHash := h(lh[:], rh[:], bh[:])
			if branchHash != expected {
				return nil, invalid("branch hash mismatch")
			}

			absBoundary := frameBase + bval
			if target < absBoundary {
				isRightmost = false
				copy(expected[:], left)
			} else {
				copy(expected[:], right)
				rangeStart = absBoundary
			}
			cursor = cursor[branchFrameSize:]
		}
	}
}

// VerifyChunkHash compares r's parsed ChunkDataHash against a delivered
// chunk's own sha256 hash.
func (r *Result) VerifyChunkHash(chunkHash [32]byte) error {
	if r.ChunkDataHash != chunkHash {
		return invalid("chunk_data_hash does not match delivered chunk hash")
	}
	return nil
}

// ExtractNote parses only the leaf tail of path (its last 32 bytes) and
// returns it as a u256.
func ExtractNote(path []byte) (uint64, error) {
	if len(path) < noteSize {
		return 0, invalid("path too short to contain a note")
	}
	return decodeU256BE(path[len(path)-noteSize:])
}

// ExtractRoot recomputes the hash of path's first frame without any
// offset-driven traversal, yielding the root the path proves against.
// A path's first frame's own hash formula always evaluates to the
// proof's root by construction, whether that frame is a leaf, a
// branch, or a rebase marker.
func ExtractRoot(path []byte) ([32]byte, error) {
	switch {
	case len(path) == leafFrameSize:
		dh := h(path[0:32])
		nh := h(path[32:64])
		return h(dh[:], nh[:]), nil
	case len(path) >= hashSize && isAllZero(path[:hashSize]):
		if len(path) < rebaseFrameSize {
			return [32]byte{}, invalid("truncated rebase frame")
		}
		lh := h(path[32:64])
		rh := h(path[64:96])
		bh := h(path[96:128])
		return h(lh[:], rh[:], bh[:]), nil
	case len(path) >= branchFrameSize:
		lh := h(path[0:32])
		rh := h(path[32:64])
		bh := h(path[64:96])
		return h(lh[:], rh[:], bh[:]), nil
	default:
		return [32]byte{}, invalid("path too short to contain a root frame")
	}
}
