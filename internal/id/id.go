// Package id implements the 32-byte content/transaction identifier used
// throughout the retrieval core: base64url externally, raw bytes
// internally.
package id

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Size is the length of an ID in raw bytes.
const Size = 32

// ID is a 32-byte identifier (a data root, a transaction id, a block's
// indep_hash, ...). The zero value is not a valid ID.
type ID [Size]byte

// Zero is the all-zero ID, used as a sentinel for "absent" in contexts
// where a pointer would otherwise be required.
var Zero ID

// Parse decodes a base64url (no padding) string into an ID.
func Parse(s string) (ID, error) {
	var out ID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("id: invalid base64url %q: %w", s, err)
	}
	if len(raw) != Size {
		return out, fmt.Errorf("id: invalid length %q: got %d bytes, want %d", s, len(raw), Size)
	}
	copy(out[:], raw)
	return out, nil
}

// FromBytes copies raw into a new ID, erroring if the length is wrong.
func FromBytes(raw []byte) (ID, error) {
	var out ID
	if len(raw) != Size {
		return out, fmt.Errorf("id: invalid length: got %d bytes, want %d", len(raw), Size)
	}
	copy(out[:], raw)
	return out, nil
}

// String returns the base64url (no padding) external form.
func (i ID) String() string {
	return base64.RawURLEncoding.EncodeToString(i[:])
}

// Bytes returns a copy of the raw 32 bytes.
func (i ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, i[:])
	return out
}

// IsZero reports whether i is the zero ID.
func (i ID) IsZero() bool {
	return i == Zero
}

// EncodeMsgpack implements msgpack.CustomEncoder, storing an ID as a
// 32-byte bin value rather than an array of 32 integers.
func (i ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(i[:])
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (i *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(raw) != Size {
		return fmt.Errorf("id: invalid msgpack length: got %d bytes, want %d", len(raw), Size)
	}
	copy(i[:], raw)
	return nil
}

// Less orders two IDs by lexicographic comparison of their raw bytes,
// never by the string form.
func Less(a, b ID) bool {
	for k := 0; k < Size; k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}
