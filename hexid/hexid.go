// Package hexid implements the fixed-width byte identities CASC uses as
// lookup keys: storage keys (9 bytes), content hashes (16 bytes), and the
// encoding table's page-directory hashes (size carried dynamically).
package hexid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ID is an immutable, fixed-width byte vector with a stable lowercase hex
// rendering and a total byte-lexicographic order. Its width is carried
// dynamically (most CASC identities are 9 or 16 bytes); comparing IDs of
// differing widths is a programmer error, not an implicit truncation.
type ID struct {
	b []byte
}

// New copies b into a new ID of width len(b).
func New(b []byte) ID {
	cp := make([]byte, len(b))
	copy(cp, b)
	return ID{b: cp}
}

// FromHex decodes an even-length hex string into an ID.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("hexid: invalid hex string %q: %w", s, err)
	}
	return ID{b: b}, nil
}

// MustFromHex is FromHex but panics on error; for literal IDs in tests and
// well-known constants.
func MustFromHex(s string) ID {
	id, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Truncate returns the leading n bytes of the ID as a new ID. Used to derive
// a 9-byte storage key from a full 16-byte MD5 digest.
func (id ID) Truncate(n int) ID {
	if n > len(id.b) {
		n = len(id.b)
	}
	return New(id.b[:n])
}

// Len returns the width of the ID in bytes.
func (id ID) Len() int { return len(id.b) }

// Bytes returns the underlying byte slice. Callers must not mutate it.
func (id ID) Bytes() []byte { return id.b }

// IsZero reports whether the ID carries no bytes.
func (id ID) IsZero() bool { return len(id.b) == 0 }

// String renders the ID as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id.b)
}

// Equal reports whether id and other hold the same bytes. IDs of differing
// widths are never equal.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id.b, other.b)
}

// Compare returns -1, 0 or +1 following byte-lexicographic order, as
// bytes.Compare. It panics if the widths differ, since the core never
// compares across-width identities and silently padding/truncating would
// hide a bug.
func (id ID) Compare(other ID) int {
	if len(id.b) != len(other.b) {
		panic(fmt.Sprintf("hexid: comparing IDs of different widths (%d vs %d)", len(id.b), len(other.b)))
	}
	return bytes.Compare(id.b, other.b)
}

// Less reports whether id sorts before other under Compare.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}
