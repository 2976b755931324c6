// Package casctest provides small, dependency-free fixtures for tests
// across the module: random byte buffers and random Reference-shaped
// entries, without pulling in any game-specific SDK.
package casctest

import (
	"crypto/rand"

	"github.com/blizzcasc/casc/hexid"
)

// RandomBytes returns a byte slice of the given size filled with random
// values.
func RandomBytes(n int) []byte {
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		panic(err)
	}
	return data
}

// Entry is a random key/value pair shaped like an index record: a
// keyWidth-byte hex identity and an 8-byte little-endian value.
type Entry struct {
	Key   hexid.ID
	Value []byte
}

// GenerateEntries returns n random Entry values with keyWidth-byte keys.
func GenerateEntries(n, keyWidth int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			Key:   hexid.New(RandomBytes(keyWidth)),
			Value: RandomBytes(8),
		})
	}
	return entries
}
