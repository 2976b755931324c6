package casctest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomBytesLength(t *testing.T) {
	b := RandomBytes(32)
	assert.Len(t, b, 32)
}

func TestRandomBytesVaries(t *testing.T) {
	a := RandomBytes(16)
	b := RandomBytes(16)
	assert.NotEqual(t, a, b)
}

func TestGenerateEntriesShape(t *testing.T) {
	entries := GenerateEntries(5, 9)
	assert.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, 9, e.Key.Len())
		assert.Len(t, e.Value, 8)
	}
}
