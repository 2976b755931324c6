package blocksource

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetClamps(t *testing.T) {
	m := NewMemory([]byte("hello world"))
	b, err := m.Get(6, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), b)
}

func TestMemoryGetOutOfRange(t *testing.T) {
	m := NewMemory([]byte("hi"))
	_, err := m.Get(10, 1)
	require.Error(t, err)
}

func TestMemoryClone(t *testing.T) {
	m := NewMemory([]byte("abc"))
	c := m.Clone()
	b, err := c.Get(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
}

func TestStreamGetBounded(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "blocksource")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	s := NewStream(f, 2, 8, "test")
	assert.Equal(t, int64(6), s.Len())

	b, err := s.Get(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), b)

	// Reading past the end clamps rather than erroring.
	b, err = s.Get(4, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("67"), b)
}

func TestStreamCloneSharesHandle(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "blocksource")
	require.NoError(t, err)
	_, err = f.Write([]byte("abcdef"))
	require.NoError(t, err)

	s := NewStream(f, 0, 6, "test")
	c := s.Clone().(*Stream)
	b, err := c.Get(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("bc"), b)
}
