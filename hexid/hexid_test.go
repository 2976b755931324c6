package hexid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHexRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"00",
		"da20cf2b7e65e2f2352397b6295e10c0",
		"eee756b2f8307b30bad5fd99393d03c9",
	}
	for _, c := range cases {
		id, err := FromHex(c)
		require.NoError(t, err)
		assert.Equal(t, c, id.String())
	}
}

func TestFromHexOddLength(t *testing.T) {
	_, err := FromHex("abc")
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	id := MustFromHex("da20cf2b7e65e2f2352397b6295e10c0")
	short := id.Truncate(9)
	assert.Equal(t, 9, short.Len())
	assert.Equal(t, "da20cf2b7e65e2f235", short.String())
}

func TestCompareAndEqual(t *testing.T) {
	a := MustFromHex("0001")
	b := MustFromHex("0002")
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(MustFromHex("0001")))
	assert.Equal(t, 0, a.Compare(MustFromHex("0001")))
}

func TestCompareDifferentWidthPanics(t *testing.T) {
	a := MustFromHex("00")
	b := MustFromHex("0000")
	assert.Panics(t, func() { a.Compare(b) })
}

func TestStringIsLowercase(t *testing.T) {
	id := New([]byte{0xAB, 0xCD, 0xEF})
	assert.Equal(t, "abcdef", id.String())
}
