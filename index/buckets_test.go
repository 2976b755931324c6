package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketRoutingWorkedExample(t *testing.T) {
	// §8 scenario 3: byte-XOR (excluding the last byte) of 0xA3 routes to
	// bucket (0xA3 & 0xF) ^ (0xA3 >> 4) = 0x9.
	key := []byte{0xA3, 0x00}
	assert.Equal(t, 0x9, Bucket(key))
}

func TestBucketRoutingTotality(t *testing.T) {
	for x := 0; x < 256; x++ {
		b := Bucket([]byte{byte(x), 0x00})
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, NumBuckets)
	}
}

func TestBucketIgnoresLastByte(t *testing.T) {
	a := Bucket([]byte{0x12, 0x34, 0xAA})
	b := Bucket([]byte{0x12, 0x34, 0xFF})
	assert.Equal(t, a, b)
}

func TestPackUnpackLocationRoundTrip(t *testing.T) {
	cases := []struct {
		file        int
		offset      int64
		segmentBits uint
	}{
		{0, 0, 30},
		{1, 12345, 30},
		{255, (1 << 30) - 1, 30},
		{7, 42, 20},
	}
	for _, c := range cases {
		packed := PackLocation(c.file, c.offset, c.segmentBits)
		gotFile, gotOffset := UnpackLocation(packed, c.segmentBits)
		assert.Equal(t, c.file, gotFile)
		assert.Equal(t, c.offset, gotOffset)
	}
}
