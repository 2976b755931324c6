package shmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blizzcasc/casc/endian"
	"github.com/blizzcasc/casc/index"
)

// buildShmemFile assembles a Header block (one directory entry, a path
// field, and the 16-bucket version vector) followed immediately by the
// FreeSpace block it points to, per the Header/FreeSpace layouts.
func buildShmemFile(t *testing.T, path string, versions [index.NumBuckets]uint32, extents []FreeSpaceExtent) []byte {
	t.Helper()

	freeSpaceOffset := uint32(8 + headerPathFieldSize + directoryEntrySize + index.NumBuckets*versionStampSize)
	freeSpaceBlock := buildFreeSpaceBlock(extents)

	var pathField [headerPathFieldSize]byte
	copy(pathField[:], path)

	var headerContent []byte
	headerContent = append(headerContent, pathField[:]...)
	headerContent = append(headerContent, endian.WriteUint32(endian.Little, uint32(len(freeSpaceBlock)))...)
	headerContent = append(headerContent, endian.WriteUint32(endian.Little, freeSpaceOffset)...)
	for i := 0; i < index.NumBuckets; i++ {
		headerContent = append(headerContent, endian.WriteUint32(endian.Little, versions[i])...)
	}

	var out []byte
	out = append(out, endian.WriteUint32(endian.Little, uint32(blockHeader))...)
	out = append(out, endian.WriteUint32(endian.Little, uint32(len(headerContent)))...)
	out = append(out, headerContent...)

	out = append(out, freeSpaceBlock...)
	return out
}

// buildFreeSpaceBlock assembles a complete FreeSpace block, including its
// leading block_type tag. Passing nil extents still yields a full-width,
// all-zero block.
func buildFreeSpaceBlock(extents []FreeSpaceExtent) []byte {
	sizeTable := make([]byte, freeSpaceSlots*freeSpaceSlotWidth)
	locTable := make([]byte, freeSpaceSlots*freeSpaceSlotWidth)

	for i, ext := range extents {
		copy(sizeTable[i*freeSpaceSlotWidth:(i+1)*freeSpaceSlotWidth], packBE5(uint64(ext.Size)))
		loc := index.PackLocation(ext.File, ext.Offset, defaultSegmentBits)
		copy(locTable[i*freeSpaceSlotWidth:(i+1)*freeSpaceSlotWidth], packBE5(loc))
	}

	var out []byte
	out = append(out, endian.WriteUint32(endian.Little, uint32(blockFreeSpace))...)
	out = append(out, endian.WriteUint32(endian.Little, uint32(len(extents)))...)
	out = append(out, make([]byte, freeSpaceReservedBytes)...)
	out = append(out, sizeTable...)
	out = append(out, locTable...)
	return out
}

func packBE5(v uint64) []byte {
	b := make([]byte, 5)
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func TestParseHeaderAndFreeSpace(t *testing.T) {
	var versions [index.NumBuckets]uint32
	for i := range versions {
		versions[i] = uint32(i * 7)
	}
	extents := []FreeSpaceExtent{
		{File: 0, Offset: 1024, Size: 4096},
		{File: 2, Offset: 55, Size: 900},
	}

	raw := buildShmemFile(t, `Global\data`, versions, extents)

	p, err := Parse(raw)
	require.NoError(t, err)

	for i := range versions {
		assert.Equal(t, versions[i], p.Versions[i])
	}

	require.Len(t, p.FreeSpace, 2)
	assert.Equal(t, extents[0], p.FreeSpace[0])
	assert.Equal(t, extents[1], p.FreeSpace[1])
}

func TestDecodePathFieldStripsGlobalPrefix(t *testing.T) {
	var field [headerPathFieldSize]byte
	copy(field[:], `Global\data`)
	assert.Equal(t, "data", decodePathField(field[:]))
}

func TestParseUnknownBlockType(t *testing.T) {
	raw := endian.WriteUint32(endian.Little, 99)
	_, err := Parse(raw)
	require.Error(t, err)
	var pe *ParserError
	assert.ErrorAs(t, err, &pe)
}

func TestParseFreeSpaceCountBeyondSlots(t *testing.T) {
	body := buildFreeSpaceBlock(nil)
	// Overwrite the count field with a value larger than the slot table.
	copy(body[4:8], endian.WriteUint32(endian.Little, freeSpaceSlots+1))
	_, err := Parse(body)
	require.Error(t, err)
	var pe *ParserError
	assert.ErrorAs(t, err, &pe)
}
