package encoding

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blizzcasc/casc/endian"
)

// buildTableA assembles a single table-A page holding one entry
// (contentHash -> keys, fileSize), wrapped in a full encoding file with an
// empty table B. Per §4.I, both the hash and its keys are hash_size_a
// bytes wide.
func buildTableA(t *testing.T, contentHash []byte, keys [][]byte, fileSize uint32) []byte {
	t.Helper()
	hashSizeA := byte(len(contentHash))
	for _, k := range keys {
		require.Equal(t, int(hashSizeA), len(k))
	}

	var entry []byte
	entry = append(entry, endian.WriteUint16(endian.Little, uint16(len(keys)))...)
	entry = append(entry, endian.WriteUint32(endian.Big, fileSize)...)
	entry = append(entry, contentHash...)
	for _, k := range keys {
		entry = append(entry, k...)
	}

	page := make([]byte, pageSize)
	copy(page, entry)

	pageMD5 := md5.Sum(page)

	var descA []byte
	descA = append(descA, contentHash...)
	descA = append(descA, pageMD5[:]...)

	var out []byte
	out = append(out, endian.WriteUint16(endian.Big, signature)...)
	out = append(out, 0)         // reserved
	out = append(out, hashSizeA) // hash_size_a
	out = append(out, hashSizeA) // hash_size_b (reuse for symmetry)
	out = append(out, make([]byte, 4)...)
	out = append(out, endian.WriteUint32(endian.Big, 1)...) // table_count_a
	out = append(out, endian.WriteUint32(endian.Big, 0)...) // table_count_b
	out = append(out, 0)                                    // reserved
	out = append(out, endian.WriteUint32(endian.Big, 0)...) // string_block_size

	out = append(out, descA...)
	out = append(out, page...)
	return out
}

func TestParseAndLookupFindsEntry(t *testing.T) {
	contentHash := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	keys := [][]byte{
		{0xAA, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xBB},
		{0xCC, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xDD},
	}
	raw := buildTableA(t, contentHash, keys, 4096)

	tbl, err := Parse(raw)
	require.NoError(t, err)

	got, size, err := tbl.Lookup(contentHash)
	require.NoError(t, err)
	assert.Equal(t, keys, got)
	assert.Equal(t, uint32(4096), size)
}

func TestLookupMissingHash(t *testing.T) {
	contentHash := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	key := []byte{0xAA, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xEE}
	raw := buildTableA(t, contentHash, [][]byte{key}, 10)

	tbl, err := Parse(raw)
	require.NoError(t, err)

	other := []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, _, err = tbl.Lookup(other)
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestParseBadSignature(t *testing.T) {
	raw := endian.WriteUint16(endian.Big, 0x1234)
	raw = append(raw, make([]byte, 40)...)
	_, err := Parse(raw)
	require.Error(t, err)
	var sigErr *SignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestParseCorruptPageFailsIntegrity(t *testing.T) {
	contentHash := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	key := []byte{0xAA, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xEE}
	raw := buildTableA(t, contentHash, [][]byte{key}, 10)

	// Corrupt a byte inside the page body (trailing zero padding).
	corruptAt := len(raw) - 1
	raw[corruptAt] ^= 0xFF

	tbl, err := Parse(raw)
	require.NoError(t, err)
	_, _, err = tbl.Lookup(contentHash)
	require.Error(t, err)
	var integrityErr *IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

func TestParseProfileSimple(t *testing.T) {
	p, err := ParseProfile("256K*=z")
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024), p.Size)
	assert.True(t, p.Wildcard)
	assert.Equal(t, byte('z'), p.Mode)
	assert.Nil(t, p.Inner)
	assert.Nil(t, p.Group)
}

func TestParseProfileNestedInner(t *testing.T) {
	p, err := ParseProfile("1M=n:256K*=z")
	require.NoError(t, err)
	assert.Equal(t, byte('n'), p.Mode)
	require.NotNil(t, p.Inner)
	assert.Equal(t, byte('z'), p.Inner.Mode)
	assert.True(t, p.Inner.Wildcard)
}

func TestParseProfileGroup(t *testing.T) {
	p, err := ParseProfile("0=n:{1K=z,2K=e}")
	require.NoError(t, err)
	require.Len(t, p.Group, 2)
	assert.Equal(t, byte('z'), p.Group[0].Mode)
	assert.Equal(t, byte('e'), p.Group[1].Mode)
}

func TestParseProfilesSplitsStringBlock(t *testing.T) {
	block := []byte("1K=z\x00" + "2K=n\x00")
	profs, err := ParseProfiles(block)
	require.NoError(t, err)
	require.Len(t, profs, 2)
	assert.Equal(t, byte('z'), profs[0].Mode)
	assert.Equal(t, byte('n'), profs[1].Mode)
}
