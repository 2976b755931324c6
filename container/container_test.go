package container

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blizzcasc/casc/endian"
	"github.com/blizzcasc/casc/hexid"
	"github.com/blizzcasc/casc/index"
	"github.com/blizzcasc/casc/internal/lookup3"
)

// This file builds a complete synthetic CASC archive on disk — .build.info,
// a build config, a CDN config, a shmem snapshot, one .idx bucket file, and
// a data.000 pool holding both the encoding table and one content file —
// and exercises Container.New end to end through OpenByKey and OpenByHash.
// The helpers below mirror the fixture-building style already used in
// blte/buffer_test.go, index/recordlist_test.go and shmem/shmem_base_test.go;
// each wire format is reproduced locally since the producing package's test
// helpers are unexported.

const keyWidth = 9 // storage-key and content-hash width used throughout this fixture

// buildStoredRecord wraps data in a single-chunk (None mode), outer-header
// data.NNN record: the 30-byte outer header's checksum is the reversed MD5
// of the 8-byte BLTE signature+header_size prefix (the block table is empty
// in the single-chunk fast path), per §4.E.
func buildStoredRecord(data []byte) []byte {
	prefix := append([]byte{'B', 'L', 'T', 'E'}, endian.WriteUint32(endian.Big, 0)...)
	payload := append([]byte{0x4E}, data...) // mode None
	inner := append(append([]byte{}, prefix...), payload...)

	sum := md5.Sum(prefix)
	reversed := make([]byte, 16)
	for i, v := range sum {
		reversed[15-i] = v
	}

	total := uint32(30 + len(inner))
	outer := append(append([]byte{}, reversed...), endian.WriteUint32(endian.Little, total)...)
	outer = append(outer, make([]byte, 10)...)

	return append(outer, inner...)
}

// buildIdxFile assembles a minimal .idx file with no bucket bound entries
// and one record, per §4.G — the same layout index/recordlist_test.go's
// buildIdxFile exercises from inside the index package.
func buildIdxFile(bucket uint16, key []byte, file int, offset int64, segmentBits uint8, size uint32) []byte {
	headerFields := endian.WriteUint16(endian.Little, 1)
	headerFields = append(headerFields, endian.WriteUint16(endian.Little, bucket)...)
	headerFields = append(headerFields, 4, 5, byte(len(key)), segmentBits)
	headerLen := uint32(len(headerFields))
	headerHash := lookup3.Hash(headerFields, 0)

	var out []byte
	out = append(out, endian.WriteUint32(endian.Little, headerLen)...)
	out = append(out, endian.WriteUint32(endian.Little, headerHash)...)
	out = append(out, headerFields...)

	consumed := int64(8) + int64(headerLen)
	pad := (16 - consumed%16) % 16
	out = append(out, make([]byte, pad)...)

	location := index.PackLocation(file, offset, uint(segmentBits))
	locBytes := make([]byte, 5)
	for i := 4; i >= 0; i-- {
		locBytes[i] = byte(location)
		location >>= 8
	}
	record := append(append([]byte{}, key...), locBytes...)
	record = append(record, endian.WriteUint32(endian.Little, size)...)

	dataHash := lookup3.Hash(record, 0)
	out = append(out, endian.WriteUint32(endian.Little, uint32(len(record)))...)
	out = append(out, endian.WriteUint32(endian.Little, dataHash)...)
	out = append(out, record...)
	return out
}

// buildShmemFile assembles a Header block (one directory entry, a path
// field, and the 16-bucket version vector) followed by its FreeSpace block,
// per §4.H — field widths reproduced from shmem's own implementation.
func buildShmemFile(versions [index.NumBuckets]uint32) []byte {
	const (
		pathFieldSize      = 256
		directoryEntrySize = 8
		versionStampSize   = 4
		freeSpaceSlots     = 1090
		freeSpaceSlotWidth = 5
		freeSpaceReserved  = 24
		blockHeader        = 4
		blockFreeSpace     = 1
	)

	freeSpaceBlock := append(endian.WriteUint32(endian.Little, blockFreeSpace), endian.WriteUint32(endian.Little, 0)...)
	freeSpaceBlock = append(freeSpaceBlock, make([]byte, freeSpaceReserved)...)
	freeSpaceBlock = append(freeSpaceBlock, make([]byte, 2*freeSpaceSlots*freeSpaceSlotWidth)...)

	freeSpaceOffset := uint32(8 + pathFieldSize + directoryEntrySize + index.NumBuckets*versionStampSize)

	var pathField [pathFieldSize]byte
	copy(pathField[:], `Global\data`)

	var headerContent []byte
	headerContent = append(headerContent, pathField[:]...)
	headerContent = append(headerContent, endian.WriteUint32(endian.Little, uint32(len(freeSpaceBlock)))...)
	headerContent = append(headerContent, endian.WriteUint32(endian.Little, freeSpaceOffset)...)
	for i := 0; i < index.NumBuckets; i++ {
		headerContent = append(headerContent, endian.WriteUint32(endian.Little, versions[i])...)
	}

	var out []byte
	out = append(out, endian.WriteUint32(endian.Little, blockHeader)...)
	out = append(out, endian.WriteUint32(endian.Little, uint32(len(headerContent)))...)
	out = append(out, headerContent...)
	out = append(out, freeSpaceBlock...)
	return out
}

// buildEncodingTable assembles a complete encoding file with a single
// table-A page holding one (contentHash -> keys) entry and an empty table
// B, per §4.I.
func buildEncodingTable(contentHash []byte, keys [][]byte, fileSize uint32) []byte {
	const pageSize = 4096

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

	descA := append(append([]byte{}, contentHash...), pageMD5[:]...)

	var out []byte
	out = append(out, endian.WriteUint16(endian.Big, 0x454E)...)
	out = append(out, 0)
	out = append(out, byte(len(contentHash)))
	out = append(out, byte(len(contentHash)))
	out = append(out, make([]byte, 4)...)
	out = append(out, endian.WriteUint32(endian.Big, 1)...)
	out = append(out, endian.WriteUint32(endian.Big, 0)...)
	out = append(out, 0)
	out = append(out, endian.WriteUint32(endian.Big, 0)...)
	out = append(out, descA...)
	out = append(out, page...)
	return out
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// buildArchive lays out a complete synthetic CASC archive under root,
// storing contentHash/content in one record and the given encoding table
// bytes in another, both in data/data.000, and returns the storage key the
// content file was written under.
func buildArchive(t *testing.T, root string, contentHash, content, encodingKey, encodingTableBytes []byte) (contentKey []byte) {
	t.Helper()

	contentKey = append([]byte{}, contentHash...) // reuse the content hash as its own storage key, 9 bytes wide
	contentKey = contentKey[:keyWidth]

	contentRecord := buildStoredRecord(content)
	encodingRecord := buildStoredRecord(encodingTableBytes)

	var dataFile []byte
	contentOffset := int64(len(dataFile))
	dataFile = append(dataFile, contentRecord...)
	encodingOffset := int64(len(dataFile))
	dataFile = append(dataFile, encodingRecord...)

	writeFile(t, filepath.Join(root, "Data", "data", "data.000"), dataFile)

	contentBucket := index.Bucket(contentKey)
	encodingBucket := index.Bucket(encodingKey)

	var versions [index.NumBuckets]uint32
	versions[contentBucket] = 1
	versions[encodingBucket] = 1

	if contentBucket == encodingBucket {
		idxData := buildIdxFileMulti(uint16(contentBucket), 30,
			[]idxRecord{
				{key: contentKey, file: 0, offset: contentOffset, size: uint32(len(contentRecord))},
				{key: encodingKey, file: 0, offset: encodingOffset, size: uint32(len(encodingRecord))},
			})
		writeFile(t, filepath.Join(root, "Data", "data", idxName(contentBucket, 1)), idxData)
	} else {
		writeFile(t, filepath.Join(root, "Data", "data", idxName(contentBucket, 1)),
			buildIdxFile(uint16(contentBucket), contentKey, 0, contentOffset, 30, uint32(len(contentRecord))))
		writeFile(t, filepath.Join(root, "Data", "data", idxName(encodingBucket, 1)),
			buildIdxFile(uint16(encodingBucket), encodingKey, 0, encodingOffset, 30, uint32(len(encodingRecord))))
	}

	writeFile(t, filepath.Join(root, "Data", "data", "shmem"), buildShmemFile(versions))

	return contentKey
}

func idxName(bucket int, version uint32) string {
	const hextable = "0123456789abcdef"
	b := make([]byte, 0, 10)
	b = append(b, hextable[(bucket>>4)&0xF], hextable[bucket&0xF])
	for shift := 28; shift >= 0; shift -= 4 {
		b = append(b, hextable[(version>>uint(shift))&0xF])
	}
	b = append(b, '.', 'i', 'd', 'x')
	return string(b)
}

type idxRecord struct {
	key            []byte
	file           int
	offset         int64
	size           uint32
}

// buildIdxFileMulti assembles a single-bucket .idx file holding more than
// one record, for the case where two distinct keys happen to route to the
// same bucket.
func buildIdxFileMulti(bucket uint16, segmentBits uint8, recs []idxRecord) []byte {
	headerFields := endian.WriteUint16(endian.Little, 1)
	headerFields = append(headerFields, endian.WriteUint16(endian.Little, bucket)...)
	headerFields = append(headerFields, 4, 5, byte(keyWidth), segmentBits)
	headerLen := uint32(len(headerFields))
	headerHash := lookup3.Hash(headerFields, 0)

	var out []byte
	out = append(out, endian.WriteUint32(endian.Little, headerLen)...)
	out = append(out, endian.WriteUint32(endian.Little, headerHash)...)
	out = append(out, headerFields...)

	consumed := int64(8) + int64(headerLen)
	pad := (16 - consumed%16) % 16
	out = append(out, make([]byte, pad)...)

	var records []byte
	for _, r := range recs {
		location := index.PackLocation(r.file, r.offset, uint(segmentBits))
		locBytes := make([]byte, 5)
		loc := location
		for i := 4; i >= 0; i-- {
			locBytes[i] = byte(loc)
			loc >>= 8
		}
		records = append(records, r.key...)
		records = append(records, locBytes...)
		records = append(records, endian.WriteUint32(endian.Little, r.size)...)
	}

	dataHash := lookup3.Hash(records, 0)
	out = append(out, endian.WriteUint32(endian.Little, uint32(len(records)))...)
	out = append(out, endian.WriteUint32(endian.Little, dataHash)...)
	out = append(out, records...)
	return out
}

func writeBuildInfo(t *testing.T, root, buildKey, cdnKey string) {
	t.Helper()
	content := "Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|CDN Key!HEX:16\n" +
		"us|1|" + buildKey + "|" + cdnKey + "\n"
	writeFile(t, filepath.Join(root, ".build.info"), []byte(content))
}

func writeConfig(t *testing.T, root, hash, content string) {
	t.Helper()
	path := filepath.Join(root, "Data", "config", hash[0:2], hash[2:4], hash)
	writeFile(t, path, []byte(content))
}

func TestContainerOpenByKeyAndByHash(t *testing.T) {
	root := t.TempDir()

	contentHash := make([]byte, keyWidth)
	for i := range contentHash {
		contentHash[i] = byte(0x10 + i)
	}
	content := []byte("hello casc archive")

	encodingKey := make([]byte, keyWidth)
	for i := range encodingKey {
		encodingKey[i] = byte(0x80 + i)
	}
	encodingTableBytes := buildEncodingTable(contentHash, [][]byte{contentHash}, uint32(len(content)))

	contentKey := buildArchive(t, root, contentHash, content, encodingKey, encodingTableBytes)

	buildKey := "00112233445566778899aabbccddeeff"[:32]
	cdnKey := "ffeeddccbbaa99887766554433221100"[:32]
	writeBuildInfo(t, root, buildKey, cdnKey)
	writeConfig(t, root, buildKey,
		"encoding = "+hexid.New(contentHash).String()+" "+hexid.New(encodingKey).String()+"\n"+
			"build-uid = testgame\n")
	writeConfig(t, root, cdnKey, "archives = \n")

	c, err := New(root, "Data")
	require.NoError(t, err)
	defer c.Close()

	s, err := c.OpenByKey(hexid.New(contentKey))
	require.NoError(t, err)
	got := make([]byte, s.Len())
	_, err = s.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.NoError(t, s.Close())

	s2, err := c.OpenByHash(hexid.New(contentHash))
	require.NoError(t, err)
	got2 := make([]byte, s2.Len())
	_, err = s2.ReadAt(got2, 0)
	require.NoError(t, err)
	assert.Equal(t, content, got2)
	require.NoError(t, s2.Close())

	assert.Equal(t, 2, c.Index().Len())
}

func TestContainerNewMissingBuildInfo(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Data", "data"), 0o755))

	_, err := New(root, "Data")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ".build.info", nf.Identifier)
}
