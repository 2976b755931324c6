// Package encoding parses the CASC encoding table: the two-level sorted
// page index mapping a content hash to the list of storage keys it
// resolves to.
package encoding

import (
	"bytes"
	"crypto/md5"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blizzcasc/casc/endian"
)

var log = logging.Logger("casc/encoding")

var signature = uint16(0x454E) // "EN"

const (
	pageSize          = 4096
	headerFixedFields = 1 + 1 + 1 + 4 + 4 + 4 + 1 + 4 // reserved + hash_size_a + hash_size_b + reserved(4) + table_count_a + table_count_b + reserved(1) + string_block_size
)

// SignatureError reports a magic-constant mismatch.
type SignatureError struct {
	Expected, Actual uint16
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("encoding: bad signature: expected 0x%04x, got 0x%04x", e.Expected, e.Actual)
}

// IntegrityError reports a page whose MD5 doesn't match its descriptor.
type IntegrityError struct {
	Where    string
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("encoding: integrity check failed at %s: expected %x, got %x", e.Where, e.Expected, e.Actual)
}

// ParserError reports malformed encoding-table framing.
type ParserError struct {
	Reason string
}

func (e *ParserError) Error() string { return "encoding: " + e.Reason }

// NotFoundError reports a content hash absent from table A.
type NotFoundError struct {
	Hash []byte
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("encoding: content hash not found: %x", e.Hash)
}

type pageDescriptor struct {
	firstHash []byte
	pageMD5   [16]byte
}

// Table is a parsed encoding file: table A resolves a content hash to its
// storage keys and logical size; table B's descriptors and pages are parsed
// and kept but never read or MD5-verified, since the open path never needs
// reverse key→hash lookup.
type Table struct {
	hashSizeA, hashSizeB uint8
	stringBlock          []byte

	pagesA []pageDescriptor
	dataA  []byte // table_count_a pages of pageSize bytes, in descriptor order

	pagesB []pageDescriptor
	dataB  []byte
}

// Parse decodes a complete encoding-file buffer per §4.I.
func Parse(raw []byte) (*Table, error) {
	if len(raw) < 2 {
		return nil, &ParserError{Reason: "truncated encoding header"}
	}
	got := endian.ReadUint16(endian.Big, raw[0:2])
	if got != signature {
		return nil, &SignatureError{Expected: signature, Actual: got}
	}
	if len(raw) < 2+headerFixedFields {
		return nil, &ParserError{Reason: "truncated encoding header fixed fields"}
	}

	// raw[2] is a reserved byte.
	hashSizeA := raw[3]
	hashSizeB := raw[4]
	// raw[5:9] are reserved.
	tableCountA := endian.ReadUint32(endian.Big, raw[9:13])
	tableCountB := endian.ReadUint32(endian.Big, raw[13:17])
	// raw[17] is reserved.
	stringBlockSize := endian.ReadUint32(endian.Big, raw[18:22])

	off := int64(2 + headerFixedFields)
	if off+int64(stringBlockSize) > int64(len(raw)) {
		return nil, &ParserError{Reason: "encoding string_block_size exceeds file size"}
	}
	stringBlock := raw[off : off+int64(stringBlockSize)]
	off += int64(stringBlockSize)

	pagesA, dataA, next, err := parsePageTable(raw, off, tableCountA, hashSizeA)
	if err != nil {
		return nil, err
	}
	off = next

	pagesB, dataB, _, err := parsePageTable(raw, off, tableCountB, hashSizeB)
	if err != nil {
		return nil, err
	}

	return &Table{
		hashSizeA:   hashSizeA,
		hashSizeB:   hashSizeB,
		stringBlock: stringBlock,
		pagesA:      pagesA,
		dataA:       dataA,
		pagesB:      pagesB,
		dataB:       dataB,
	}, nil
}

func parsePageTable(raw []byte, off int64, count uint32, hashSize uint8) (descs []pageDescriptor, data []byte, next int64, err error) {
	entrySize := int64(hashSize) + 16
	descBytes := entrySize * int64(count)
	if off+descBytes > int64(len(raw)) {
		return nil, nil, 0, &ParserError{Reason: "encoding page descriptor table exceeds file size"}
	}
	for i := uint32(0); i < count; i++ {
		entry := raw[off : off+entrySize]
		var d pageDescriptor
		d.firstHash = append([]byte{}, entry[:hashSize]...)
		copy(d.pageMD5[:], entry[hashSize:])
		descs = append(descs, d)
		off += entrySize
	}

	dataLen := int64(count) * pageSize
	if off+dataLen > int64(len(raw)) {
		return nil, nil, 0, &ParserError{Reason: "encoding page data exceeds file size"}
	}
	data = raw[off : off+dataLen]
	return descs, data, off + dataLen, nil
}

// Lookup resolves a content hash to its storage keys, canonical key first,
// and the entry's logical (decoded) size.
func (t *Table) Lookup(contentHash []byte) (keys [][]byte, logicalSize uint32, err error) {
	page, ok := t.findPage(t.pagesA, contentHash)
	if !ok {
		return nil, 0, &NotFoundError{Hash: contentHash}
	}
	pageBytes, err := t.verifiedPage(t.dataA, t.pagesA, page)
	if err != nil {
		return nil, 0, err
	}
	return scanPageA(pageBytes, contentHash, t.hashSizeA)
}

// findPage returns the index of the last descriptor whose firstHash is
// <= target, per §4.I's descending-scan lookup invariant.
func (t *Table) findPage(descs []pageDescriptor, target []byte) (int, bool) {
	found := -1
	for i, d := range descs {
		if bytes.Compare(d.firstHash, target) <= 0 {
			found = i
		} else {
			break
		}
	}
	if found < 0 {
		return 0, false
	}
	return found, true
}

func (t *Table) verifiedPage(data []byte, descs []pageDescriptor, page int) ([]byte, error) {
	start := page * pageSize
	pageBytes := data[start : start+pageSize]
	sum := md5.Sum(pageBytes)
	if sum != descs[page].pageMD5 {
		return nil, &IntegrityError{Where: "encoding page", Expected: descs[page].pageMD5[:], Actual: sum[:]}
	}
	return pageBytes, nil
}

// scanPageA linearly scans an A-table page for an entry whose hash equals
// target, stopping at the first zero key_count terminator.
func scanPageA(page []byte, target []byte, hashSize uint8) (keys [][]byte, logicalSize uint32, err error) {
	off := 0
	for off+2+4+int(hashSize) <= len(page) {
		keyCount := endian.ReadUint16(endian.Little, page[off:off+2])
		if keyCount == 0 {
			break
		}
		fileSize := endian.ReadUint32(endian.Big, page[off+2:off+6])
		hash := page[off+6 : off+6+int(hashSize)]
		off += 6 + int(hashSize)

		keysEnd := off + int(keyCount)*int(hashSize)
		if keysEnd > len(page) {
			return nil, 0, &ParserError{Reason: "encoding page entry keys exceed page bounds"}
		}
		entryKeys := page[off:keysEnd]
		off = keysEnd

		if bytes.Equal(hash, target) {
			var out [][]byte
			for i := 0; i < int(keyCount); i++ {
				out = append(out, append([]byte{}, entryKeys[i*int(hashSize):(i+1)*int(hashSize)]...))
			}
			return out, fileSize, nil
		}
	}
	return nil, 0, &NotFoundError{Hash: target}
}
