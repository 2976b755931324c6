// Package shmem parses the CASC shadow-memory file: a small typed block
// stream recording each index bucket's current version stamp and the
// archive's free-space extents.
package shmem

import (
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blizzcasc/casc/endian"
	"github.com/blizzcasc/casc/index"
)

var log = logging.Logger("casc/shmem")

// blockType tags the kind of block at a given offset in the shmem file.
type blockType uint32

const (
	blockFreeSpace blockType = 1
	blockHeader    blockType = 4
)

const (
	headerSizeFieldWidth = 4
	headerPathFieldSize  = 256
	directoryEntrySize   = 8 // block_size u32 LE + block_offset u32 LE
	versionStampSize     = 4

	freeSpaceCountWidth    = 4
	freeSpaceReservedBytes = 24
	freeSpaceSlots         = 1090
	freeSpaceSlotWidth     = 5

	// defaultSegmentBits is used to unpack a free-space location's packed
	// (file, offset) pair. Shmem carries no segment_bits field of its own;
	// this mirrors §3's "typically 30" default for the Reference packing
	// the index format uses, since both share the same packed-location
	// convention.
	defaultSegmentBits = 30
)

// FreeSpaceExtent is a contiguous run of reusable bytes inside one
// data.NNN file.
type FreeSpaceExtent struct {
	File   int
	Offset int64
	Size   int64
}

// Parsed is the decoded shmem file: every index bucket's current version
// stamp, and every live free-space extent.
type Parsed struct {
	Versions  map[int]uint32
	FreeSpace []FreeSpaceExtent
}

// ParserError reports malformed shmem framing.
type ParserError struct {
	Reason string
}

func (e *ParserError) Error() string { return "shmem: " + e.Reason }

// Parse decodes the full contents of a shmem file.
func Parse(raw []byte) (*Parsed, error) {
	p := &Parsed{Versions: make(map[int]uint32)}
	if err := parseBlockAt(raw, 0, p); err != nil {
		return nil, err
	}
	return p, nil
}

func parseBlockAt(raw []byte, offset int64, p *Parsed) error {
	if offset < 0 || offset+4 > int64(len(raw)) {
		return &ParserError{Reason: "block offset out of range"}
	}
	bt := blockType(endian.ReadUint32(endian.Little, raw[offset:offset+4]))
	body := raw[offset+4:]
	switch bt {
	case blockHeader:
		return parseHeaderBlock(raw, body, p)
	case blockFreeSpace:
		return parseFreeSpaceBlock(body, p)
	default:
		return &ParserError{Reason: fmt.Sprintf("unknown shmem block type %d", bt)}
	}
}

// parseHeaderBlock parses the Header block's fixed prefix (header_size,
// the 256-byte path, the block directory, and the per-bucket version
// vector), then recurses into every block the directory names. raw is the
// whole shmem file (directory offsets are file-absolute); body is the
// Header block's payload.
func parseHeaderBlock(raw, body []byte, p *Parsed) error {
	if len(body) < headerSizeFieldWidth {
		return &ParserError{Reason: "truncated shmem header_size"}
	}
	headerSize := endian.ReadUint32(endian.Little, body[0:4])
	content := body[headerSizeFieldWidth:]
	if int64(len(content)) < int64(headerSize) {
		return &ParserError{Reason: "shmem header_size exceeds block size"}
	}
	content = content[:headerSize]
	if len(content) < headerPathFieldSize {
		return &ParserError{Reason: "shmem header missing path field"}
	}

	path := decodePathField(content[:headerPathFieldSize])
	_ = path // path is informational only; the data directory is discovered by the caller relative to the shmem file's own location, per the canonicalization note in the design notes.

	rest := content[headerPathFieldSize:]
	versionsSize := index.NumBuckets * versionStampSize
	if len(rest) < versionsSize {
		return &ParserError{Reason: "shmem header missing version stamp vector"}
	}
	directoryBytes := rest[:len(rest)-versionsSize]
	versionBytes := rest[len(rest)-versionsSize:]

	if len(directoryBytes)%directoryEntrySize != 0 {
		return &ParserError{Reason: "shmem block directory not a multiple of entry size"}
	}
	for i := 0; i < index.NumBuckets; i++ {
		v := endian.ReadUint32(endian.Little, versionBytes[i*versionStampSize:(i+1)*versionStampSize])
		p.Versions[i] = v
	}

	for off := 0; off+directoryEntrySize <= len(directoryBytes); off += directoryEntrySize {
		blockSize := endian.ReadUint32(endian.Little, directoryBytes[off:off+4])
		blockOffset := endian.ReadUint32(endian.Little, directoryBytes[off+4:off+8])
		if blockSize == 0 && blockOffset == 0 {
			continue
		}
		if err := parseBlockAt(raw, int64(blockOffset), p); err != nil {
			return err
		}
	}
	return nil
}

func parseFreeSpaceBlock(body []byte, p *Parsed) error {
	if len(body) < freeSpaceCountWidth+freeSpaceReservedBytes {
		return &ParserError{Reason: "truncated shmem free-space block"}
	}
	count := endian.ReadUint32(endian.Little, body[0:4])
	tables := body[freeSpaceCountWidth+freeSpaceReservedBytes:]

	tableWidth := freeSpaceSlots * freeSpaceSlotWidth
	if len(tables) < 2*tableWidth {
		return &ParserError{Reason: "truncated shmem free-space tables"}
	}
	sizeTable := tables[:tableWidth]
	locTable := tables[tableWidth : 2*tableWidth]

	if int(count) > freeSpaceSlots {
		return &ParserError{Reason: "shmem free-space count exceeds slot table"}
	}
	for i := 0; i < int(count); i++ {
		size := readUintBE(sizeTable[i*freeSpaceSlotWidth : (i+1)*freeSpaceSlotWidth])
		loc := readUintBE(locTable[i*freeSpaceSlotWidth : (i+1)*freeSpaceSlotWidth])
		file, off := index.UnpackLocation(loc, defaultSegmentBits)
		p.FreeSpace = append(p.FreeSpace, FreeSpaceExtent{
			File:   file,
			Offset: off,
			Size:   int64(size),
		})
	}
	return nil
}

// decodePathField trims trailing NULs and strips the "Global\" prefix
// CascLib's shmem writer sometimes carries, per the design notes on the
// Global\ path-type quirk.
func decodePathField(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, `Global\`)
}

func readUintBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
