package index

import (
	"fmt"

	"github.com/blizzcasc/casc/endian"
	"github.com/blizzcasc/casc/hexid"
	"github.com/blizzcasc/casc/internal/lookup3"
)

// IntegrityError reports a lookup3 checksum mismatch in an .idx file.
type IntegrityError struct {
	Where    string
	Expected uint32
	Actual   uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("index: integrity check failed at %s: expected 0x%08x, got 0x%08x", e.Where, e.Expected, e.Actual)
}

// ParserError reports malformed .idx framing.
type ParserError struct {
	Reason string
}

func (e *ParserError) Error() string { return "index: " + e.Reason }

type boundEntry struct {
	begin, end uint32
}

type bucketFileHeader struct {
	version       uint16
	bucket        uint16
	lengthWidth   uint8
	locationWidth uint8
	keyWidth      uint8
	segmentBits   uint8
	bounds        []boundEntry
}

type bucketFile struct {
	header  bucketFileHeader
	records []Reference
}

const (
	headerPrefixSize     = 8 // header_len + header_hash
	headerFixedFieldSize = 8 // version, bucket, 4 width bytes
	boundEntrySize       = 8 // BE u32 begin, BE u32 end
	dataPrefixSize       = 8 // data_len + data_hash
	pagePadding          = 4096
)

// parseBucketFile parses one complete .idx file's bytes per §4.G.
func parseBucketFile(raw []byte) (*bucketFile, error) {
	if len(raw) < headerPrefixSize {
		return nil, &ParserError{Reason: "truncated index header prefix"}
	}
	headerLen := endian.ReadUint32(endian.Little, raw[0:4])
	headerHash := endian.ReadUint32(endian.Little, raw[4:8])

	headerEnd := headerPrefixSize + int64(headerLen)
	if headerEnd > int64(len(raw)) {
		return nil, &ParserError{Reason: "index header_len exceeds file size"}
	}
	headerBytes := raw[headerPrefixSize:headerEnd]
	if got := lookup3.Hash(headerBytes, 0); got != headerHash {
		return nil, &IntegrityError{Where: "index header", Expected: headerHash, Actual: got}
	}
	if len(headerBytes) < headerFixedFieldSize {
		return nil, &ParserError{Reason: "index header shorter than fixed fields"}
	}

	h := bucketFileHeader{
		version:       endian.ReadUint16(endian.Little, headerBytes[0:2]),
		bucket:        endian.ReadUint16(endian.Little, headerBytes[2:4]),
		lengthWidth:   headerBytes[4],
		locationWidth: headerBytes[5],
		keyWidth:      headerBytes[6],
		segmentBits:   headerBytes[7],
	}

	boundBytes := headerBytes[headerFixedFieldSize:]
	if len(boundBytes)%boundEntrySize != 0 {
		return nil, &ParserError{Reason: "index bucket-bound section not a multiple of entry size"}
	}
	for off := 0; off+boundEntrySize <= len(boundBytes); off += boundEntrySize {
		h.bounds = append(h.bounds, boundEntry{
			begin: endian.ReadUint32(endian.Big, boundBytes[off:off+4]),
			end:   endian.ReadUint32(endian.Big, boundBytes[off+4:off+8]),
		})
	}

	// Align to a 16-byte boundary measured from the start of the file.
	consumed := headerPrefixSize + int64(headerLen)
	pad := (16 - consumed%16) % 16
	dataStart := consumed + pad
	if dataStart+dataPrefixSize > int64(len(raw)) {
		return nil, &ParserError{Reason: "truncated index data-section prefix"}
	}

	dataLen := endian.ReadUint32(endian.Little, raw[dataStart:dataStart+4])
	dataHash := endian.ReadUint32(endian.Little, raw[dataStart+4:dataStart+8])
	recordsStart := dataStart + dataPrefixSize
	recordsEnd := recordsStart + int64(dataLen)
	if recordsEnd > int64(len(raw)) {
		return nil, &ParserError{Reason: "index data_len exceeds file size"}
	}
	recordBytes := raw[recordsStart:recordsEnd]
	if got := lookup3.Hash(recordBytes, 0); got != dataHash {
		return nil, &IntegrityError{Where: "index data section", Expected: dataHash, Actual: got}
	}

	recordSize := int(h.keyWidth) + int(h.locationWidth) + int(h.lengthWidth)
	if recordSize == 0 || len(recordBytes)%recordSize != 0 {
		return nil, &ParserError{Reason: "index record bytes not a multiple of record width"}
	}

	var records []Reference
	for off := 0; off+recordSize <= len(recordBytes); off += recordSize {
		rec := recordBytes[off : off+recordSize]
		keyBytes := rec[0:h.keyWidth]
		locBytes := rec[h.keyWidth : int(h.keyWidth)+int(h.locationWidth)]
		lenBytes := rec[int(h.keyWidth)+int(h.locationWidth):]

		location := readUintBE(locBytes)
		size := readUintLE(lenBytes)
		file, offset := UnpackLocation(location, uint(h.segmentBits))

		records = append(records, Reference{
			Key:    hexid.New(keyBytes),
			File:   file,
			Offset: offset,
			Size:   int64(size),
		})
	}

	return &bucketFile{header: h, records: records}, nil
}

// readUintBE reads a big-endian unsigned integer from a 1-to-8-byte field.
func readUintBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// readUintLE reads an arbitrary-width little-endian integer, used for the
// record's length field (Parsers/Binary/Reference.hpp reads it with
// EndianType::Little, unlike the big-endian packed location field).
func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
