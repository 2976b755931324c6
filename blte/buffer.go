package blte

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/blizzcasc/casc/blocksource"
	"github.com/blizzcasc/casc/endian"
)

// state is the buffer's lifecycle, per §4.E's state machine:
// Closed -> Opened(file,offset) -> HeaderParsed(chunks,total) -> Reading(lo,hi).
// Closed is reachable from any state; a failed Open or a failed chunk decode
// in Read leaves the buffer Closed.
type state int

const (
	stateClosed state = iota
	stateOpened
	stateHeaderParsed
	stateReading
)

const (
	outerHeaderSize  = 30
	innerPrefixSize  = 8 // signature + header_size
	blockTableMarker = 0x0F
	blockEntrySize   = 4 + 4 + 16
	windowSize       = 4096
)

var blteSignature = [4]byte{'B', 'L', 'T', 'E'}

// chunkDescriptor is one chunk's coordinates in both the logical (decoded)
// and physical (on-disk, post-header) address spaces.
type chunkDescriptor struct {
	logicalBegin, logicalEnd   int64
	physicalOffset, physicalSize int64
	checksum                   [16]byte
	handler                    Handler
}

// IntegrityError reports a computed hash that doesn't match the one stored
// on disk.
type IntegrityError struct {
	Where    string
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("blte: integrity check failed at %s: expected %x, got %x", e.Where, e.Expected, e.Actual)
}

// SignatureError reports a magic-constant mismatch.
type SignatureError struct {
	Expected, Actual uint32
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("blte: bad signature: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// ParserError reports malformed framing (missing block-table marker,
// truncated header, and similar).
type ParserError struct {
	Reason string
}

func (e *ParserError) Error() string { return "blte: " + e.Reason }

// Buffer parses a BLTE frame and exposes its decoded content as a seekable
// io.Reader. container.Stream embeds it for its Read/Seek/ReadAt/Len/Close
// surface.
type Buffer struct {
	src   blocksource.Source
	state state

	chunks      []chunkDescriptor
	totalLength int64

	pos int64

	windowLo, windowHi int64
	window              []byte
}

// Open parses the BLTE frame rooted at src (src.Get(0, n) must yield the
// frame's bytes, i.e. src is already positioned/bounded at the record's
// start). hasOuterHeader selects whether a 30-byte outer data header
// precedes the BLTE inner header (true for records stored inside a
// data.NNN pool, false for a raw standalone .blte file).
func Open(src blocksource.Source, hasOuterHeader bool) (*Buffer, error) {
	b := &Buffer{src: src, state: stateOpened}
	if err := b.parse(hasOuterHeader); err != nil {
		b.state = stateClosed
		return nil, err
	}
	b.state = stateHeaderParsed
	return b, nil
}

func (b *Buffer) parse(hasOuterHeader bool) error {
	var outerChecksum [16]byte
	var totalRecordSize int64
	headerOffset := int64(0)

	if hasOuterHeader {
		hdr, err := b.src.Get(0, outerHeaderSize)
		if err != nil || len(hdr) < outerHeaderSize {
			return &ParserError{Reason: "truncated outer data header"}
		}
		copy(outerChecksum[:], hdr[:16])
		totalRecordSize = int64(endian.ReadUint32(endian.Little, hdr[16:20]))
		headerOffset = outerHeaderSize
	}

	prefix, err := b.src.Get(headerOffset, innerPrefixSize)
	if err != nil || len(prefix) < innerPrefixSize {
		return &ParserError{Reason: "truncated BLTE signature/header_size"}
	}
	var sig [4]byte
	copy(sig[:], prefix[:4])
	if sig != blteSignature {
		return &SignatureError{
			Expected: endian.ReadUint32(endian.Little, blteSignature[:]),
			Actual:   endian.ReadUint32(endian.Little, sig[:]),
		}
	}
	headerSize := endian.ReadUint32(endian.Big, prefix[4:8])

	blockTableStart := headerOffset + innerPrefixSize
	var chunkMeta []struct {
		compressed, decompressed uint32
		checksum                 [16]byte
	}
	blockTableBytes := []byte{}

	if headerSize > 0 {
		// header_size counts from the start of the BLTE inner header
		// (signature+header_size included), so the table-marker section is
		// header_size - 8 bytes long.
		tableBytes := int64(headerSize) - innerPrefixSize
		blockTableBytes, err = b.src.Get(blockTableStart, tableBytes)
		if err != nil {
			return &ParserError{Reason: "truncated block table"}
		}
		if tableBytes < 1 || int64(len(blockTableBytes)) < tableBytes {
			return &ParserError{Reason: "block table shorter than header_size"}
		}
		blockTableBytes = blockTableBytes[:tableBytes]

		if blockTableBytes[0] != blockTableMarker {
			return &ParserError{Reason: "missing 0x0f block table marker"}
		}
		blockCount := endian.ReadUint24(endian.Big, blockTableBytes[1:4])
		need := 4 + int64(blockCount)*blockEntrySize
		if int64(len(blockTableBytes)) < need {
			return &ParserError{Reason: "truncated block table entries"}
		}
		off := int64(4)
		for i := uint32(0); i < blockCount; i++ {
			entry := blockTableBytes[off : off+blockEntrySize]
			var cm struct {
				compressed, decompressed uint32
				checksum                 [16]byte
			}
			cm.compressed = endian.ReadUint32(endian.Big, entry[0:4])
			cm.decompressed = endian.ReadUint32(endian.Big, entry[4:8])
			copy(cm.checksum[:], entry[8:24])
			chunkMeta = append(chunkMeta, cm)
			off += blockEntrySize
		}
	}

	// Verify the outer header's checksum over signature+header_size+table.
	if hasOuterHeader {
		h := md5.New()
		h.Write(prefix[:8])
		h.Write(blockTableBytes)
		sum := h.Sum(nil)
		reversed := reverseBytes(sum)
		if !bytes.Equal(reversed, outerChecksum[:]) {
			return &IntegrityError{Where: "BLTE outer header", Expected: outerChecksum[:], Actual: reversed}
		}
	}

	payloadStart := blockTableStart
	if headerSize > 0 {
		payloadStart += int64(headerSize) - innerPrefixSize
	}

	var chunks []chunkDescriptor
	logical := int64(0)

	if headerSize == 0 {
		// Single-chunk fast path: one handler for the whole remaining
		// payload. §4.E says the logical size "is taken from the outer
		// data header"; that header only records the physical record
		// size, so for a None-mode chunk (the common single-chunk case)
		// logical = physical-1. For any other mode the declared size is a
		// placeholder, corrected below once the chunk is actually decoded.
		var physicalSize int64
		if hasOuterHeader {
			physicalSize = totalRecordSize - payloadStart
		} else {
			physicalSize = b.src.Len() - payloadStart
		}
		if physicalSize <= 0 {
			return &ParserError{Reason: "empty single-chunk payload"}
		}
		modeByte, err := b.src.Get(payloadStart, 1)
		if err != nil || len(modeByte) < 1 {
			return &ParserError{Reason: "truncated chunk mode byte"}
		}
		declaredLogical := int(physicalSize) - 1
		sub := boundedSource(b.src, payloadStart, physicalSize)
		handler, err := NewHandler(Mode(modeByte[0]), sub, declaredLogical)
		if err != nil {
			return err
		}
		logicalEnd := int64(declaredLogical)
		if zh, ok := handler.(*zlibHandler); ok {
			if err := zh.ensureDecoded(); err != nil {
				return err
			}
			logicalEnd = int64(len(zh.decoded))
			zh.size = len(zh.decoded)
		}
		chunks = append(chunks, chunkDescriptor{
			logicalBegin:   0,
			logicalEnd:     logicalEnd,
			physicalOffset: payloadStart,
			physicalSize:   physicalSize,
			handler:        handler,
		})
		logical = logicalEnd
	} else {
		offset := payloadStart
		for _, cm := range chunkMeta {
			sub := boundedSource(b.src, offset, int64(cm.compressed))
			if err := verifyChunkChecksum(sub, cm.checksum); err != nil {
				return err
			}
			modeByte, err := sub.Get(0, 1)
			if err != nil || len(modeByte) < 1 {
				return &ParserError{Reason: "truncated chunk mode byte"}
			}
			handler, err := NewHandler(Mode(modeByte[0]), sub, int(cm.decompressed))
			if err != nil {
				return err
			}
			chunks = append(chunks, chunkDescriptor{
				logicalBegin:   logical,
				logicalEnd:     logical + int64(cm.decompressed),
				physicalOffset: offset,
				physicalSize:   int64(cm.compressed),
				checksum:       cm.checksum,
				handler:        handler,
			})
			logical += int64(cm.decompressed)
			offset += int64(cm.compressed)
		}
	}

	b.chunks = chunks
	b.totalLength = logical
	return nil
}

func verifyChunkChecksum(src blocksource.Source, want [16]byte) error {
	raw, err := src.Get(0, src.Len())
	if err != nil {
		return fmt.Errorf("blte: read chunk for checksum: %w", err)
	}
	got := md5.Sum(raw)
	if !bytes.Equal(got[:], want[:]) {
		return &IntegrityError{Where: "BLTE chunk", Expected: want[:], Actual: got[:]}
	}
	return nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// boundedSource returns a Source window over src restricted to
// [offset, offset+size), re-based so the returned source's own offset 0
// corresponds to src's offset.
func boundedSource(src blocksource.Source, offset, size int64) blocksource.Source {
	return &offsetSource{base: src, base0: offset, size: size}
}

// offsetSource re-bases a Source to a sub-window without copying bytes.
type offsetSource struct {
	base  blocksource.Source
	base0 int64
	size  int64
}

func (s *offsetSource) Len() int64 { return s.size }

func (s *offsetSource) Get(offset, count int64) ([]byte, error) {
	if offset < 0 || offset > s.size {
		return nil, fmt.Errorf("blte: offset %d out of bounds [0,%d]", offset, s.size)
	}
	if offset+count > s.size {
		count = s.size - offset
	}
	return s.base.Get(s.base0+offset, count)
}

func (s *offsetSource) Clone() blocksource.Source {
	return &offsetSource{base: s.base.Clone(), base0: s.base0, size: s.size}
}

// CacheKey forwards to base's CacheKey, if it has one, qualified by this
// window's own bounds, so distinct chunks sliced out of the same base
// Stream get distinct keys. Returns "" when base has no stable identity
// (e.g. blocksource.Memory), signaling that the chunk isn't cache-eligible.
func (s *offsetSource) CacheKey() string {
	ck, ok := s.base.(cacheKeyer)
	if !ok {
		return ""
	}
	base := ck.CacheKey()
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s+%d:%d", base, s.base0, s.size)
}

// BytesByMode returns the decoded byte count contributed by each chunk
// mode present in the record, keyed by Mode.String(). A single-chunk
// record reports one entry; a multi-chunk record sums each chunk's
// contribution by its own mode.
func (b *Buffer) BytesByMode() map[string]int64 {
	out := make(map[string]int64, 1)
	for _, c := range b.chunks {
		out[c.handler.Mode().String()] += c.logicalEnd - c.logicalBegin
	}
	return out
}

// Len reports the total decoded byte length of the record (the logical
// EOF).
func (b *Buffer) Len() int64 { return b.totalLength }

// Tell reports the current decoded read position.
func (b *Buffer) Tell() int64 { return b.pos }

// Close releases the buffer's decode window. It does not close the
// underlying block source's file handle, which the caller (streamalloc)
// owns independently of any one stream.
func (b *Buffer) Close() error {
	b.state = stateClosed
	b.window = nil
	return nil
}

// Seek implements io.Seeker over decoded bytes.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	case io.SeekEnd:
		target = b.totalLength + offset
	default:
		return 0, fmt.Errorf("blte: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("blte: negative seek position %d", target)
	}
	b.pos = target
	return target, nil
}

// Read implements io.Reader over decoded bytes, serving from the 4 KiB
// window when possible and otherwise dispatching to the covering chunk(s).
func (b *Buffer) Read(p []byte) (int, error) {
	if b.state == stateClosed {
		return 0, fmt.Errorf("blte: read on closed buffer")
	}
	if b.pos >= b.totalLength {
		return 0, io.EOF
	}
	b.state = stateReading

	if b.pos < b.windowLo || b.pos >= b.windowHi || b.window == nil {
		if err := b.fillWindow(b.pos); err != nil {
			b.state = stateClosed
			return 0, err
		}
	}
	n := copy(p, b.window[b.pos-b.windowLo:])
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) fillWindow(at int64) error {
	hi := at + windowSize
	if hi > b.totalLength {
		hi = b.totalLength
	}
	data, err := b.decodeRange(at, hi)
	if err != nil {
		return err
	}
	b.windowLo, b.windowHi = at, hi
	b.window = data
	return nil
}

// decodeRange returns the decoded bytes for [begin, end), dispatching to
// every chunk that contributes a slice and concatenating them in order —
// the cross-chunk read path.
func (b *Buffer) decodeRange(begin, end int64) ([]byte, error) {
	if end > b.totalLength {
		end = b.totalLength
	}
	if begin >= end {
		return nil, nil
	}
	out := make([]byte, 0, end-begin)
	for _, c := range b.chunks {
		if c.logicalEnd <= begin || c.logicalBegin >= end {
			continue
		}
		sliceBegin := maxInt64(begin, c.logicalBegin) - c.logicalBegin
		sliceEnd := minInt64(end, c.logicalEnd) - c.logicalBegin
		part, err := c.handler.Decode(int(sliceBegin), int(sliceEnd-sliceBegin))
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// ReadAt implements io.ReaderAt over decoded bytes without disturbing Seek
// position, letting callers materialize arbitrary [begin,end) ranges.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	data, err := b.decodeRange(off, off+int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
