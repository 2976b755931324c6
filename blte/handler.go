// Package blte implements the BLTE chunked block codec: the per-chunk
// encoding-mode handlers (this file) and the frame parser / seekable
// decoded-byte view built on top of them (buffer.go).
//
// Grounded on github.com/lukegb/snowstorm's blte.Reader (mode dispatch,
// zlib inflate-and-cache) and on compactindexsized's pooled-buffer decode
// scratch space, reworked into the chunk-handler-table shape §9 of the spec
// calls for instead of a single linear io.Reader.
package blte

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/blizzcasc/casc/blocksource"
)

// Mode is a BLTE chunk's encoding tag, the first byte of its on-disk
// payload.
type Mode byte

const (
	ModeNone  Mode = 0x4E // 'N'
	ModeZlib  Mode = 0x5A // 'Z'
	ModeCrypt Mode = 0x45 // 'E', Blizzard's per-archive encryption
	ModeFrame Mode = 0x46 // 'F', nested BLTE; recognized, not implemented
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeZlib:
		return "zlib"
	case ModeCrypt:
		return "crypt"
	case ModeFrame:
		return "frame"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

// Handler decodes a single BLTE chunk. Implementations may cache the full
// decoded chunk after the first Decode call so that repeated small reads
// don't repeat expensive decompression.
type Handler interface {
	Mode() Mode
	// LogicalSize returns the decoded byte count of this chunk.
	LogicalSize() int
	// Decode returns exactly count decoded bytes starting at decoded offset
	// offset within the chunk, clamped to LogicalSize.
	Decode(offset, count int) ([]byte, error)
}

// Encoder is the write-side counterpart: it emits the on-disk chunk form,
// a 1-byte mode tag followed by the encoded payload.
type Encoder interface {
	Encode(data []byte) ([]byte, error)
}

// NewHandler builds the Handler for chunk mode m, whose on-disk payload
// (including the 1-byte mode tag at src offset 0) spans src.
func NewHandler(m Mode, src blocksource.Source, decompressedSize int) (Handler, error) {
	switch m {
	case ModeNone:
		return &noneHandler{src: src, size: decompressedSize}, nil
	case ModeZlib:
		return &zlibHandler{src: src, size: decompressedSize}, nil
	case ModeCrypt:
		return nil, &UnsupportedEncodingError{Mode: m}
	case ModeFrame:
		return nil, &UnsupportedEncodingError{Mode: m}
	default:
		return nil, &UnsupportedEncodingError{Mode: m}
	}
}

// UnsupportedEncodingError reports a BLTE chunk in a mode this core does
// not implement (Crypt, nested Frame, or an unrecognized tag).
type UnsupportedEncodingError struct {
	Mode Mode
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("blte: unsupported encoding mode %s", e.Mode)
}

// noneHandler serves plain, uncompressed chunk payload.
type noneHandler struct {
	src  blocksource.Source
	size int
}

func (h *noneHandler) Mode() Mode        { return ModeNone }
func (h *noneHandler) LogicalSize() int  { return h.size }
func (h *noneHandler) Encode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(ModeNone))
	return append(out, data...), nil
}

func (h *noneHandler) Decode(offset, count int) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("blte: negative decode offset %d", offset)
	}
	if offset > h.size {
		offset = h.size
	}
	if offset+count > h.size {
		count = h.size - offset
	}
	if count <= 0 {
		return nil, nil
	}
	// The chunk payload on disk is [mode tag][plain bytes]; skip the tag.
	return h.src.Get(int64(1+offset), int64(count))
}

// globalDecodeCache, when installed with SetDecodeCache, is consulted by
// every zlibHandler before it inflates, and populated after. Left nil,
// each handler just decodes and keeps its own copy, as before.
var globalDecodeCache *DecodeCache

// SetDecodeCache installs the process-wide decoded-chunk cache. Passing nil
// disables it. Typically called once during Container construction, sized
// from an Option.
func SetDecodeCache(c *DecodeCache) {
	globalDecodeCache = c
}

// zlibHandler inflates the chunk's zlib stream on first Decode and caches
// the full decoded output for subsequent calls.
type zlibHandler struct {
	src     blocksource.Source
	size    int
	decoded []byte
}

func (h *zlibHandler) Mode() Mode       { return ModeZlib }
func (h *zlibHandler) LogicalSize() int { return h.size }

func (h *zlibHandler) Encode(data []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = append(buf.B[:0], byte(ModeZlib))
	w := zlib.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("blte: zlib encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blte: zlib encode: %w", err)
	}
	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out, nil
}

func (h *zlibHandler) ensureDecoded() error {
	if h.decoded != nil {
		return nil
	}

	var cacheKey string
	if ck, ok := h.src.(cacheKeyer); ok {
		cacheKey = ck.CacheKey()
	}
	if cacheKey != "" {
		if cached, ok := globalDecodeCache.get(cacheKey); ok {
			h.decoded = cached
			return nil
		}
	}

	// src.Len() is the on-disk chunk size including the 1-byte mode tag;
	// the whole remainder is the zlib stream.
	raw, err := h.src.Get(1, h.src.Len()-1)
	if err != nil {
		return fmt.Errorf("blte: read zlib payload: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("blte: open zlib stream: %w", err)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("blte: inflate: %w", err)
	}
	h.decoded = decoded
	if cacheKey != "" {
		globalDecodeCache.set(cacheKey, decoded)
	}
	return nil
}

func (h *zlibHandler) Decode(offset, count int) ([]byte, error) {
	if err := h.ensureDecoded(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("blte: negative decode offset %d", offset)
	}
	if offset > len(h.decoded) {
		offset = len(h.decoded)
	}
	if offset+count > len(h.decoded) {
		count = len(h.decoded) - offset
	}
	if count <= 0 {
		return nil, nil
	}
	return h.decoded[offset : offset+count], nil
}
