// Package blocksource implements the bounded byte windows the BLTE codec
// reads chunk payloads through: an in-memory buffer, or a shared handle onto
// an open data.NNN file constrained to a [begin, end) span.
//
// Both variants are cheap to clone and safe to call repeatedly; the Stream
// variant additionally keeps a small LRU of recently-fetched ranges so that
// BLTE's chunk-at-a-time decode doesn't re-seek/re-read the same bytes when
// a caller re-opens a stream at an offset it has already visited.
package blocksource

import (
	"context"
	"fmt"
	"io"

	"github.com/blizzcasc/casc/internal/rangecache"
)

// Source is a bounded byte window over either a memory buffer or an open
// file handle.
type Source interface {
	// Get returns exactly count bytes starting at offset, clamped to the
	// source's bounds: Memory clamps to the buffer end, Stream clamps to
	// min(count, end-begin-offset) and fails if offset is out of range.
	Get(offset, count int64) ([]byte, error)
	// Len reports the total addressable length of the source.
	Len() int64
	// Clone returns an independent handle sharing the same backing data
	// (and, for Stream, the same open file) safe for concurrent reuse by a
	// different BLTE buffer.
	Clone() Source
}

// Memory is a Source backed by an in-memory buffer.
type Memory struct {
	buf []byte
}

// NewMemory wraps buf. buf is not copied; callers must not mutate it after
// handing it to NewMemory.
func NewMemory(buf []byte) *Memory {
	return &Memory{buf: buf}
}

func (m *Memory) Len() int64 { return int64(len(m.buf)) }

func (m *Memory) Get(offset, count int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(m.buf)) {
		return nil, fmt.Errorf("blocksource: memory offset %d out of range [0,%d]", offset, len(m.buf))
	}
	end := offset + count
	if end > int64(len(m.buf)) {
		end = int64(len(m.buf))
	}
	return m.buf[offset:end], nil
}

func (m *Memory) Clone() Source {
	return &Memory{buf: m.buf}
}

// ReaderAtCloser is the minimal handle a Stream source needs: random-access
// reads plus a way to release the handle. *os.File satisfies it.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Stream is a Source backed by a shared read handle, bounded to [begin, end)
// within that handle. Multiple Streams may clone the same handle; none of
// them close it — the opener (streamalloc) owns the handle's lifetime.
type Stream struct {
	handle    ReaderAtCloser
	begin     int64
	end       int64
	cache     *rangecache.RangeCache
	cacheName string
}

// NewStream constructs a Stream bounded to [begin, end) within handle. name
// is used only for cache diagnostics.
func NewStream(handle ReaderAtCloser, begin, end int64, name string) *Stream {
	size := end - begin
	s := &Stream{handle: handle, begin: begin, end: end, cacheName: name}
	s.cache = rangecache.NewRangeCache(size, name, s.fetch, 4*1024*1024)
	return s
}

func (s *Stream) Len() int64 { return s.end - s.begin }

func (s *Stream) fetch(p []byte, off int64) (int, error) {
	return s.handle.ReadAt(p, s.begin+off)
}

func (s *Stream) Get(offset, count int64) ([]byte, error) {
	size := s.Len()
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("blocksource: stream offset %d out of range [0,%d]", offset, size)
	}
	if count > size-offset {
		count = size - offset
	}
	if count <= 0 {
		return nil, nil
	}
	return s.cache.GetRange(context.Background(), offset, count)
}

func (s *Stream) Clone() Source {
	return NewStream(s.handle, s.begin, s.end, s.cacheName)
}

// CacheKey identifies the byte range this Stream addresses, stable across
// independently-opened Streams pointed at the same data.NNN span — two
// Streams from separate Container.OpenByKey calls against the same archive
// share a CacheKey whenever they resolve to the same on-disk chunk.
func (s *Stream) CacheKey() string {
	return fmt.Sprintf("%s:%d-%d", s.cacheName, s.begin, s.end)
}
