// Package container implements the Container façade: the top-level API
// that composes the stream allocator, index, shmem snapshot, encoding
// table, and filesystem resolver into the three open-by-* entry points.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blizzcasc/casc/blocksource"
	"github.com/blizzcasc/casc/blte"
	"github.com/blizzcasc/casc/buildinfo"
	"github.com/blizzcasc/casc/continuity"
	"github.com/blizzcasc/casc/encoding"
	"github.com/blizzcasc/casc/hexid"
	"github.com/blizzcasc/casc/index"
	"github.com/blizzcasc/casc/resolver"
	"github.com/blizzcasc/casc/shmem"
	"github.com/blizzcasc/casc/streamalloc"
	"github.com/blizzcasc/casc/telemetry"
)

var log = logging.Logger("casc/container")

const defaultFDCacheSize = 64

// storageKeyWidth is the width of an Index lookup key (spec §4.I: "the
// first 18 hex chars"). The build config's encoding hash and the encoding
// table's resolved keys are both wider (16-byte content hashes); they must
// be truncated to this width before an Index.Find, per
// CascContainer.hpp's index.find(bytes.begin(), bytes.begin()+9).
const storageKeyWidth = 9

// NotFoundError reports a missing config/data/.idx/shmem file during
// construction, or a name/hash/key absent from the open path.
type NotFoundError struct {
	Kind, Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container: %s does not exist: %s", e.Kind, e.Identifier)
}

// Option configures Container construction.
type Option func(*config)

type config struct {
	fdCacheSize    int
	resolvers      *resolver.Registry
	decodeCacheMB  int
	decodeCacheTTL time.Duration
}

// WithFDCacheSize bounds how many distinct data/.idx files stay open at
// once. The default is 64.
func WithFDCacheSize(n int) Option {
	return func(c *config) { c.fdCacheSize = n }
}

// WithResolvers installs a Registry of game-specific filename resolvers;
// without one, OpenByName always fails with a NotFoundError
// (FilenameDoesNotExist).
func WithResolvers(reg *resolver.Registry) Option {
	return func(c *config) { c.resolvers = reg }
}

// WithDecodeCache shares up to maxBytes of decoded zlib chunk payload
// across every Stream this Container opens, evicting entries after ttl.
// Without this option, every Stream decodes its own chunks independently.
func WithDecodeCache(maxBytes int, ttl time.Duration) Option {
	return func(c *config) {
		c.decodeCacheMB = maxBytes
		c.decodeCacheTTL = ttl
	}
}

// Container is an opened CASC archive: the read-only Index, Shmem
// snapshot, and Encoding table produced at construction, plus the
// Allocator every opened Stream borrows a file handle from.
type Container struct {
	alloc *streamalloc.Allocator
	idx   *index.Index
	enc   *encoding.Table
	res   resolver.Resolver

	buildCfg buildinfo.Config
	cdnCfg   buildinfo.Config
	versions map[int]uint32
	freeSp   []shmem.FreeSpaceExtent

	decodeCache *blte.DecodeCache

	mu     sync.Mutex
	closed bool
}

// New constructs a Container rooted at archiveRoot, with dataSubdir the
// name of its data directory (conventionally "Data"). Construction runs
// the seven steps of §4.K: `.build.info`, build config, CDN config,
// shmem, every present `.idx` file, the encoding table, and (if a
// resolver is registered for the build's program code) the filesystem
// resolver.
func New(archiveRoot, dataSubdir string, opts ...Option) (*Container, error) {
	cfg := config{fdCacheSize: defaultFDCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	alloc := streamalloc.New(filepath.Join(archiveRoot, dataSubdir), cfg.fdCacheSize)
	c := &Container{alloc: alloc, idx: index.New()}

	if cfg.decodeCacheMB > 0 {
		dc, err := blte.NewDecodeCache(cfg.decodeCacheMB, cfg.decodeCacheTTL)
		if err != nil {
			alloc.CloseAll()
			return nil, fmt.Errorf("container: build decode cache: %w", err)
		}
		c.decodeCache = dc
		blte.SetDecodeCache(dc)
	}

	var row buildinfo.Row
	var encodingHash, encodingKey []byte

	chain := continuity.New()
	chain.
		Thenf("parse .build.info", func() error {
			r, err := parseBuildInfo(archiveRoot)
			row = r
			return err
		}).
		Thenf("open build config", func() error {
			buildCfg, err := openConfig(alloc, row["Build Key"])
			if err != nil {
				return err
			}
			c.buildCfg = buildCfg

			encValues, ok := buildCfg.Values("encoding")
			if !ok || len(encValues) < 2 {
				return &NotFoundError{Kind: "FileDoesNotExist", Identifier: "build config encoding field"}
			}
			ch, err := hexid.FromHex(encValues[0])
			if err != nil {
				return err
			}
			ck, err := hexid.FromHex(encValues[1])
			if err != nil {
				return err
			}
			encodingHash, encodingKey = ch.Bytes(), ck.Bytes()
			return nil
		}).
		Thenf("open CDN config", func() error {
			cdnCfg, err := openConfig(alloc, row["CDN Key"])
			c.cdnCfg = cdnCfg
			return err
		}).
		Thenf("parse shmem", func() error {
			versions, freeSp, err := parseShmem(alloc)
			if err != nil {
				return err
			}
			c.versions = versions
			c.freeSp = freeSp
			return nil
		}).
		Thenf("load index buckets", func() error {
			return loadIndexBuckets(alloc, c.versions, c.idx)
		}).
		Thenf("build encoding table", func() error {
			enc, err := openEncodingTable(alloc, c.idx, encodingHash, encodingKey)
			if err != nil {
				return err
			}
			c.enc = enc
			return nil
		}).
		Thenf("build filesystem resolver", func() error {
			buildUID, _ := c.buildCfg.Get("build-uid")
			if cfg.resolvers == nil || buildUID == "" {
				return nil
			}
			var rootHash []byte
			if root, ok := c.buildCfg.Get("root"); ok {
				id, err := hexid.FromHex(root)
				if err != nil {
					return err
				}
				rootHash = id.Bytes()
			}
			res, err := cfg.resolvers.Build(resolver.ProgramCode(buildUID), rootHash)
			if err != nil {
				// No resolver registered for this program code: openByName
				// will fail lazily instead of failing construction.
				log.Debugw("no filesystem resolver registered", "build_uid", buildUID, "err", err)
				return nil
			}
			c.res = res
			return nil
		})

	if err := chain.Err(); err != nil {
		alloc.CloseAll()
		return nil, err
	}
	return c, nil
}

func parseBuildInfo(archiveRoot string) (buildinfo.Row, error) {
	f, err := os.Open(filepath.Join(archiveRoot, ".build.info"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Kind: "FileDoesNotExist", Identifier: ".build.info"}
		}
		return nil, err
	}
	defer f.Close()

	_, rows, err := buildinfo.ParseBuildInfo(f)
	if err != nil {
		return nil, err
	}
	return buildinfo.ActiveRow(rows)
}

func openConfig(alloc *streamalloc.Allocator, hash string) (buildinfo.Config, error) {
	if hash == "" {
		return buildinfo.Config{}, nil
	}
	f, err := alloc.Open(alloc.ConfigPath(hash))
	if err != nil {
		return nil, err
	}
	defer alloc.Close(f)
	return buildinfo.ParseConfig(f)
}

func parseShmem(alloc *streamalloc.Allocator) (map[int]uint32, []shmem.FreeSpaceExtent, error) {
	f, err := alloc.Open(alloc.ShmemPath())
	if err != nil {
		return nil, nil, err
	}
	defer alloc.Close(f)

	raw, err := readAll(f)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := shmem.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return parsed.Versions, parsed.FreeSpace, nil
}

func loadIndexBuckets(alloc *streamalloc.Allocator, versions map[int]uint32, idx *index.Index) error {
	for bucket := 0; bucket < index.NumBuckets; bucket++ {
		version := versions[bucket]
		path := alloc.IndexFilePath(bucket, version)
		f, err := alloc.Open(path)
		if err != nil {
			var nf *streamalloc.NotFoundError
			if errors.As(err, &nf) {
				log.Debugw("no .idx file for bucket", "bucket", bucket, "version", version)
				continue
			}
			return err
		}
		raw, err := readAll(f)
		alloc.Close(f)
		if err != nil {
			return err
		}
		if err := idx.LoadBucket(bucket, raw); err != nil {
			return err
		}
	}
	return nil
}

func openEncodingTable(alloc *streamalloc.Allocator, idx *index.Index, contentHash, storageKey []byte) (*encoding.Table, error) {
	ref, err := idx.Find(hexid.New(storageKey).Truncate(storageKeyWidth))
	if err != nil {
		return nil, err
	}
	raw, err := readReference(alloc, ref)
	if err != nil {
		return nil, err
	}
	return encoding.Parse(raw)
}

// readReference opens the data.NNN file a Reference points at, decodes its
// BLTE frame in full, and returns the decoded bytes. Used for the encoding
// table, a whole-file read where streaming isn't worth the bookkeeping.
func readReference(alloc *streamalloc.Allocator, ref index.Reference) ([]byte, error) {
	f, err := alloc.Open(alloc.DataFilePath(ref.File))
	if err != nil {
		return nil, err
	}
	defer alloc.Close(f)

	src := blocksource.NewStream(f, ref.Offset, ref.Offset+ref.Size, strconv.Itoa(ref.File))
	buf, err := blte.Open(src, true)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	if _, err := buf.ReadAt(out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func readAll(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Stream is a seekable reader over one file's decoded content. Close
// releases both the BLTE decode window and the underlying data.NNN file
// handle.
type Stream struct {
	*blte.Buffer
	alloc *streamalloc.Allocator
	file  *os.File
}

// Close releases the stream's decode window and its file handle.
func (s *Stream) Close() error {
	berr := s.Buffer.Close()
	aerr := s.alloc.Close(s.file)
	if berr != nil {
		return berr
	}
	return aerr
}

// OpenByKey opens the stream stored under the given 9-byte storage key.
func (c *Container) OpenByKey(key hexid.ID) (*Stream, error) {
	ref, err := c.idx.Find(key)
	if err != nil {
		return nil, err
	}
	return c.openReference(ref)
}

// OpenByHash opens the stream whose content resolves, through the
// encoding table, to the given content hash.
func (c *Container) OpenByHash(hash hexid.ID) (*Stream, error) {
	keys, _, err := c.enc.Lookup(hash.Bytes())
	if err != nil {
		return nil, err
	}
	return c.OpenByKey(hexid.New(keys[0]).Truncate(storageKeyWidth))
}

// OpenByName opens the stream for a logical filename, through the
// filesystem resolver registered for the archive's program code.
func (c *Container) OpenByName(path string) (*Stream, error) {
	if c.res == nil {
		return nil, &NotFoundError{Kind: "FilenameDoesNotExist", Identifier: path}
	}
	hash, err := c.res.Find(path)
	if err != nil {
		return nil, err
	}
	return c.OpenByHash(hexid.New(hash))
}

func (c *Container) openReference(ref index.Reference) (*Stream, error) {
	path := c.alloc.DataFilePath(ref.File)
	_, span := telemetry.TraceFileOperation(context.Background(), "open", path)
	f, err := c.alloc.Open(path)
	if err != nil {
		telemetry.RecordError(span, err, "open data file")
		span.End()
		return nil, err
	}
	span.End()
	src := blocksource.NewStream(f, ref.Offset, ref.Offset+ref.Size, strconv.Itoa(ref.File))
	buf, err := blte.Open(src, true)
	if err != nil {
		c.alloc.Close(f)
		return nil, err
	}
	return &Stream{Buffer: buf, alloc: c.alloc, file: f}, nil
}

// FreeSpace returns the archive's free-space extents, as parsed from
// shmem at construction.
func (c *Container) FreeSpace() []shmem.FreeSpaceExtent {
	return c.freeSp
}

// Index exposes the parsed Index for callers that need to enumerate or
// verify every stored record (e.g. a verification CLI mode).
func (c *Container) Index() *index.Index {
	return c.idx
}

// BuildConfig returns the parsed build config blob, per §6's grammar.
func (c *Container) BuildConfig() buildinfo.Config {
	return c.buildCfg
}

// CDNConfig returns the parsed CDN config blob.
func (c *Container) CDNConfig() buildinfo.Config {
	return c.cdnCfg
}

// Close drops every file handle the Container's Allocator has cached.
// Already-opened Streams are unaffected: each holds a reference to its data
// file handle, which stays open until that Stream is closed.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.alloc.CloseAll()
	if c.decodeCache != nil {
		blte.SetDecodeCache(nil)
		return c.decodeCache.Close()
	}
	return nil
}

