// Package streamalloc resolves the archive's on-disk path conventions and
// opens the resulting files, sharing descriptors through a small LRU so that
// repeated opens of the same data.NNN pool file or .idx bucket don't pay for
// a fresh open(2)/close(2) pair every time.
package streamalloc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sys/unix"
)

var log = logging.Logger("casc/streamalloc")

// NotFoundError reports a missing file, carrying the path that was actually
// attempted so callers and logs can diagnose a bad archive root without
// re-deriving the path convention.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("streamalloc: file does not exist: %s", e.Path)
}

// Allocator resolves and opens the archive's config/data/index/shmem files.
// It is constructed once per Container and owns every *os.File it hands
// out; callers release a handle with Close, not file.Close directly, so the
// fd cache's reference count stays correct.
type Allocator struct {
	root      string // the data subdirectory, e.g. R/Data
	fds       *fdCache
	sessionID uuid.UUID
}

// New constructs an Allocator rooted at dataDir (the archive's data
// subdirectory, not the archive root itself — see ConfigPath and friends).
// fdCacheSize bounds how many distinct paths are kept open at once; 0
// disables caching, so every Open opens a fresh handle.
func New(dataDir string, fdCacheSize int) *Allocator {
	return &Allocator{
		root:      dataDir,
		fds:       newFDCacheOpenFile(fdCacheSize, os.O_RDONLY, 0),
		sessionID: uuid.New(),
	}
}

// ConfigPath returns the hashed path for a build/CDN config blob named by
// its lowercase hex hash.
func (a *Allocator) ConfigPath(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(a.root, "config", hash)
	}
	return filepath.Join(a.root, "config", hash[0:2], hash[2:4], hash)
}

// DataFilePath returns the path of the nth pooled data file.
func (a *Allocator) DataFilePath(n int) string {
	return filepath.Join(a.root, "data", fmt.Sprintf("data.%03d", n))
}

// IndexFilePath returns the path of the .idx file for bucket, at the given
// version stamp.
func (a *Allocator) IndexFilePath(bucket int, version uint32) string {
	return filepath.Join(a.root, "data", fmt.Sprintf("%02x%08x.idx", bucket, version))
}

// ShmemPath returns the path of the shadow-memory file.
func (a *Allocator) ShmemPath() string {
	return filepath.Join(a.root, "data", "shmem")
}

// Open opens path read-only, returning a *NotFoundError (wrapping the
// attempted path) if it does not exist.
func (a *Allocator) Open(path string) (*os.File, error) {
	return a.open(path, os.O_RDONLY)
}

// OpenReadWrite opens path for reading and writing, creating it if absent.
// Used only by the (largely out-of-scope) free-space rewrite path.
func (a *Allocator) OpenReadWrite(path string) (*os.File, error) {
	return a.open(path, os.O_RDWR|os.O_CREATE)
}

func (a *Allocator) open(path string, flag int) (*os.File, error) {
	f, err := a.fds.OpenWithFlag(path, flag)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("streamalloc: open %s: %w", path, err)
	}
	adviseRandomAccess(f)
	return f, nil
}

// Close releases one reference to f, acquired through Open/OpenReadWrite.
func (a *Allocator) Close(f *os.File) error {
	return a.fds.Close(f)
}

// CloseAll drops every cached descriptor: those with no outstanding
// references are closed now, the rest when their last reference is released
// through Close. Called when the owning Container is closed.
func (a *Allocator) CloseAll() {
	a.fds.Clear()
}

// SessionID identifies this Allocator's lifetime for log/trace correlation
// across the concurrent opens it services.
func (a *Allocator) SessionID() uuid.UUID {
	return a.sessionID
}

func adviseRandomAccess(f *os.File) {
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		log.Debugw("fadvise(RANDOM) failed", "path", f.Name(), "err", err)
	}
}
