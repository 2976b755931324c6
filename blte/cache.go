package blte

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cespare/xxhash/v2"
)

// DecodeCache holds fully-inflated zlib chunk payloads off-heap, shared
// across every Stream opened against the same Container. Without it, two
// Streams decoding the same shared chunk (e.g. two OpenByHash calls that
// resolve to keys packed into the same BLTE record) each pay their own
// zlib.Reader and keep their own copy alive until closed; with it, the
// second one hits cache instead.
//
// A DecodeCache is optional: zlibHandler decodes normally when none is
// installed.
type DecodeCache struct {
	cache *bigcache.BigCache
}

// xxhashHasher adapts cespare/xxhash to bigcache.Hasher, replacing
// bigcache's default fnv64a: fnv is a byte-at-a-time hash and shows up on
// profiles once cache keys (whole chunk identities) run a few dozen bytes,
// which ours do.
type xxhashHasher struct{}

func (xxhashHasher) Sum64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// NewDecodeCache builds a DecodeCache holding up to approximately maxBytes
// of decoded chunk payload, evicting entries older than ttl.
func NewDecodeCache(maxBytes int, ttl time.Duration) (*DecodeCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Hasher = xxhashHasher{}
	cfg.HardMaxCacheSize = maxBytes / (1024 * 1024)
	if cfg.HardMaxCacheSize == 0 {
		cfg.HardMaxCacheSize = 1
	}
	bc, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &DecodeCache{cache: bc}, nil
}

func (c *DecodeCache) get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, err := c.cache.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *DecodeCache) set(key string, value []byte) {
	if c == nil {
		return
	}
	_ = c.cache.Set(key, value)
}

// Close releases the cache's background eviction goroutine.
func (c *DecodeCache) Close() error {
	if c == nil {
		return nil
	}
	return c.cache.Close()
}

// cacheKeyer is implemented by blocksource.Source values whose byte range
// has a stable identity worth sharing a decode across, namely
// blocksource.Stream. blocksource.Memory does not implement it: in-memory
// sources are test fixtures or one-off buffers, never shared.
type cacheKeyer interface {
	CacheKey() string
}
