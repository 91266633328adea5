package digest

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/localfs"
)

type cacheKey struct {
	path      string
	size      int64
	modTime   int64
	algorithm string
}

// Cache remembers digests of local files so that re-selecting an unchanged file
// skips the hashing pass. Entries are keyed by path, size, modification time
// and algorithm. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[cacheKey, string]
}

// NewCache returns a Cache holding up to size digests.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = constants.DigestCacheEntries
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: c}, nil
}

func keyFor(blob localfs.Blob, algorithm string) (cacheKey, bool) {
	f, ok := blob.(*localfs.File)
	if !ok {
		return cacheKey{}, false
	}
	return cacheKey{
		path:      f.Path(),
		size:      f.Size(),
		modTime:   f.ModTime().UnixNano(),
		algorithm: algorithm,
	}, true
}

// Lookup returns the cached digest for blob, if any. Only file-backed blobs
// are cached.
func (c *Cache) Lookup(blob localfs.Blob, algorithm string) (string, bool) {
	if c == nil {
		return "", false
	}
	key, ok := keyFor(blob, algorithm)
	if !ok {
		return "", false
	}
	return c.entries.Get(key)
}

// Store records digest for blob.
func (c *Cache) Store(blob localfs.Blob, algorithm, digest string) {
	if c == nil {
		return
	}
	if key, ok := keyFor(blob, algorithm); ok {
		c.entries.Add(key, digest)
	}
}

// Len returns the number of cached digests.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// SumCached consults cache before hashing and stores the result afterwards.
// A nil cache hashes every time. The bool result reports a cache hit.
func (h *Hasher) SumCached(ctx context.Context, cache *Cache, blob localfs.Blob, onProgress ProgressFunc) (string, bool, error) {
	if d, ok := cache.Lookup(blob, h.Algorithm); ok {
		if onProgress != nil {
			onProgress(blob.Size(), blob.Size())
		}
		return d, true, nil
	}
	d, err := h.Sum(ctx, blob, onProgress)
	if err != nil {
		return "", false, err
	}
	cache.Store(blob, h.Algorithm, d)
	return d, false, nil
}
