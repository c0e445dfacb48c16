// Package workercache implements a worker's two caches:
// a Response Cache keyed by request fingerprint, and a blob cache that
// tracks which store blobs are "ours" for eviction purposes. Grounded on
// cpp/worker/cache.hpp (size/access-time bookkeeping per hash, sorted by
// access time for eviction) and core/execution.cpp's RunWithCache, which
// never caches a Status::INTERNAL_ERROR response.
package workercache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

// Config controls a Cache's behavior.
type Config struct {
	// MaxBlobs bounds the in-memory blob LRU's entry count. The LRU tracks
	// which blobs this worker has touched recently, independent of the
	// store's own on-disk retention (eviction from the LRU does not delete
	// the blob; it only stops the worker bumping its access metadata).
	MaxBlobs int

	// Persist, when true, backs the blob access-time/size metadata with a
	// bbolt database at BoltPath so it survives a worker restart. Left
	// unresolved by Open Questions as to durability; default false
	// (in-memory only) since a cold cache after restart is self-correcting
	// (content-addressing means a "miss" just re-hashes).
	Persist  bool
	BoltPath string
}

// blobsBucket is the sole bbolt bucket used for persisted blob metadata.
var blobsBucket = []byte("blobs")

// Cache is one worker's Response Cache plus blob access tracking.
type Cache struct {
	mu        sync.RWMutex
	responses map[hashid.H]wire.Response

	blobs *lru.Cache // hashid.H -> blobMeta
	db    *bolt.DB
}

type blobMeta struct {
	Size       int64
	LastAccess int64 // unix nanos
}

// New constructs a Cache per cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxBlobs <= 0 {
		cfg.MaxBlobs = 4096
	}
	blobs, err := lru.New(cfg.MaxBlobs)
	if err != nil {
		return nil, fmt.Errorf("workercache: could not create blob LRU: %w", err)
	}

	c := &Cache{
		responses: make(map[hashid.H]wire.Response),
		blobs:     blobs,
	}

	if cfg.Persist {
		db, err := bolt.Open(cfg.BoltPath, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("workercache: could not open bolt db: %w", err)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(blobsBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("workercache: could not init bolt bucket: %w", err)
		}
		c.db = db
		if err := c.loadPersisted(); err != nil {
			db.Close()
			return nil, fmt.Errorf("workercache: could not load persisted blob metadata: %w", err)
		}
	}

	return c, nil
}

// Close releases the backing bbolt database, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// GetResponse looks up a cached Response by fingerprint.
func (c *Cache) GetResponse(fingerprint hashid.H) (wire.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.responses[fingerprint]
	return resp, ok
}

// PutResponse stores resp under fingerprint, unless resp's status is
// StatusInternalError or StatusOverloaded: neither reflects a property of
// the request itself, and caching either would make a transient worker
// failure or a momentary queue-full rejection permanent
// (core/execution.cpp's RunWithCache comment).
func (c *Cache) PutResponse(fingerprint hashid.H, resp wire.Response) {
	if resp.Status == wire.StatusInternalError || resp.Status == wire.StatusOverloaded {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[fingerprint] = resp
}

// Touch registers that blob h of the given size was just accessed,
// updating its access-time bookkeeping the way cache.hpp's Register does.
func (c *Cache) Touch(h hashid.H, size int64) {
	meta := blobMeta{Size: size, LastAccess: time.Now().UnixNano()}
	c.blobs.Add(h, meta)
	if c.db != nil {
		_ = c.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(blobsBucket)
			return b.Put([]byte(h.String()), encodeBlobMeta(meta))
		})
	}
}

// TotalSize sums the sizes of every blob currently tracked in the
// in-memory LRU, mirroring cache.hpp's total_size_.
func (c *Cache) TotalSize() int64 {
	var total int64
	for _, key := range c.blobs.Keys() {
		if v, ok := c.blobs.Peek(key); ok {
			total += v.(blobMeta).Size
		}
	}
	return total
}

// LeastRecentlyUsed returns up to n blob hashes ordered oldest-access-first,
// the candidates an eviction pass would remove first. Grounded on
// cache.hpp's sorted_files_ (a std::map<access_time, hash>), reimplemented
// here as a sort over the LRU's current contents rather than a second
// always-sorted index, since eviction is not on evalforge's hot path.
func (c *Cache) LeastRecentlyUsed(n int) []hashid.H {
	type entry struct {
		h    hashid.H
		meta blobMeta
	}
	var entries []entry
	for _, key := range c.blobs.Keys() {
		if v, ok := c.blobs.Peek(key); ok {
			entries = append(entries, entry{h: key.(hashid.H), meta: v.(blobMeta)})
		}
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].meta.LastAccess < entries[j-1].meta.LastAccess; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]hashid.H, 0, n)
	for _, e := range entries[:n] {
		out = append(out, e.h)
	}
	return out
}

// Forget drops a blob's tracked metadata, called once it has actually been
// evicted from the underlying store.
func (c *Cache) Forget(h hashid.H) {
	c.blobs.Remove(h)
	if c.db != nil {
		_ = c.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(blobsBucket).Delete([]byte(h.String()))
		})
	}
}
