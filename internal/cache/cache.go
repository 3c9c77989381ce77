// Package cache provides slot-keyed caches for the tree's stores.
//
// Decoded index nodes go through a strict LRU (go-freelru): the node path
// is hot, small, and written through on every mutation, so synchronous
// eviction with exact sizing is the right shape. Key payloads are immutable
// once allocated and heavily skewed by routing comparisons, so they go
// through ristretto, whose admission policy keeps frequently compared
// separators resident without tuning.
package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/elastic/go-freelru"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

func hashUint64(k uint64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return uint32(xxhash.Sum64(b[:]))
}

// LRU is a write-through LRU for decoded values keyed by slot handle.
type LRU[V any] struct {
	lru    *freelru.SyncedLRU[uint64, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewLRU creates an LRU holding up to capacity entries.
func NewLRU[V any](capacity int) (*LRU[V], error) {
	if capacity < 16 {
		capacity = 16
	}
	lru, err := freelru.NewSynced[uint64, V](uint32(capacity), hashUint64)
	if err != nil {
		return nil, err
	}
	return &LRU[V]{lru: lru}, nil
}

func (c *LRU[V]) Get(k uint64) (V, bool) {
	v, ok := c.lru.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *LRU[V]) Put(k uint64, v V) {
	c.lru.Add(k, v)
}

func (c *LRU[V]) Drop(k uint64) {
	c.lru.Remove(k)
}

func (c *LRU[V]) Purge() {
	c.lru.Purge()
}

func (c *LRU[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Bytes is a read-through cache for immutable byte payloads keyed by slot
// handle. Entries must be dropped when their slot is freed.
type Bytes struct {
	cache  *ristretto.Cache[uint64, []byte]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBytes creates a payload cache bounded to roughly maxBytes of cached
// data.
func NewBytes(maxBytes int64) (*Bytes, error) {
	if maxBytes < 1<<16 {
		maxBytes = 1 << 16
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxBytes / 64 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Bytes{cache: cache}, nil
}

func (c *Bytes) Get(k uint64) ([]byte, bool) {
	v, ok := c.cache.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Bytes) Put(k uint64, v []byte) {
	c.cache.Set(k, v, int64(len(v))+16)
}

func (c *Bytes) Drop(k uint64) {
	c.cache.Del(k)
}

// Wait blocks until buffered admissions are applied. Only tests need this.
func (c *Bytes) Wait() {
	c.cache.Wait()
}

func (c *Bytes) Close() {
	c.cache.Close()
}

func (c *Bytes) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
