// Package blinkmap implements a disk-backed ordered multimap as a B-link
// tree: a B+ tree whose nodes carry a high key and a right-sibling link, so
// a traversal that races a split recovers by moving right instead of
// restarting from the root.
//
// Keys map to multisets of values. Index nodes, key payloads, and value
// chains live in three separate slot stores derived from one base name.
package blinkmap

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"blinkmap/internal/cache"
	"blinkmap/internal/store"
)

// Tree is a disk-backed ordered multimap. All methods are safe for
// concurrent use; structural mutation is serialized to a single writer.
type Tree struct {
	mu    sync.RWMutex
	opts  Options
	log   Logger
	locks LockPolicy

	nodes *store.Store[*node]
	keys  *store.Store[[]byte]
	vals  *store.Store[vlistNode]

	nodeCache *cache.LRU[*node]
	keyCache  *cache.Bytes

	root     store.Ptr
	keyCount int
	open     bool
}

// Open opens or creates the tree stored under name. Three files are used:
// <name>_map_index.dat, <name>_map_key.dat, and <name>_map_val.dat. An
// empty tree gets its root node on first open.
func Open(name string, options ...Option) (*Tree, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if opts.maxKeySize <= 0 || opts.maxValueSize <= 0 {
		return nil, fmt.Errorf("%w: non-positive size bound", ErrInvariant)
	}

	storeOpts := store.Options{
		Capacity:       opts.capacity,
		SyncEveryWrite: opts.syncEveryWrite,
	}

	nodes, err := store.Open[*node](name+"_map_index.dat", nodeCodec{maxKey: opts.maxKeySize}, storeOpts)
	if err != nil {
		return nil, err
	}
	keys, err := store.Open[[]byte](name+"_map_key.dat", store.Bytes{Max: opts.maxKeySize}, storeOpts)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	vals, err := store.Open[vlistNode](name+"_map_val.dat", vlistCodec{maxValue: opts.maxValueSize}, storeOpts)
	if err != nil {
		keys.Close()
		nodes.Close()
		return nil, err
	}

	nodeCache, err := cache.NewLRU[*node](opts.nodeCacheSize)
	if err != nil {
		vals.Close()
		keys.Close()
		nodes.Close()
		return nil, err
	}
	keyCache, err := cache.NewBytes(opts.keyCacheBytes)
	if err != nil {
		vals.Close()
		keys.Close()
		nodes.Close()
		return nil, err
	}

	t := &Tree{
		opts:      opts,
		log:       opts.logger,
		locks:     opts.locks,
		nodes:     nodes,
		keys:      keys,
		vals:      vals,
		nodeCache: nodeCache,
		keyCache:  keyCache,
		open:      true,
	}

	t.root = nodes.Anchor()
	if t.root == 0 {
		root := &node{leaf: true}
		root.ptr, err = nodes.Allocate()
		if err == nil {
			err = t.writeNode(root)
		}
		if err == nil {
			err = nodes.SetAnchor(root.ptr)
		}
		if err != nil {
			t.closeStores()
			return nil, err
		}
		t.root = root.ptr
	} else if t.keyCount, err = t.countKeys(); err != nil {
		t.closeStores()
		return nil, err
	}

	t.log.Info("tree opened", "name", name, "root", uint64(t.root), "keys", t.keyCount)
	return t, nil
}

// Close syncs and closes all three stores together. The tree is unusable
// afterwards.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrTreeClosed
	}
	t.open = false
	t.log.Info("tree closing", "keys", t.keyCount)
	return t.closeStores()
}

func (t *Tree) closeStores() error {
	t.keyCache.Close()
	t.nodeCache.Purge()
	return errors.Join(t.nodes.Close(), t.keys.Close(), t.vals.Close())
}

// Find returns every value stored under key, in value order. An absent key
// yields an empty result, not an error.
func (t *Tree) Find(key []byte) ([][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.open {
		return nil, ErrTreeClosed
	}
	if err := t.checkKey(key); err != nil {
		return nil, err
	}

	route, err := t.lowerBoundRoute(key)
	if err != nil {
		return nil, err
	}
	if len(route) == 0 {
		return nil, nil
	}

	leaf := route[len(route)-1]
	if leaf.idx >= leaf.n.size() {
		return nil, nil
	}
	k, err := t.readKey(leaf.n.keys[leaf.idx])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(k, key) {
		return nil, nil
	}
	return t.vlistCollect(leaf.n.vals[leaf.idx])
}

// Len returns the number of distinct keys.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keyCount
}

// Stats reports store and cache counters.
type Stats struct {
	Keys           int
	NodeSlots      uint64 // index slots ever allocated
	KeySlots       uint64
	ValueSlots     uint64
	NodeCacheHits  uint64
	NodeCacheMiss  uint64
	KeyCacheHits   uint64
	KeyCacheMisses uint64
}

func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ns := t.nodeCache.Stats()
	ks := t.keyCache.Stats()
	return Stats{
		Keys:           t.keyCount,
		NodeSlots:      t.nodes.Allocated(),
		KeySlots:       t.keys.Allocated(),
		ValueSlots:     t.vals.Allocated(),
		NodeCacheHits:  ns.Hits,
		NodeCacheMiss:  ns.Misses,
		KeyCacheHits:   ks.Hits,
		KeyCacheMisses: ks.Misses,
	}
}

func (t *Tree) checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > t.opts.maxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

// readNode loads a node through the LRU. The returned node is shared with
// the cache; mutation is safe only under the tree's write lock.
func (t *Tree) readNode(p store.Ptr) (*node, error) {
	if n, ok := t.nodeCache.Get(uint64(p)); ok {
		return n, nil
	}

	t.locks.RLock(p)
	n, err := t.nodes.Read(p)
	t.locks.RUnlock(p)
	if err != nil {
		t.log.Error("node read failed", "node", uint64(p), "error", err)
		return nil, err
	}
	n.ptr = p
	t.nodeCache.Put(uint64(p), n)
	return n, nil
}

// writeNode persists a node write-through. On storage failure the cached
// copy is dropped so memory never runs ahead of disk.
func (t *Tree) writeNode(n *node) error {
	t.locks.Lock(n.ptr)
	err := t.nodes.Write(n.ptr, n)
	t.locks.Unlock(n.ptr)
	if err != nil {
		t.nodeCache.Drop(uint64(n.ptr))
		return err
	}
	n.dirty = false
	t.nodeCache.Put(uint64(n.ptr), n)
	return nil
}

func (t *Tree) allocNode(leaf bool) (*node, error) {
	p, err := t.nodes.Allocate()
	if err != nil {
		return nil, err
	}
	return &node{ptr: p, leaf: leaf, dirty: true}, nil
}

func (t *Tree) freeNode(n *node) error {
	n.dirty = false
	t.nodeCache.Drop(uint64(n.ptr))
	return t.nodes.Free(n.ptr)
}

func (t *Tree) readKey(p store.Ptr) ([]byte, error) {
	if k, ok := t.keyCache.Get(uint64(p)); ok {
		return k, nil
	}
	k, err := t.keys.Read(p)
	if err != nil {
		return nil, err
	}
	t.keyCache.Put(uint64(p), k)
	return k, nil
}

func (t *Tree) allocKey(key []byte) (store.Ptr, error) {
	p, err := t.keys.Allocate()
	if err != nil {
		return 0, err
	}
	if err := t.keys.Write(p, key); err != nil {
		return 0, err
	}
	t.keyCache.Put(uint64(p), cloneBytes(key))
	return p, nil
}

func (t *Tree) freeKey(p store.Ptr) error {
	t.keyCache.Drop(uint64(p))
	return t.keys.Free(p)
}

// countKeys walks the leaf chain left to right; used once at open to
// rebuild the in-memory key count.
func (t *Tree) countKeys() (int, error) {
	n, err := t.readNode(t.root)
	if err != nil {
		return 0, err
	}
	for !n.leaf {
		if n, err = t.readNode(n.children[0]); err != nil {
			return 0, err
		}
	}
	count := n.size()
	for n.sibling != 0 {
		if n, err = t.readNode(n.sibling); err != nil {
			return 0, err
		}
		count += n.size()
	}
	return count, nil
}
