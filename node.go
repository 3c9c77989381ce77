package blinkmap

import (
	"encoding/binary"

	"blinkmap/internal/store"
)

const (
	// Degree bounds node fan-out: a node holds at most Degree-1 keys and,
	// when internal, at most Degree children. Fixed per file format.
	Degree = 64

	maxKeys = Degree - 1
	minKeys = (Degree+1)/2 - 1 // non-root nodes never shrink below this

	// Leaf-step route sentinels.
	idxAppend = Degree     // every leaf key is below the bound: position is the leaf end
	idxNone   = Degree + 1 // no leaf key satisfies the bound
)

// Borrow/merge arithmetic requires fan-out of at least 6.
const _ uint = Degree - 6

const leafFlag byte = 0x01

// node is a decoded index node. Internal nodes route through children;
// leaves hold one value-list head per key. parent and sibling are weak
// references: a node owns its keys and, when internal, its children.
type node struct {
	ptr   store.Ptr
	dirty bool

	leaf    bool
	parent  store.Ptr
	sibling store.Ptr // right sibling, nil Ptr at the end of a level

	// highKey is the inclusive upper bound on keys reachable through this
	// node. Routing moves right across sibling whenever the search key
	// exceeds it. Ignored when sibling is nil (rightmost node at a level).
	highKey []byte

	keys     []store.Ptr // key-store handles, strictly increasing
	children []store.Ptr // internal: len(keys)+1 child nodes
	vals     []store.Ptr // leaf: len(keys) value-list heads
}

func (n *node) size() int { return len(n.keys) }

func (n *node) overflow() bool { return len(n.keys) > maxKeys }

func (n *node) underflow() bool { return len(n.keys) < minKeys }

// nodeCodec serializes nodes into fixed slots. The child/value-head arrays
// share one slot region; the leaf flag selects the interpretation.
type nodeCodec struct {
	maxKey int
}

func (c nodeCodec) Size() int {
	// flags(1) + size(2) + parent(8) + sibling(8) + highKey(2+max) +
	// keys(Degree*8) + slots((Degree+1)*8). The one-past-Degree slack in
	// the key and slot regions absorbs a node mid-split.
	return 1 + 2 + 8 + 8 + 2 + c.maxKey + Degree*8 + (Degree+1)*8
}

func (c nodeCodec) Encode(dst []byte, n *node) error {
	if len(n.keys) > Degree || len(n.highKey) > c.maxKey {
		return store.ErrValueTooLarge
	}

	var flags byte
	if n.leaf {
		flags |= leafFlag
	}
	dst[0] = flags
	binary.LittleEndian.PutUint16(dst[1:3], uint16(len(n.keys)))
	binary.LittleEndian.PutUint64(dst[3:11], uint64(n.parent))
	binary.LittleEndian.PutUint64(dst[11:19], uint64(n.sibling))
	binary.LittleEndian.PutUint16(dst[19:21], uint16(len(n.highKey)))
	copy(dst[21:], n.highKey)

	off := 21 + c.maxKey
	for _, k := range n.keys {
		binary.LittleEndian.PutUint64(dst[off:], uint64(k))
		off += 8
	}

	off = 21 + c.maxKey + Degree*8
	slots := n.children
	if n.leaf {
		slots = n.vals
	}
	for _, s := range slots {
		binary.LittleEndian.PutUint64(dst[off:], uint64(s))
		off += 8
	}
	return nil
}

func (c nodeCodec) Decode(src []byte) (*node, error) {
	n := &node{
		leaf:    src[0]&leafFlag != 0,
		parent:  store.Ptr(binary.LittleEndian.Uint64(src[3:11])),
		sibling: store.Ptr(binary.LittleEndian.Uint64(src[11:19])),
	}
	size := int(binary.LittleEndian.Uint16(src[1:3]))
	hk := int(binary.LittleEndian.Uint16(src[19:21]))
	if size > Degree || hk > c.maxKey {
		return nil, store.ErrCorrupt
	}
	n.highKey = make([]byte, hk)
	copy(n.highKey, src[21:21+hk])

	off := 21 + c.maxKey
	n.keys = make([]store.Ptr, size)
	for i := range n.keys {
		n.keys[i] = store.Ptr(binary.LittleEndian.Uint64(src[off:]))
		off += 8
	}

	off = 21 + c.maxKey + Degree*8
	nslots := size
	if !n.leaf {
		nslots = size + 1
	}
	slots := make([]store.Ptr, nslots)
	for i := range slots {
		slots[i] = store.Ptr(binary.LittleEndian.Uint64(src[off:]))
		off += 8
	}
	if n.leaf {
		n.vals = slots
	} else {
		n.children = slots
	}
	return n, nil
}

func insertPtrAt(s []store.Ptr, i int, p store.Ptr) []store.Ptr {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = p
	return s
}

func removePtrAt(s []store.Ptr, i int) []store.Ptr {
	return append(s[:i], s[i+1:]...)
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
