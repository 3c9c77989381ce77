package blinkmap

import (
	"bytes"
	"fmt"
)

// Insert stores (key, value). An existing key gains one more entry in its
// value chain; a new key gets a fresh slot and a single-link chain. Leaf
// overflow triggers a split that cascades up the route, growing the tree by
// one level when the root itself splits.
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrTreeClosed
	}
	if err := t.checkKey(key); err != nil {
		return err
	}
	if len(value) > t.opts.maxValueSize {
		return ErrValueTooLarge
	}

	route, err := t.lowerBoundRoute(key)
	if err != nil {
		return err
	}
	leaf := route[len(route)-1]
	n := leaf.n

	if leaf.idx < n.size() {
		k, err := t.readKey(n.keys[leaf.idx])
		if err != nil {
			return err
		}
		if bytes.Equal(k, key) {
			head, err := t.vlistInsert(n.vals[leaf.idx], value)
			if err != nil {
				return err
			}
			if head != n.vals[leaf.idx] {
				n.vals[leaf.idx] = head
				return t.writeNode(n)
			}
			return nil
		}
	}

	pos := leaf.idx
	if pos == idxAppend {
		pos = n.size()
	}
	kp, err := t.allocKey(key)
	if err != nil {
		return err
	}
	vp, err := t.vlistInsert(0, value)
	if err != nil {
		return err
	}
	n.keys = insertPtrAt(n.keys, pos, kp)
	n.vals = insertPtrAt(n.vals, pos, vp)
	n.dirty = true
	t.keyCount++

	// A key past the rightmost bound raises high keys down the spine.
	// Elsewhere routing already guarantees key <= highKey.
	for _, step := range route {
		if step.n.sibling == 0 && bytes.Compare(key, step.n.highKey) > 0 {
			step.n.highKey = cloneBytes(key)
			step.n.dirty = true
		}
	}

	if err := t.splitCascade(route); err != nil {
		return err
	}
	return t.flushRoute(route)
}

// splitCascade splits overflowing nodes bottom-up along the route. Each
// split may push its parent over the bound; the loop stops at the first
// ancestor left within bounds.
func (t *Tree) splitCascade(route []routeStep) error {
	for i := len(route) - 1; i >= 0; i-- {
		n := route[i].n
		if !n.overflow() {
			return nil
		}
		if i == 0 {
			return t.splitRoot(n)
		}
		parent, pos := route[i-1].n, route[i-1].idx
		if parent.children[pos] != n.ptr {
			t.log.Error("route step does not match parent child slot",
				"parent", uint64(parent.ptr), "node", uint64(n.ptr))
			return fmt.Errorf("%w: route step does not match parent child slot", ErrInvariant)
		}
		if err := t.split(parent, pos); err != nil {
			return err
		}
	}
	return nil
}

// splitRoot grows the tree by one level: a fresh internal root adopts the
// old root as its only child, then the ordinary split runs against it. The
// root handle flips last; until then the old root still reaches every key
// through its sibling link.
func (t *Tree) splitRoot(old *node) error {
	root, err := t.allocNode(false)
	if err != nil {
		return err
	}
	root.highKey = cloneBytes(old.highKey)
	root.children = append(root.children, old.ptr)
	old.parent = root.ptr
	old.dirty = true

	if err := t.split(root, 0); err != nil {
		return err
	}

	t.root = root.ptr
	return t.nodes.SetAnchor(root.ptr)
}
