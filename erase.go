package blinkmap

import (
	"bytes"
	"fmt"
)

// Erase removes one (key, value) entry. Absent key or absent value reports
// ErrNotFound and leaves the tree untouched. Removing the last value for a
// key removes the key slot itself, cascading borrows or merges up the
// route when the leaf underflows.
func (t *Tree) Erase(key, value []byte) error {
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

	route, leaf, idx, err := t.routeToKey(key)
	if err != nil {
		return err
	}

	head := leaf.vals[idx]
	newHead, freed, err := t.vlistRemove(head, value)
	if err != nil {
		return err
	}
	if freed == 0 {
		return ErrNotFound
	}

	if newHead != 0 {
		if newHead != head {
			leaf.vals[idx] = newHead
			if err := t.writeNode(leaf); err != nil {
				return err
			}
		}
		return t.vals.Free(freed)
	}

	// Last value gone: the key slot goes with it.
	if err := t.removeSlot(route, idx); err != nil {
		return err
	}
	return t.vals.Free(freed)
}

// EraseAll removes a key with its entire value chain. Reports ErrNotFound
// for an absent key.
func (t *Tree) EraseAll(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrTreeClosed
	}
	if err := t.checkKey(key); err != nil {
		return err
	}

	route, leaf, idx, err := t.routeToKey(key)
	if err != nil {
		return err
	}

	head := leaf.vals[idx]
	if err := t.removeSlot(route, idx); err != nil {
		return err
	}
	return t.vlistFree(head)
}

// routeToKey routes to key's leaf slot, failing with ErrNotFound when the
// key has no slot.
func (t *Tree) routeToKey(key []byte) ([]routeStep, *node, int, error) {
	route, err := t.lowerBoundRoute(key)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(route) == 0 {
		return nil, nil, 0, ErrNotFound
	}
	leaf := route[len(route)-1]
	if leaf.idx >= leaf.n.size() {
		return nil, nil, 0, ErrNotFound
	}
	k, err := t.readKey(leaf.n.keys[leaf.idx])
	if err != nil {
		return nil, nil, 0, err
	}
	if !bytes.Equal(k, key) {
		return nil, nil, 0, ErrNotFound
	}
	return route, leaf.n, leaf.idx, nil
}

// removeSlot drops the key slot at pos from the route's leaf, rebalances
// up the route, and releases the key handle once the new structure is
// durable.
func (t *Tree) removeSlot(route []routeStep, pos int) error {
	leaf := route[len(route)-1].n
	kp := leaf.keys[pos]
	leaf.keys = removePtrAt(leaf.keys, pos)
	leaf.vals = removePtrAt(leaf.vals, pos)
	leaf.dirty = true
	t.keyCount--

	if err := t.mergeCascade(route); err != nil {
		return err
	}
	if err := t.flushRoute(route); err != nil {
		return err
	}
	return t.freeKey(kp)
}

// mergeCascade fixes underflow bottom-up along the route: borrow from a
// richer sibling when one exists, merge two minimal nodes otherwise. A
// borrow restores the invariant outright; a merge removes a separator from
// the parent, which may underflow in turn.
func (t *Tree) mergeCascade(route []routeStep) error {
	for i := len(route) - 1; i >= 1; i-- {
		n := route[i].n
		if !n.underflow() {
			return nil
		}
		parent, pos := route[i-1].n, route[i-1].idx
		if parent.children[pos] != n.ptr {
			t.log.Error("route step does not match parent child slot",
				"parent", uint64(parent.ptr), "node", uint64(n.ptr))
			return fmt.Errorf("%w: route step does not match parent child slot", ErrInvariant)
		}

		if pos > 0 {
			left, err := t.readNode(parent.children[pos-1])
			if err != nil {
				return err
			}
			if left.size() > minKeys {
				return t.moveFromLeft(parent, pos-1)
			}
		}
		if pos < parent.size() {
			right, err := t.readNode(parent.children[pos+1])
			if err != nil {
				return err
			}
			if right.size() > minKeys {
				return t.moveFromRight(parent, pos)
			}
		}

		var err error
		if pos > 0 {
			err = t.merge(parent, pos-1)
		} else {
			err = t.merge(parent, pos)
		}
		if err != nil {
			return err
		}
	}
	return t.collapseRoot(route[0].n)
}

// collapseRoot shrinks the tree by one level when a merge leaves an
// internal root with a single child. A leaf root may hold any key count
// down to zero.
func (t *Tree) collapseRoot(root *node) error {
	if root.leaf || root.size() > 0 {
		return nil
	}
	child, err := t.readNode(root.children[0])
	if err != nil {
		return err
	}
	child.parent = 0
	child.dirty = true
	if err := t.writeNode(child); err != nil {
		return err
	}
	t.root = child.ptr
	if err := t.nodes.SetAnchor(child.ptr); err != nil {
		return err
	}
	return t.freeNode(root)
}
