package blinkmap

import (
	"fmt"

	"blinkmap/internal/store"
)

// Rebalancing operations. Write ordering is load-bearing throughout: the
// node that gains keys becomes durable before the node that loses them,
// and the parent separator changes last. A traversal that lands between
// two of these writes finds every key either in place or one sibling hop
// to the right.

// split divides the overflowing child at parent.children[pos] in two. The
// left half keeps the first ceil((Degree-1)/2) keys; the separator joins
// parent at pos. The left node's high key drops to the separator and its
// sibling points at the new right node before the parent learns anything,
// so a concurrent reader crossing the split recovers via the sibling link.
func (t *Tree) split(parent *node, pos int) error {
	child, err := t.readNode(parent.children[pos])
	if err != nil {
		return err
	}
	if !child.overflow() {
		return fmt.Errorf("%w: split of node with %d keys", ErrInvariant, child.size())
	}

	nLeft := Degree / 2 // ceil((Degree-1)/2)

	right, err := t.allocNode(child.leaf)
	if err != nil {
		return err
	}
	right.parent = child.parent
	right.sibling = child.sibling
	right.highKey = child.highKey

	var (
		sep    store.Ptr
		sepKey []byte
	)
	if child.leaf {
		right.keys = append(right.keys, child.keys[nLeft:]...)
		right.vals = append(right.vals, child.vals[nLeft:]...)
		// Leaf separators are routing-only: the parent owns its own copy
		// of the left half's largest key.
		if sepKey, err = t.readKey(child.keys[nLeft-1]); err != nil {
			return err
		}
		if sep, err = t.allocKey(sepKey); err != nil {
			return err
		}
	} else {
		// The median's handle moves up to the parent.
		sep = child.keys[nLeft]
		if sepKey, err = t.readKey(sep); err != nil {
			return err
		}
		right.keys = append(right.keys, child.keys[nLeft+1:]...)
		right.children = append(right.children, child.children[nLeft+1:]...)
	}

	if err := t.writeNode(right); err != nil {
		return err
	}
	if !right.leaf {
		if err := t.reparent(right.children, right.ptr); err != nil {
			return err
		}
	}

	if child.leaf {
		child.keys = child.keys[:nLeft]
		child.vals = child.vals[:nLeft]
	} else {
		child.keys = child.keys[:nLeft]
		child.children = child.children[:nLeft+1]
	}
	child.highKey = cloneBytes(sepKey)
	child.sibling = right.ptr
	child.dirty = true
	if err := t.writeNode(child); err != nil {
		return err
	}

	if child.size() < minKeys || right.size() < minKeys {
		return fmt.Errorf("%w: undersized half after split (%d/%d)",
			ErrInvariant, child.size(), right.size())
	}

	parent.keys = insertPtrAt(parent.keys, pos, sep)
	parent.children = insertPtrAt(parent.children, pos+1, right.ptr)
	parent.dirty = true
	if parent.overflow() {
		return nil // persisted by the parent's own split
	}
	return t.writeNode(parent)
}

// merge folds parent.children[leftPos+1] into parent.children[leftPos],
// removes the separator at leftPos, and frees the right node. Leaf
// separators are routing-only and are released; an internal merge pulls
// the separator handle down between the two key runs.
func (t *Tree) merge(parent *node, leftPos int) error {
	left, err := t.readNode(parent.children[leftPos])
	if err != nil {
		return err
	}
	right, err := t.readNode(parent.children[leftPos+1])
	if err != nil {
		return err
	}
	sep := parent.keys[leftPos]

	combined := left.size() + right.size()
	if !left.leaf {
		combined++
	}
	if combined > maxKeys {
		return fmt.Errorf("%w: merge would overflow (%d keys)", ErrInvariant, combined)
	}

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
	} else {
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	left.highKey = right.highKey
	left.sibling = right.sibling
	left.dirty = true
	if err := t.writeNode(left); err != nil {
		return err
	}
	if !left.leaf {
		if err := t.reparent(right.children, left.ptr); err != nil {
			return err
		}
	}

	parent.keys = removePtrAt(parent.keys, leftPos)
	parent.children = removePtrAt(parent.children, leftPos+1)
	parent.dirty = true
	if err := t.writeNode(parent); err != nil {
		return err
	}

	if left.leaf {
		if err := t.freeKey(sep); err != nil {
			return err
		}
	}
	return t.freeNode(right)
}

// moveFromLeft borrows the rightmost key of the richer left sibling into
// the underflowing node at parent.children[leftPos+1], rotating the
// separator at leftPos.
func (t *Tree) moveFromLeft(parent *node, leftPos int) error {
	left, err := t.readNode(parent.children[leftPos])
	if err != nil {
		return err
	}
	right, err := t.readNode(parent.children[leftPos+1])
	if err != nil {
		return err
	}
	if left.size() <= minKeys {
		return fmt.Errorf("%w: borrow from minimal sibling", ErrInvariant)
	}
	oldSep := parent.keys[leftPos]
	last := left.size() - 1

	var newSep store.Ptr
	if left.leaf {
		right.keys = insertPtrAt(right.keys, 0, left.keys[last])
		right.vals = insertPtrAt(right.vals, 0, left.vals[last])
		left.keys = left.keys[:last]
		left.vals = left.vals[:last]

		// New boundary is the left leaf's remaining largest key.
		sepKey, err := t.readKey(left.keys[last-1])
		if err != nil {
			return err
		}
		if newSep, err = t.allocKey(sepKey); err != nil {
			return err
		}
		left.highKey = cloneBytes(sepKey)
	} else {
		// The separator drops into the right node; the left node's last
		// key rises to replace it.
		moved := left.children[left.size()]
		right.keys = insertPtrAt(right.keys, 0, oldSep)
		right.children = insertPtrAt(right.children, 0, moved)

		newSep = left.keys[last]
		sepKey, err := t.readKey(newSep)
		if err != nil {
			return err
		}
		left.keys = left.keys[:last]
		left.children = left.children[:last+1]
		left.highKey = cloneBytes(sepKey)

		if err := t.reparent(right.children[:1], right.ptr); err != nil {
			return err
		}
	}
	left.dirty = true
	right.dirty = true

	// Gain before loss: the moved key exists in both halves until the
	// left write lands, never in neither.
	if err := t.writeNode(right); err != nil {
		return err
	}
	if err := t.writeNode(left); err != nil {
		return err
	}

	parent.keys[leftPos] = newSep
	parent.dirty = true
	if err := t.writeNode(parent); err != nil {
		return err
	}
	if left.leaf {
		return t.freeKey(oldSep)
	}
	return nil
}

// moveFromRight borrows the leftmost key of the richer right sibling into
// the underflowing node at parent.children[leftPos].
func (t *Tree) moveFromRight(parent *node, leftPos int) error {
	left, err := t.readNode(parent.children[leftPos])
	if err != nil {
		return err
	}
	right, err := t.readNode(parent.children[leftPos+1])
	if err != nil {
		return err
	}
	if right.size() <= minKeys {
		return fmt.Errorf("%w: borrow from minimal sibling", ErrInvariant)
	}
	oldSep := parent.keys[leftPos]

	var newSep store.Ptr
	if left.leaf {
		moved := right.keys[0]
		left.keys = append(left.keys, moved)
		left.vals = append(left.vals, right.vals[0])
		right.keys = removePtrAt(right.keys, 0)
		right.vals = removePtrAt(right.vals, 0)

		sepKey, err := t.readKey(moved)
		if err != nil {
			return err
		}
		if newSep, err = t.allocKey(sepKey); err != nil {
			return err
		}
		left.highKey = cloneBytes(sepKey)
	} else {
		moved := right.children[0]
		left.keys = append(left.keys, oldSep)
		left.children = append(left.children, moved)

		newSep = right.keys[0]
		sepKey, err := t.readKey(newSep)
		if err != nil {
			return err
		}
		right.keys = removePtrAt(right.keys, 0)
		right.children = removePtrAt(right.children, 0)
		left.highKey = cloneBytes(sepKey)

		if err := t.reparent(left.children[left.size():], left.ptr); err != nil {
			return err
		}
	}
	left.dirty = true
	right.dirty = true

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	parent.keys[leftPos] = newSep
	parent.dirty = true
	if err := t.writeNode(parent); err != nil {
		return err
	}
	if left.leaf {
		return t.freeKey(oldSep)
	}
	return nil
}

// reparent rewrites the parent back-reference of each child.
func (t *Tree) reparent(children []store.Ptr, to store.Ptr) error {
	for _, p := range children {
		c, err := t.readNode(p)
		if err != nil {
			return err
		}
		if c.parent != to {
			c.parent = to
			c.dirty = true
			if err := t.writeNode(c); err != nil {
				return err
			}
		}
	}
	return nil
}
