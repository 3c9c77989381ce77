package blinkmap

import (
	"blinkmap/internal/store"
)

// Cursor iterates key/value entries in ascending key order, values within a
// key in chain order. A cursor holds no locks between calls; each step
// re-reads its leaf by handle, so a cursor survives concurrent splits (the
// leaf's keys only ever move right, where the sibling walk finds them) but
// positions are not guaranteed stable across erases.
type Cursor struct {
	t     *Tree
	leaf  store.Ptr
	idx   int
	vhead store.Ptr
	key   []byte
	value []byte
	valid bool
}

// Cursor returns an unpositioned cursor. Call First, Seek, or SeekAfter
// before Key or Value.
func (t *Tree) Cursor() *Cursor {
	return &Cursor{t: t}
}

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current key. Valid only while Valid reports true.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the current value.
func (c *Cursor) Value() []byte { return c.value }

// First positions the cursor on the smallest key's first value.
func (c *Cursor) First() error {
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()

	if !c.t.open {
		return ErrTreeClosed
	}
	c.invalidate()
	if c.t.root == 0 {
		return nil
	}
	leaf, err := c.t.leftmostLeaf()
	if err != nil {
		return err
	}
	return c.settle(leaf, 0)
}

// Seek positions the cursor on the first key >= key.
func (c *Cursor) Seek(key []byte) error {
	return c.seek(key, false)
}

// SeekAfter positions the cursor on the first key > key, skipping every
// value of an exact match.
func (c *Cursor) SeekAfter(key []byte) error {
	return c.seek(key, true)
}

func (c *Cursor) seek(key []byte, strict bool) error {
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()

	if !c.t.open {
		return ErrTreeClosed
	}
	if err := c.t.checkKey(key); err != nil {
		return err
	}
	c.invalidate()

	var (
		route []routeStep
		err   error
	)
	if strict {
		route, err = c.t.upperBoundRoute(key)
	} else {
		route, err = c.t.lowerBoundRoute(key)
	}
	if err != nil {
		return err
	}
	if len(route) == 0 {
		return nil
	}
	step := route[len(route)-1]
	if step.idx >= step.n.size() {
		// Past the leaf's last key: the successor, if any, lives in the
		// right sibling.
		return c.advanceLeaf(step.n)
	}
	return c.settle(step.n, step.idx)
}

// Next advances to the next value of the current key, or to the next key's
// first value. The cursor becomes invalid past the last entry.
func (c *Cursor) Next() error {
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()

	if !c.t.open {
		return ErrTreeClosed
	}
	if !c.valid {
		return ErrNotFound
	}

	if c.vhead != 0 {
		v, err := c.t.vals.Read(c.vhead)
		if err != nil {
			return err
		}
		if v.next != 0 {
			return c.loadValue(v.next)
		}
	}

	leaf, err := c.t.readNode(c.leaf)
	if err != nil {
		return err
	}
	if c.idx+1 < leaf.size() {
		return c.settle(leaf, c.idx+1)
	}
	c.invalidate()
	return c.advanceLeaf(leaf)
}

// advanceLeaf settles on the first key of the nearest non-empty leaf to the
// right, or invalidates at the end of the tree.
func (c *Cursor) advanceLeaf(leaf *node) error {
	for p := leaf.sibling; p != 0; {
		n, err := c.t.readNode(p)
		if err != nil {
			return err
		}
		if n.size() > 0 {
			return c.settle(n, 0)
		}
		p = n.sibling
	}
	c.invalidate()
	return nil
}

// settle points the cursor at leaf slot idx and loads the first value of
// its chain.
func (c *Cursor) settle(leaf *node, idx int) error {
	if idx >= leaf.size() {
		return c.advanceLeaf(leaf)
	}
	key, err := c.t.readKey(leaf.keys[idx])
	if err != nil {
		return err
	}
	c.leaf = leaf.ptr
	c.idx = idx
	c.key = key
	return c.loadValue(leaf.vals[idx])
}

func (c *Cursor) loadValue(p store.Ptr) error {
	v, err := c.t.vals.Read(p)
	if err != nil {
		return err
	}
	c.vhead = p
	c.value = v.value
	c.valid = true
	return nil
}

func (c *Cursor) invalidate() {
	c.leaf = 0
	c.idx = 0
	c.vhead = 0
	c.key = nil
	c.value = nil
	c.valid = false
}
