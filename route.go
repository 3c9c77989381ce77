package blinkmap

import "bytes"

// routeStep is one level of a root-to-leaf route. At internal nodes idx is
// the child slot taken; at the leaf it is the bound position, or one of the
// idxAppend/idxNone sentinels.
type routeStep struct {
	n   *node
	idx int
}

// lowerBoundRoute routes to the leaf position of the first key >= the
// query. A leaf index of idxAppend means every key in the leaf is smaller,
// i.e. an insert belongs at the leaf end.
func (t *Tree) lowerBoundRoute(key []byte) ([]routeStep, error) {
	return t.boundRoute(key, false)
}

// upperBoundRoute routes to the leaf position of the first key > the
// query. A leaf index of idxNone means no key in the tree is greater.
func (t *Tree) upperBoundRoute(key []byte) ([]routeStep, error) {
	return t.boundRoute(key, true)
}

func (t *Tree) boundRoute(key []byte, strict bool) ([]routeStep, error) {
	if t.root == 0 {
		return nil, nil
	}

	route := make([]routeStep, 0, 8)
	p := t.root
	for {
		n, err := t.readNode(p)
		if err != nil {
			return nil, err
		}
		// The key may have been split past this node's bound: recover by
		// moving right instead of restarting from the root.
		for n.sibling != 0 && bytes.Compare(key, n.highKey) > 0 {
			if n, err = t.readNode(n.sibling); err != nil {
				return nil, err
			}
		}

		if n.leaf {
			idx, err := t.leafBound(n, key, strict)
			if err != nil {
				return nil, err
			}
			return append(route, routeStep{n: n, idx: idx}), nil
		}

		i, err := t.childIndex(n, key)
		if err != nil {
			return nil, err
		}
		route = append(route, routeStep{n: n, idx: i})
		p = n.children[i]
	}
}

// childIndex picks the unique child interval for key under the fencepost
// convention: children[i] covers (keys[i-1], keys[i]], the last child runs
// up to the node's high key.
func (t *Tree) childIndex(n *node, key []byte) (int, error) {
	for i := 0; i < n.size(); i++ {
		k, err := t.readKey(n.keys[i])
		if err != nil {
			return 0, err
		}
		if bytes.Compare(key, k) <= 0 {
			return i, nil
		}
	}
	return n.size(), nil
}

func (t *Tree) leafBound(n *node, key []byte, strict bool) (int, error) {
	for i := 0; i < n.size(); i++ {
		k, err := t.readKey(n.keys[i])
		if err != nil {
			return 0, err
		}
		cmp := bytes.Compare(k, key)
		if cmp > 0 || (!strict && cmp == 0) {
			return i, nil
		}
	}
	if strict {
		return idxNone, nil
	}
	return idxAppend, nil
}

// flushRoute writes any nodes still dirty after a mutation, leaf first so
// a child is always durable before the ancestor that references it.
func (t *Tree) flushRoute(route []routeStep) error {
	for i := len(route) - 1; i >= 0; i-- {
		if route[i].n.dirty {
			if err := t.writeNode(route[i].n); err != nil {
				return err
			}
		}
	}
	return nil
}

// leftmostLeaf descends first children from the root.
func (t *Tree) leftmostLeaf() (*node, error) {
	n, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}
	for !n.leaf {
		if n, err = t.readNode(n.children[0]); err != nil {
			return nil, err
		}
	}
	return n, nil
}
