package blinkmap

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkTree walks the whole structure and asserts the balance and ordering
// invariants: node sizes within bounds (root exempt from the minimum), keys
// strictly increasing, parent separators equal to child high keys, the last
// key never above the node's high key, and the leaf chain sorted end to end.
func checkTree(t *testing.T, tr *Tree) {
	t.Helper()
	root, err := tr.readNode(tr.root)
	require.NoError(t, err)
	assert.Zero(t, root.parent, "root has no parent")

	checkNode(t, tr, root, true)

	// Leaf chain: every key strictly greater than the one before.
	leaf, err := tr.leftmostLeaf()
	require.NoError(t, err)
	var prev []byte
	count := 0
	for {
		for _, kp := range leaf.keys {
			k, err := tr.readKey(kp)
			require.NoError(t, err)
			if prev != nil {
				assert.Negative(t, bytes.Compare(prev, k), "leaf chain out of order")
			}
			prev = k
			count++
		}
		if leaf.sibling == 0 {
			break
		}
		leaf, err = tr.readNode(leaf.sibling)
		require.NoError(t, err)
	}
	assert.Equal(t, tr.keyCount, count, "key count vs leaf chain")
}

func checkNode(t *testing.T, tr *Tree, n *node, isRoot bool) {
	t.Helper()

	require.LessOrEqual(t, n.size(), maxKeys)
	if !isRoot {
		require.GreaterOrEqual(t, n.size(), minKeys, "non-root node underflow")
	}
	if !n.leaf {
		require.Len(t, n.children, n.size()+1)
	} else {
		require.Len(t, n.vals, n.size())
	}

	var prev []byte
	for _, kp := range n.keys {
		k, err := tr.readKey(kp)
		require.NoError(t, err)
		if prev != nil {
			require.Negative(t, bytes.Compare(prev, k), "node keys out of order")
		}
		prev = k
	}
	if prev != nil {
		require.LessOrEqual(t, bytes.Compare(prev, n.highKey), 0,
			"largest key above the node's high key")
	}

	if n.leaf {
		return
	}
	for i, cp := range n.children {
		c, err := tr.readNode(cp)
		require.NoError(t, err)
		require.Equal(t, n.ptr, c.parent, "child parent back-reference")
		if i < n.size() {
			sep, err := tr.readKey(n.keys[i])
			require.NoError(t, err)
			require.True(t, bytes.Equal(c.highKey, sep),
				"child high key must equal its parent separator")
			require.Equal(t, n.children[i+1], c.sibling,
				"sibling must point at the next child")
		} else {
			require.True(t, bytes.Equal(c.highKey, n.highKey),
				"last child shares the parent's high key")
		}
		checkNode(t, tr, c, false)
	}
}

// treeHeight counts levels from the root down the first-child spine.
func treeHeight(t *testing.T, tr *Tree) int {
	t.Helper()
	n, err := tr.readNode(tr.root)
	require.NoError(t, err)
	h := 1
	for !n.leaf {
		n, err = tr.readNode(n.children[0])
		require.NoError(t, err)
		h++
	}
	return h
}

func TestSplitInvariants(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	// Exactly one leaf split.
	for i := 0; i <= maxKeys; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.Equal(t, 2, treeHeight(t, tree))
	checkTree(t, tree)

	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	require.Equal(t, 1, root.size())

	left, err := tree.readNode(root.children[0])
	require.NoError(t, err)
	right, err := tree.readNode(root.children[1])
	require.NoError(t, err)

	// Left half keeps ceil((Degree-1)/2) keys; separator bounds it exactly.
	assert.Equal(t, Degree/2, left.size())
	assert.Equal(t, maxKeys+1-Degree/2, right.size())
	sep, err := tree.readKey(root.keys[0])
	require.NoError(t, err)
	lastLeft, err := tree.readKey(left.keys[left.size()-1])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(sep, lastLeft), "separator is the left half's largest key")
	assert.Equal(t, right.ptr, left.sibling)
}

func TestSplitCascadeGrowsLevels(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 5000 // forces internal splits at degree 64
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.GreaterOrEqual(t, treeHeight(t, tree), 3)
	checkTree(t, tree)
}

func TestBorrowFromLeft(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	// Two leaves of Degree/2 keys each; drain the right one until it
	// underflows against a richer left sibling.
	for i := 0; i <= maxKeys; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.NoError(t, tree.EraseAll(key(maxKeys)))
	require.NoError(t, tree.EraseAll(key(maxKeys-1)))

	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	require.Equal(t, 1, root.size())
	left, err := tree.readNode(root.children[0])
	require.NoError(t, err)
	right, err := tree.readNode(root.children[1])
	require.NoError(t, err)

	// Exactly one key moved: both leaves sit at the minimum.
	assert.Equal(t, minKeys, left.size())
	assert.Equal(t, minKeys, right.size())

	// The separator follows the left leaf's new largest key.
	sep, err := tree.readKey(root.keys[0])
	require.NoError(t, err)
	lastLeft, err := tree.readKey(left.keys[left.size()-1])
	require.NoError(t, err)
	assert.Equal(t, lastLeft, sep)
	assert.Equal(t, lastLeft, left.highKey)
	checkTree(t, tree)
}

func TestBorrowFromRight(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	// Drain the left leaf instead; its only sibling is to the right.
	for i := 0; i <= maxKeys; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.NoError(t, tree.EraseAll(key(0)))
	require.NoError(t, tree.EraseAll(key(1)))

	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	require.Equal(t, 1, root.size())
	left, err := tree.readNode(root.children[0])
	require.NoError(t, err)
	right, err := tree.readNode(root.children[1])
	require.NoError(t, err)

	assert.Equal(t, minKeys, left.size())
	assert.Equal(t, minKeys, right.size())

	// The right leaf's old smallest key is now the left leaf's largest
	// and the separator.
	sep, err := tree.readKey(root.keys[0])
	require.NoError(t, err)
	lastLeft, err := tree.readKey(left.keys[left.size()-1])
	require.NoError(t, err)
	assert.Equal(t, key(Degree/2), lastLeft)
	assert.Equal(t, lastLeft, sep)
	checkTree(t, tree)
}

func TestLeafMergeCollapsesRoot(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	for i := 0; i <= maxKeys; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	// Two erases leave both leaves minimal (one borrow on the way); the
	// third forces the merge and drops the root level.
	for i := 0; i < 3; i++ {
		require.NoError(t, tree.EraseAll(key(maxKeys-i)))
	}

	require.Equal(t, 1, treeHeight(t, tree))
	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	assert.Equal(t, maxKeys-2, root.size(), "merged leaf holds both halves")
	assert.Zero(t, root.sibling)
	checkTree(t, tree)
}

func TestEraseRebalances(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 3000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	// Erase a random two thirds; borrows and merges must keep every
	// remaining node within bounds.
	rng := rand.New(rand.NewSource(7))
	perm := rng.Perm(n)
	erased := make(map[int]bool, n)
	for _, i := range perm[:2*n/3] {
		require.NoError(t, tree.Erase(key(i), val(i)))
		erased[i] = true
	}
	checkTree(t, tree)

	for i := 0; i < n; i++ {
		vals, err := tree.Find(key(i))
		require.NoError(t, err)
		if erased[i] {
			require.Nil(t, vals)
		} else {
			require.Equal(t, [][]byte{val(i)}, vals)
		}
	}
}

func TestEraseToEmpty(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 2000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.GreaterOrEqual(t, treeHeight(t, tree), 3)

	rng := rand.New(rand.NewSource(9))
	for _, i := range rng.Perm(n) {
		require.NoError(t, tree.EraseAll(key(i)))
	}

	// The tree collapses back to a single empty leaf root.
	assert.Equal(t, 0, tree.Len())
	assert.Equal(t, 1, treeHeight(t, tree))
	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	assert.Zero(t, root.size())

	// And it is still usable.
	require.NoError(t, tree.Insert([]byte("again"), []byte("v")))
	vals, err := tree.Find([]byte("again"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v")}, vals)
}

func TestRootCollapse(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	for i := 0; i <= maxKeys; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.Equal(t, 2, treeHeight(t, tree))

	// Shrinking below one node's worth merges the halves and drops the
	// root level.
	for i := 0; i <= maxKeys; i++ {
		if tree.Len() <= minKeys {
			break
		}
		require.NoError(t, tree.EraseAll(key(i)))
	}
	assert.Equal(t, 1, treeHeight(t, tree))
	checkTree(t, tree)
}

func TestMixedChurn(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	rng := rand.New(rand.NewSource(123))
	live := make(map[int]bool)
	for op := 0; op < 10000; op++ {
		i := rng.Intn(800)
		if live[i] && rng.Intn(3) == 0 {
			require.NoError(t, tree.EraseAll(key(i)))
			delete(live, i)
		} else if !live[i] {
			require.NoError(t, tree.Insert(key(i), val(i)))
			live[i] = true
		}
	}
	require.Equal(t, len(live), tree.Len())
	checkTree(t, tree)
}

func TestFreedSlotsReused(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	allocated := tree.Stats().NodeSlots

	for i := 0; i < n; i++ {
		require.NoError(t, tree.EraseAll(key(i)))
	}
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	// Rebuilding the same tree should recycle freed index slots rather
	// than growing the file much further.
	assert.LessOrEqual(t, tree.Stats().NodeSlots, allocated+allocated/2)
	checkTree(t, tree)
}
