package blinkmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bs(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestVlistInsertSorted(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	var head, err = tree.vlistInsert(0, []byte("m"))
	require.NoError(t, err)
	for _, v := range []string{"z", "a", "m", "b"} {
		head, err = tree.vlistInsert(head, []byte(v))
		require.NoError(t, err)
	}

	got, err := tree.vlistCollect(head)
	require.NoError(t, err)
	require.Equal(t, bs("a", "b", "m", "m", "z"), got)
}

func TestVlistInsertAfterEquals(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	// An equal value chains behind the existing one.
	head, err := tree.vlistInsert(0, []byte("x"))
	require.NoError(t, err)
	first := head
	head, err = tree.vlistInsert(head, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, first, head, "equal value never displaces the head")

	got, err := tree.vlistCollect(head)
	require.NoError(t, err)
	require.Equal(t, bs("x", "x"), got)
}

func TestVlistRemove(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	head, err := tree.vlistInsert(0, []byte("b"))
	require.NoError(t, err)
	for _, v := range []string{"a", "c"} {
		head, err = tree.vlistInsert(head, []byte(v))
		require.NoError(t, err)
	}

	// Middle link.
	newHead, freed, err := tree.vlistRemove(head, []byte("b"))
	require.NoError(t, err)
	require.NotZero(t, freed)
	assert.Equal(t, head, newHead)
	require.NoError(t, tree.vals.Free(freed))

	got, err := tree.vlistCollect(newHead)
	require.NoError(t, err)
	require.Equal(t, bs("a", "c"), got)

	// Head link changes the head.
	head = newHead
	newHead, freed, err = tree.vlistRemove(head, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, head, freed)
	require.NotEqual(t, head, newHead)
	require.NoError(t, tree.vals.Free(freed))

	// Absent value touches nothing and frees nothing.
	got, err = tree.vlistCollect(newHead)
	require.NoError(t, err)
	require.Equal(t, bs("c"), got)
	sameHead, freed, err := tree.vlistRemove(newHead, []byte("z"))
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.Equal(t, newHead, sameHead)

	// Last link empties the chain.
	newHead, freed, err = tree.vlistRemove(newHead, []byte("c"))
	require.NoError(t, err)
	require.NotZero(t, freed)
	assert.Zero(t, newHead)
	require.NoError(t, tree.vals.Free(freed))
}

func TestVlistRemoveOneDuplicate(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	head, err := tree.vlistInsert(0, []byte("x"))
	require.NoError(t, err)
	head, err = tree.vlistInsert(head, []byte("x"))
	require.NoError(t, err)

	newHead, freed, err := tree.vlistRemove(head, []byte("x"))
	require.NoError(t, err)
	require.NotZero(t, freed)
	require.NoError(t, tree.vals.Free(freed))

	got, err := tree.vlistCollect(newHead)
	require.NoError(t, err)
	require.Equal(t, bs("x"), got, "one copy removed, one kept")
}

func TestVlistFree(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	head, err := tree.vlistInsert(0, []byte("a"))
	require.NoError(t, err)
	for _, v := range []string{"b", "c", "d"} {
		head, err = tree.vlistInsert(head, []byte(v))
		require.NoError(t, err)
	}
	before := tree.vals.Allocated()
	require.NoError(t, tree.vlistFree(head))

	// Freed links come back before the file grows.
	for i := uint64(0); i < 4; i++ {
		p, err := tree.vals.Allocate()
		require.NoError(t, err)
		require.LessOrEqual(t, uint64(p), before)
	}
	assert.Equal(t, before, tree.vals.Allocated())
}
