package blinkmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorEmptyTree(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	c := tree.Cursor()
	assert.False(t, c.Valid())
	require.NoError(t, c.First())
	assert.False(t, c.Valid())
	require.NoError(t, c.Seek([]byte("anything")))
	assert.False(t, c.Valid())
}

func TestCursorFullScan(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 2000 // spans many leaves
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	c := tree.Cursor()
	require.NoError(t, c.First())
	for i := 0; i < n; i++ {
		require.True(t, c.Valid(), "entry %d", i)
		assert.Equal(t, key(i), c.Key())
		assert.Equal(t, val(i), c.Value())
		require.NoError(t, c.Next())
	}
	assert.False(t, c.Valid(), "exhausted past the last entry")
}

func TestCursorValuesWithinKey(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	require.NoError(t, tree.Insert([]byte("a"), []byte("only")))
	k := []byte("dup")
	for _, v := range []string{"2", "1", "3", "2"} {
		require.NoError(t, tree.Insert(k, []byte(v)))
	}
	require.NoError(t, tree.Insert([]byte("z"), []byte("last")))

	c := tree.Cursor()
	require.NoError(t, c.Seek(k))

	want := []string{"1", "2", "2", "3"}
	for _, v := range want {
		require.True(t, c.Valid())
		assert.Equal(t, k, c.Key())
		assert.Equal(t, []byte(v), c.Value())
		require.NoError(t, c.Next())
	}

	// After the chain, the next key.
	require.True(t, c.Valid())
	assert.Equal(t, []byte("z"), c.Key())
	assert.Equal(t, []byte("last"), c.Value())
}

func TestCursorSeek(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	for _, k := range []string{"b", "d", "f"} {
		require.NoError(t, tree.Insert([]byte(k), []byte("v-"+k)))
	}

	c := tree.Cursor()

	// Exact match.
	require.NoError(t, c.Seek([]byte("d")))
	require.True(t, c.Valid())
	assert.Equal(t, []byte("d"), c.Key())

	// Between keys lands on the successor.
	require.NoError(t, c.Seek([]byte("c")))
	require.True(t, c.Valid())
	assert.Equal(t, []byte("d"), c.Key())

	// Past the maximum invalidates.
	require.NoError(t, c.Seek([]byte("g")))
	assert.False(t, c.Valid())
}

func TestCursorSeekAfter(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	for _, k := range []string{"b", "d", "f"} {
		require.NoError(t, tree.Insert([]byte(k), []byte("1")))
	}
	require.NoError(t, tree.Insert([]byte("d"), []byte("2")))

	c := tree.Cursor()

	// Skips every value of the matched key.
	require.NoError(t, c.SeekAfter([]byte("d")))
	require.True(t, c.Valid())
	assert.Equal(t, []byte("f"), c.Key())

	require.NoError(t, c.SeekAfter([]byte("a")))
	require.True(t, c.Valid())
	assert.Equal(t, []byte("b"), c.Key())

	require.NoError(t, c.SeekAfter([]byte("f")))
	assert.False(t, c.Valid())
}

func TestCursorSeekAcrossLeaves(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	// A seek landing past a leaf's last key continues in its sibling.
	c := tree.Cursor()
	for i := 0; i < n-1; i += 37 {
		require.NoError(t, c.SeekAfter(key(i)))
		require.True(t, c.Valid(), "after key %d", i)
		assert.Equal(t, key(i+1), c.Key())
	}
}

func TestCursorNextPastEnd(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)

	require.NoError(t, tree.Insert([]byte("k"), []byte("v")))

	c := tree.Cursor()
	require.NoError(t, c.First())
	require.NoError(t, c.Next())
	assert.False(t, c.Valid())
	assert.ErrorIs(t, c.Next(), ErrNotFound)
}

func TestCursorClosedTree(t *testing.T) {
	t.Parallel()
	tree, _ := setup(t)
	c := tree.Cursor()
	require.NoError(t, tree.Close())

	assert.ErrorIs(t, c.First(), ErrTreeClosed)
	assert.ErrorIs(t, c.Seek([]byte("k")), ErrTreeClosed)
}
