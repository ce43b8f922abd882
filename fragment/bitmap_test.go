package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapIndexBuilderRoundTrip(t *testing.T) {
	b := NewBitmapIndexBuilder()
	key := Uint32Value(42)
	b.Insert(key, 1)
	b.Insert(key, 5)
	b.Insert(key, 9)

	idx, err := b.Build()
	require.NoError(t, err)

	bm, err := idx.Get(key)
	require.NoError(t, err)
	require.NotNil(t, bm)
	require.True(t, bm.Contains(1))
	require.True(t, bm.Contains(5))
	require.True(t, bm.Contains(9))
	require.False(t, bm.Contains(2))

	missing, err := idx.Get(Uint32Value(7))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestIndexShiftRekeysPositions(t *testing.T) {
	b := NewBitmapIndexBuilder()
	key := Uint8Value(1)
	b.Insert(key, 0)
	b.Insert(key, 3)
	idx, err := b.Build()
	require.NoError(t, err)

	shifted, err := idx.Shift(100)
	require.NoError(t, err)

	bm, err := shifted.Get(key)
	require.NoError(t, err)
	require.True(t, bm.Contains(100))
	require.True(t, bm.Contains(103))
	require.False(t, bm.Contains(0))
}

func TestIndexUnionMergesBitmapsForSharedKeys(t *testing.T) {
	b1 := NewBitmapIndexBuilder()
	key := Uint8Value(9)
	b1.Insert(key, 1)
	idx1, err := b1.Build()
	require.NoError(t, err)

	b2 := NewBitmapIndexBuilder()
	b2.Insert(key, 2)
	idx2, err := b2.Build()
	require.NoError(t, err)

	merged, err := idx1.Union(idx2)
	require.NoError(t, err)

	bm, err := merged.Get(key)
	require.NoError(t, err)
	require.True(t, bm.Contains(1))
	require.True(t, bm.Contains(2))
}

func TestIndexGroupGetIsolatesRequestedIndex(t *testing.T) {
	b := NewBitmapIndexBuilder()
	b.Insert(Uint8Value(1), 1)
	idx, err := b.Build()
	require.NoError(t, err)

	g := NewIndexGroup()
	g.Add(2 /* fragment */, 3 /* index */, idx)

	require.NotNil(t, g.Get(2, 3))
	require.Nil(t, g.Get(2, 4))
	require.Nil(t, g.Get(5, 3))
}
