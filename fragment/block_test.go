package fragment

import (
	"testing"

	"github.com/prysmaticlabs/dna/cursor"
	"github.com/stretchr/testify/require"
)

func buildTestIndexGroup(t *testing.T) *IndexGroup {
	t.Helper()
	b := NewBitmapIndexBuilder()
	b.Insert(Uint8Value(1), 0)
	idx, err := b.Build()
	require.NoError(t, err)
	g := NewIndexGroup()
	g.Add(2, 1, idx)
	return g
}

func TestBlockMarshalUnmarshalRoundTrip(t *testing.T) {
	joinBuilder := NewJoinToOneBuilder(3)
	joinBuilder.InsertOne(0, 0)
	join, err := joinBuilder.Build()
	require.NoError(t, err)

	blk := &Block{
		Header: HeaderFragment{Data: []byte("header-bytes")},
		Body: []BodyFragment{
			{ID: 2, Name: "log", Data: [][]byte{[]byte("log0"), []byte("log1")}},
			{ID: 3, Name: "receipt", Data: [][]byte{[]byte("receipt0")}},
		},
		Indexes: buildTestIndexGroup(t),
		Joins: []FragmentJoins{
			{FragmentID: 2, Joins: map[FragmentID]*Join{3: join}},
		},
	}

	raw := MarshalBlock(blk)
	view, err := OpenBlock(raw)
	require.NoError(t, err)

	require.Equal(t, blk.Header.Data, view.HeaderBytes())

	logs, err := view.Body(2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("log0"), []byte("log1")}, logs)

	receipts, err := view.Body(3)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("receipt0")}, receipts)

	indexes, err := view.Indexes()
	require.NoError(t, err)
	_, err = indexes.Get(2, 1).Get(Uint8Value(1))
	require.NoError(t, err)

	j, err := view.Join(2, 3)
	require.NoError(t, err)
	require.NotNil(t, j)
	v, ok := j.GetOne(0)
	require.True(t, ok)
	require.Equal(t, uint32(0), v)

	missingBody, err := view.Body(99)
	require.NoError(t, err)
	require.Nil(t, missingBody)
}

func TestSegmentFragmentMarshalUnmarshalRoundTrip(t *testing.T) {
	seg := &SegmentFragment{
		FirstBlock: cursor.New(100, []byte{0xaa}),
		FragmentID: 2,
		Blocks: []SegmentBlockRecords{
			{BlockNumber: 100, Records: [][]byte{[]byte("a"), []byte("b")}},
			{BlockNumber: 101, Records: nil},
			{BlockNumber: 102, Records: [][]byte{[]byte("c")}},
		},
	}
	raw := MarshalSegmentFragment(seg)
	view, err := OpenSegmentFragment(raw)
	require.NoError(t, err)

	require.Equal(t, uint64(100), view.FirstBlock().Number)
	require.Equal(t, FragmentID(2), view.FragmentID())
	require.Equal(t, 3, view.BlockCount())

	recs, err := view.RecordsAt(0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, recs)

	recs, err = view.RecordsAt(1)
	require.NoError(t, err)
	require.Empty(t, recs)

	require.Equal(t, uint64(102), view.BlockNumberAt(2))
}

func TestGroupMarshalUnmarshalRoundTrip(t *testing.T) {
	g := &Group{
		FirstBlock: cursor.New(0, nil),
		Indexes:    buildTestIndexGroup(t),
	}
	raw := MarshalGroup(g)
	view, err := OpenGroup(raw)
	require.NoError(t, err)

	require.Equal(t, uint64(0), view.FirstBlock().Number)
	idx := view.Index(2, 1)
	require.NotNil(t, idx)
	bm, err := idx.Get(Uint8Value(1))
	require.NoError(t, err)
	require.True(t, bm.Contains(0))

	require.Nil(t, view.Index(9, 9))
}
