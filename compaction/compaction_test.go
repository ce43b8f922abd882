package compaction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
)

const fragTx fragment.FragmentID = 2

func putBlock(t *testing.T, ctx context.Context, store objectstore.Store, clog *chain.Log, number uint64, txValues []uint32) {
	t.Helper()

	b := fragment.NewBitmapIndexBuilder()
	var records [][]byte
	for pos, v := range txValues {
		records = append(records, []byte{byte(v)})
		b.Insert(fragment.Uint32Value(v), uint32(pos))
	}
	idx, err := b.Build()
	require.NoError(t, err)

	indexes := fragment.NewIndexGroup()
	indexes.Add(fragTx, 0, idx)

	block := &fragment.Block{
		Header: fragment.HeaderFragment{Data: []byte{byte(number)}},
		Body: []fragment.BodyFragment{
			{ID: fragTx, Name: "transaction", Data: records},
		},
		Indexes: indexes,
	}
	data := fragment.MarshalBlock(block)
	hash := []byte{byte(number + 1)}

	_, err = store.Put(ctx, objectstore.BlockKey(number, hexOf(hash)), data, objectstore.PutOptions{IfNoneMatch: "*"})
	require.NoError(t, err)

	var parent []byte
	if number > 0 {
		parent = []byte{byte(number)}
	}
	_, err = clog.Append(ctx, chain.Entry{Number: number, Hash: hash, ParentHash: parent, Status: chain.Finalized}, "")
	require.NoError(t, err)
}

func hexOf(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func TestCompactorBuildsSegmentAndPrunesBlocks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	for n := uint64(0); n < 4; n++ {
		putBlock(t, ctx, store, clog, n, []uint32{1, 2})
	}
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(t, 3)))

	fragments := []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
	c := compaction.New(compaction.Config{SegmentSize: 4, GroupSize: 1}, store, kvClient, clog, fragments, nil)

	didWork, err := c.Tick(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	_, err = store.Get(ctx, objectstore.BlockKey(0, hexOf([]byte{1})), objectstore.GetOptions{})
	require.Error(t, err, "single-block blob should have been pruned after segmenting")

	segObj, err := store.Get(ctx, objectstore.SegmentFragmentKey(0, "transaction"), objectstore.GetOptions{})
	require.NoError(t, err)
	segView, err := fragment.OpenSegmentFragment(segObj.Data)
	require.NoError(t, err)
	require.Equal(t, 4, segView.BlockCount())

	indexObj, err := store.Get(ctx, objectstore.SegmentFragmentKey(0, fragment.IndexFragmentName), objectstore.GetOptions{})
	require.NoError(t, err)
	segIndex, err := fragment.OpenSegmentIndex(indexObj.Data)
	require.NoError(t, err)
	bm, err := segIndex.Indexes.Get(fragTx, 0).Get(fragment.Uint32Value(1))
	require.NoError(t, err)
	require.Equal(t, uint64(4), bm.GetCardinality())

	groupObj, err := store.Get(ctx, objectstore.GroupKey(0), objectstore.GetOptions{})
	require.NoError(t, err)
	group, err := fragment.OpenGroup(groupObj.Data)
	require.NoError(t, err)
	require.Equal(t, cursor.New(0, []byte{1}).Number, group.FirstBlock().Number)

	blockLevel := group.Index(fragTx, 0)
	require.NotNil(t, blockLevel)
	blockBM, err := blockLevel.Get(fragment.Uint32Value(1))
	require.NoError(t, err)
	require.Equal(t, uint64(4), blockBM.GetCardinality())
}

func encodeUint64(t *testing.T, v uint64) []byte {
	t.Helper()
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
