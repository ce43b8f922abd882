package scanner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
	"github.com/prysmaticlabs/dna/scanner"
)

const (
	fragTx  fragment.FragmentID = 2
	fragLog fragment.FragmentID = 3
)

// putBlockWithJoin writes a block with one transaction and one log
// record, the log joining to-one to the transaction at the same
// position, so a segment built from several of these blocks exercises
// cross-block join re-keying the same way logs join to transactions in
// chain/evm.
func putBlockWithJoin(t *testing.T, ctx context.Context, store objectstore.Store, clog *chain.Log, number uint64, txValue, logIndexKey uint32) {
	t.Helper()

	b := fragment.NewBitmapIndexBuilder()
	b.Insert(fragment.Uint32Value(logIndexKey), 0)
	idx, err := b.Build()
	require.NoError(t, err)

	indexes := fragment.NewIndexGroup()
	indexes.Add(fragLog, 0, idx)

	jb := fragment.NewJoinToOneBuilder(fragTx)
	jb.InsertOne(0, 0)
	join, err := jb.Build()
	require.NoError(t, err)

	block := &fragment.Block{
		Header: fragment.HeaderFragment{Data: []byte{byte(number)}},
		Body: []fragment.BodyFragment{
			{ID: fragTx, Name: "transaction", Data: [][]byte{{byte(txValue)}}},
			{ID: fragLog, Name: "log", Data: [][]byte{{byte(logIndexKey)}}},
		},
		Indexes: indexes,
		Joins:   []fragment.FragmentJoins{{FragmentID: fragLog, Joins: map[fragment.FragmentID]*fragment.Join{fragTx: join}}},
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

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func TestScanSegmentFindsMatchingRecordsOnly(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	putBlock(t, ctx, store, clog, 0, []uint32{1, 2})
	putBlock(t, ctx, store, clog, 1, []uint32{3})
	putBlock(t, ctx, store, clog, 2, []uint32{1})
	putBlock(t, ctx, store, clog, 3, []uint32{4})
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(3)))

	fragments := []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
	c := compaction.New(compaction.Config{SegmentSize: 4, GroupSize: 1}, store, kvClient, clog, fragments, nil)
	didWork, err := c.Tick(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	sc := scanner.New(store, 4, fragments, nil)

	bf := filter.BlockFilter{
		Filters: map[fragment.FragmentID][]filter.Filter{
			fragTx: {{FilterID: 7, FragmentID: fragTx, Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}}}},
		},
	}

	results, err := sc.ScanSegment(ctx, 0, nil, bf)
	require.NoError(t, err)

	var matchedBlocks []uint64
	for _, r := range results {
		if len(r.Records) > 0 {
			matchedBlocks = append(matchedBlocks, r.Cursor.Number)
		}
	}
	require.ElementsMatch(t, []uint64{0, 2}, matchedBlocks)
}

func TestScanSegmentDereferencesJoinsAcrossSegment(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	for n := uint64(0); n < 4; n++ {
		putBlockWithJoin(t, ctx, store, clog, n, uint32(100+n), 1)
	}
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(3)))

	fragments := []fragment.FragmentInfo{
		{ID: fragTx, Name: "transaction"},
		{ID: fragLog, Name: "log"},
	}
	c := compaction.New(compaction.Config{SegmentSize: 4, GroupSize: 1}, store, kvClient, clog, fragments, nil)
	didWork, err := c.Tick(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	sc := scanner.New(store, 4, fragments, nil)
	bf := filter.BlockFilter{
		Filters: map[fragment.FragmentID][]filter.Filter{
			fragLog: {{
				FilterID:   1,
				FragmentID: fragLog,
				Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}},
				Joins:      []fragment.FragmentID{fragTx},
			}},
		},
	}

	results, err := sc.ScanSegment(ctx, 0, nil, bf)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for n, r := range results {
		var sawLog, sawJoinedTx bool
		for _, rec := range r.Records {
			switch rec.FragmentID {
			case fragLog:
				sawLog = true
			case fragTx:
				sawJoinedTx = true
				require.Equal(t, []byte{byte(100 + n)}, rec.Data, "joined transaction record should belong to the same block as the matched log")
			}
		}
		require.True(t, sawLog, "block %d: expected the matching log record itself", n)
		require.True(t, sawJoinedTx, "block %d: expected the joined transaction record to survive segment compaction", n)
	}
}

func TestPruneGroupKeepsOnlyCandidateBlocks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	putBlock(t, ctx, store, clog, 0, []uint32{1})
	putBlock(t, ctx, store, clog, 1, []uint32{3})
	putBlock(t, ctx, store, clog, 2, []uint32{3})
	putBlock(t, ctx, store, clog, 3, []uint32{3})
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(3)))

	fragments := []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
	c := compaction.New(compaction.Config{SegmentSize: 4, GroupSize: 1}, store, kvClient, clog, fragments, nil)
	didWork, err := c.Tick(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	sc := scanner.New(store, 4, fragments, nil)
	bf := filter.BlockFilter{
		Filters: map[fragment.FragmentID][]filter.Filter{
			fragTx: {{FilterID: 1, FragmentID: fragTx, Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}}}},
		},
	}

	surviving, err := sc.PruneGroup(ctx, 0, bf)
	require.NoError(t, err)
	require.Equal(t, uint64(1), surviving.GetCardinality())
	require.True(t, surviving.Contains(0))
}
