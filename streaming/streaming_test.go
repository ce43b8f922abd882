package streaming_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
	"github.com/prysmaticlabs/dna/scanner"
	"github.com/prysmaticlabs/dna/streaming"
)

const fragTx fragment.FragmentID = 2

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
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

func drain(t *testing.T, ch <-chan streaming.Message, count int, timeout time.Duration) []streaming.Message {
	t.Helper()
	var out []streaming.Message
	deadline := time.After(timeout)
	for len(out) < count {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			if msg.Kind == streaming.KindHeartbeat {
				continue
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", count, len(out))
		}
	}
	return out
}

// TestSessionHistoricalThenTail exercises the Historical and Tail states:
// two blocks already folded into one segment, one block still only
// available as a single-block blob above the segmented pointer.
func TestSessionHistoricalThenTail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	putBlock(t, ctx, store, clog, 0, []uint32{1})
	putBlock(t, ctx, store, clog, 1, []uint32{1})
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(1)))

	fragments := []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
	comp := compaction.New(compaction.Config{SegmentSize: 2, GroupSize: 1}, store, kvClient, clog, fragments, nil)
	didWork, err := comp.Tick(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	// Block 2 sits above the segmented pointer, in the tail.
	putBlock(t, ctx, store, clog, 2, []uint32{1})
	require.NoError(t, kvClient.Put(ctx, "ingestion/ingested", encodeUint64(2)))
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(2)))

	cv := chainview.New(clog, kvClient, nil)
	go cv.Run(ctx)
	waitForHead(t, cv, 2)

	sc := scanner.New(store, 2, fragments, nil)
	sess := streaming.NewSession(streaming.Config{
		SegmentSize:       2,
		GroupSize:         1,
		HeartbeatInterval: 20 * time.Millisecond,
	}, cv, sc, store, clog)

	bf := filter.BlockFilter{
		Filters: map[fragment.FragmentID][]filter.Filter{
			fragTx: {{FilterID: 1, FragmentID: fragTx, Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}}}},
		},
	}

	out, err := sess.Start(ctx, streaming.Request{Filter: bf})
	require.NoError(t, err)

	msgs := drain(t, out, 3, 2*time.Second)
	var numbers []uint64
	for _, m := range msgs {
		require.Equal(t, streaming.KindData, m.Kind)
		numbers = append(numbers, m.Data.Cursor.Number)
	}
	require.Equal(t, []uint64{0, 1, 2}, numbers)
}

func waitForHead(t *testing.T, cv *chainview.ChainView, number uint64) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if cv.Head().Number >= number {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("chain view never reached head %d", number)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSessionResolveStartRejectsUnknownCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	putBlock(t, ctx, store, clog, 0, []uint32{1})
	require.NoError(t, kvClient.Put(ctx, "ingestion/ingested", encodeUint64(0)))
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(0)))

	cv := chainview.New(clog, kvClient, nil)
	go cv.Run(ctx)
	waitForHead(t, cv, 0)

	fragments := []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
	sc := scanner.New(store, 2, fragments, nil)
	sess := streaming.NewSession(streaming.Config{SegmentSize: 2, GroupSize: 1}, cv, sc, store, clog)

	badCursor := cursor.New(5, []byte{0xff})
	_, err = sess.Start(ctx, streaming.Request{StartingCursor: &badCursor})
	require.Error(t, err)
}
