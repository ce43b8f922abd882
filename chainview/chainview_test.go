package chainview_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/ingestion"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
)

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func appendEntry(t *testing.T, ctx context.Context, clog *chain.Log, number uint64, hash byte, status chain.Status) {
	t.Helper()
	var parent []byte
	if number > 0 {
		parent = []byte{hash - 1}
	}
	_, err := clog.Append(ctx, chain.Entry{Number: number, Hash: []byte{hash}, ParentHash: parent, Status: status}, "")
	require.NoError(t, err)
}

func TestChainViewTracksHeadAndFinalized(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	for n := uint64(0); n < 2; n++ {
		appendEntry(t, ctx, clog, n, byte(n+1), chain.Accepted)
	}
	require.NoError(t, kvClient.Put(ctx, ingestion.KeyIngested, encodeUint64(1)))
	require.NoError(t, kvClient.Put(ctx, ingestion.KeyFinalized, encodeUint64(0)))

	cv := chainview.New(clog, kvClient, nil)
	go func() { _ = cv.Run(ctx) }()

	sub := cv.Subscribe(ctx)
	init := <-sub
	require.Equal(t, chainview.Initialize, init.Kind)

	appendEntry(t, ctx, clog, 2, 3, chain.Accepted)
	require.NoError(t, kvClient.Put(ctx, ingestion.KeyIngested, encodeUint64(2)))

	var newHead chainview.ChainChange
	select {
	case newHead = <-sub:
	case <-time.After(time.Second):
		t.Fatal("never observed NewHead")
	}
	require.Equal(t, chainview.NewHead, newHead.Kind)
	require.Equal(t, uint64(2), newHead.Cursor.Number)

	require.NoError(t, kvClient.Put(ctx, ingestion.KeyFinalized, encodeUint64(1)))
	var newFinalized chainview.ChainChange
	select {
	case newFinalized = <-sub:
	case <-time.After(time.Second):
		t.Fatal("never observed NewFinalized")
	}
	require.Equal(t, chainview.NewFinalized, newFinalized.Kind)
	require.Equal(t, uint64(1), newFinalized.Finalized.Number)

	// Simulate a reorg invalidating block 2: the ingestor rewrites the
	// entry and moves the ingested pointer back to the fork point.
	_, err = clog.RewriteFrom(ctx, 2, []chain.Entry{{Number: 2, Hash: []byte{9}, ParentHash: []byte{2}, Status: chain.Rejected}})
	require.NoError(t, err)
	require.NoError(t, kvClient.Put(ctx, ingestion.KeyIngested, encodeUint64(1)))

	var invalidate chainview.ChainChange
	select {
	case invalidate = <-sub:
	case <-time.After(time.Second):
		t.Fatal("never observed Invalidate")
	}
	require.Equal(t, chainview.Invalidate, invalidate.Kind)
	require.Equal(t, uint64(1), invalidate.Cursor.Number)

	require.NoError(t, kvClient.Put(ctx, compaction.KeySegmented, encodeUint64(0)))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, uint64(0), cv.Segmented())
}
