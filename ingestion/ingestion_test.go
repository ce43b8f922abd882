package ingestion_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/ingestion"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
	"github.com/prysmaticlabs/dna/provider"
)

// fakeProvider serves a fixed, linear chain of blocks and can simulate
// a reorg by swapping its block table for a given height range.
type fakeProvider struct {
	blocks map[uint64]provider.BlockInfo
	head   uint64
	final  uint64
}

func newFakeProvider(length uint64) *fakeProvider {
	p := &fakeProvider{blocks: make(map[uint64]provider.BlockInfo)}
	var parent []byte
	for n := uint64(0); n < length; n++ {
		hash := []byte{byte(n + 1)}
		p.blocks[n] = provider.BlockInfo{Cursor: cursor.New(n, hash), ParentHash: parent}
		parent = hash
	}
	p.head = length - 1
	return p
}

func (p *fakeProvider) GetHeadCursor(ctx context.Context) (cursor.Cursor, error) {
	return p.blocks[p.head].Cursor, nil
}

func (p *fakeProvider) GetFinalizedCursor(ctx context.Context) (cursor.Cursor, error) {
	return p.blocks[p.final].Cursor, nil
}

func (p *fakeProvider) GetBlockInfoByNumber(ctx context.Context, number uint64) (provider.BlockInfo, error) {
	return p.blocks[number], nil
}

func (p *fakeProvider) IngestBlockByNumber(ctx context.Context, number uint64) (provider.BlockInfo, *fragment.Block, error) {
	info := p.blocks[number]
	block := &fragment.Block{
		Header:  fragment.HeaderFragment{Data: info.Cursor.Hash},
		Indexes: fragment.NewIndexGroup(),
	}
	return info, block, nil
}

func TestIngestorFollowsLinearChainToHead(t *testing.T) {
	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	prov := newFakeProvider(5)
	in := ingestion.New(ingestion.Config{PollInterval: 10 * time.Millisecond}, store, kvClient, prov, clog)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		e, err := clog.Get(context.Background(), 4)
		if err == nil {
			require.Equal(t, []byte{5}, e.Hash)
			break
		}
		select {
		case <-deadline:
			t.Fatal("ingestor never reached head")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
