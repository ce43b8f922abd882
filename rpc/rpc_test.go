package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
	"github.com/prysmaticlabs/dna/provider"
)

const fragTx fragment.FragmentID = 2

type fakeFilterFactory struct{}

func (fakeFilterFactory) CreateBlockFilter(raw [][]byte) ([]filter.BlockFilter, error) {
	out := make([]filter.BlockFilter, len(raw))
	for i := range raw {
		out[i] = filter.BlockFilter{Filters: map[fragment.FragmentID][]filter.Filter{
			fragTx: {{FilterID: uint32(i), FragmentID: fragTx}},
		}}
	}
	return out, nil
}

type fakeIngestion struct{}

func (fakeIngestion) IngestBlock(ctx context.Context, number uint64) (*fragment.Block, error) {
	return nil, nil
}

// fakePlugin is the minimal chainplugin.ChainPlugin stand-in the
// filter-merging tests below need.
type fakePlugin struct{}

func (fakePlugin) FragmentInfo() []fragment.FragmentInfo {
	return []fragment.FragmentInfo{{ID: fragTx, Name: "transaction"}}
}
func (fakePlugin) BlockFilterFactory() chainplugin.FilterFactory { return fakeFilterFactory{} }
func (fakePlugin) BlockIngestion() chainplugin.BlockIngestion    { return fakeIngestion{} }
func (fakePlugin) Provider() provider.Provider                   { return nil }

func TestCompileFilterEnforcesMaxFilters(t *testing.T) {
	svc := &Service{cfg: Config{Plugin: fakePlugin{}}}
	raw := make([][]byte, maxFiltersPerRequest+1)
	_, err := svc.compileFilter(raw)
	require.Error(t, err)
}

func TestCompileFilterMergesByFragment(t *testing.T) {
	svc := &Service{cfg: Config{Plugin: fakePlugin{}}}
	bf, err := svc.compileFilter([][]byte{{0x01}, {0x02}})
	require.NoError(t, err)
	require.Len(t, bf.Filters[fragTx], 2)
}

func TestStatusReportsChainViewSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	kvClient := memkv.New()
	clog, err := chain.New(store, 0)
	require.NoError(t, err)

	hash := []byte{0x01}
	_, err = store.Put(ctx, objectstore.BlockKey(0, "01"), []byte("block"), objectstore.PutOptions{IfNoneMatch: "*"})
	require.NoError(t, err)
	_, err = clog.Append(ctx, chain.Entry{Number: 0, Hash: hash, Status: chain.Finalized}, "")
	require.NoError(t, err)
	require.NoError(t, kvClient.Put(ctx, "ingestion/ingested", encodeUint64(0)))
	require.NoError(t, kvClient.Put(ctx, "ingestion/finalized", encodeUint64(0)))

	cv := chainview.New(clog, kvClient, nil)
	go cv.Run(ctx)

	deadline := time.After(time.Second)
	for cv.Head().Hash == nil {
		select {
		case <-deadline:
			t.Fatal("chain view never initialized")
		case <-time.After(time.Millisecond):
		}
	}

	svc := &Service{cfg: Config{ChainView: cv}}
	resp, err := svc.Status(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), resp.GetCurrentHead().GetOrderKey())
	require.Equal(t, hash, resp.GetCurrentHead().GetUniqueKey())
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
