package beacon_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain/beacon"
	"github.com/prysmaticlabs/dna/fragment"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func hash32(b byte) [32]byte {
	var h [32]byte
	h[31] = b
	return h
}

func TestIngestBlockBuildsFilterableIndexes(t *testing.T) {
	prov := beacon.NewMemoryProvider()
	to := addr(2)
	prov.AddBlock(beacon.Block{
		Number: 0,
		Hash:   hash32(1),
		Transactions: []beacon.Transaction{
			{Hash: hash32(10), From: addr(1), To: &to},
			{Hash: hash32(11), From: addr(3), To: nil},
		},
		Validators: []beacon.Validator{
			{Index: 7, Status: beacon.ValidatorStatusActive},
		},
		Blobs: []beacon.Blob{
			{Index: 0, TransactionIndex: 1},
		},
	})

	ctx := context.Background()
	_, block, err := prov.IngestBlockByNumber(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, block)

	txFromIdx := block.Indexes.Get(beacon.TransactionFragmentID, beacon.IndexTransactionByFromAddress)
	require.NotNil(t, txFromIdx)
	fromKey, err := fragment.B160Value(addr(1)[:])
	require.NoError(t, err)
	bm, err := txFromIdx.Get(fromKey)
	require.NoError(t, err)
	require.True(t, bm.Contains(0))
	require.False(t, bm.Contains(1))

	createIdx := block.Indexes.Get(beacon.TransactionFragmentID, beacon.IndexTransactionByCreate)
	bm, err = createIdx.Get(fragment.BoolValue(true))
	require.NoError(t, err)
	require.True(t, bm.Contains(1))

	validatorIdx := block.Indexes.Get(beacon.ValidatorFragmentID, beacon.IndexValidatorByIndex)
	bm, err = validatorIdx.Get(fragment.Uint64Value(7))
	require.NoError(t, err)
	require.True(t, bm.Contains(0))

	require.Nil(t, block.Indexes.Get(beacon.BlobFragmentID, 0))

	join := block.JoinFor(beacon.BlobFragmentID, beacon.TransactionFragmentID)
	require.NotNil(t, join)
	target, ok := join.GetOne(0)
	require.True(t, ok)
	require.Equal(t, uint32(1), target)
}

func TestFilterFactoryCompilesTransactionAndValidatorFilters(t *testing.T) {
	fromAddr := addr(1)
	rf := beacon.RawFilter{
		Transactions: []beacon.TransactionFilter{{ID: 1, From: fromAddr[:]}},
		Validators:   []beacon.ValidatorFilter{{ID: 2, ValidatorIndex: uint64ptr(7)}},
		Blobs:        []beacon.BlobFilter{{ID: 3, IncludeTransaction: true}},
	}
	raw, err := json.Marshal(rf)
	require.NoError(t, err)

	factory := beacon.FilterFactory{}
	bfs, err := factory.CreateBlockFilter([][]byte{raw})
	require.NoError(t, err)
	require.Len(t, bfs, 1)

	bf := bfs[0]
	require.Len(t, bf.Filters[beacon.TransactionFragmentID], 1)
	require.Len(t, bf.Filters[beacon.ValidatorFragmentID], 1)
	require.Len(t, bf.Filters[beacon.BlobFragmentID], 1)
	require.Empty(t, bf.Filters[beacon.BlobFragmentID][0].Conditions)
	require.Contains(t, bf.Filters[beacon.BlobFragmentID][0].Joins, beacon.TransactionFragmentID)
}

func TestFilterFactoryRejectsMalformedJSON(t *testing.T) {
	factory := beacon.FilterFactory{}
	_, err := factory.CreateBlockFilter([][]byte{[]byte("not json")})
	require.Error(t, err)
}

func uint64ptr(v uint64) *uint64 { return &v }
