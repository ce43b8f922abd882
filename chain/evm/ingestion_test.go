package evm_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain/evm"
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
	prov := evm.NewMemoryProvider()
	to := addr(2)
	prov.AddBlock(evm.Block{
		Number: 0,
		Hash:   hash32(1),
		Transactions: []evm.Transaction{
			{Hash: hash32(10), From: addr(1), To: &to, Status: evm.TransactionStatusSucceeded},
			{Hash: hash32(11), From: addr(3), To: nil, Status: evm.TransactionStatusFailed},
		},
		Logs: []evm.Log{
			{Address: addr(2), Topics: [][32]byte{hash32(99)}, TransactionIndex: 0, TransactionStatus: evm.TransactionStatusSucceeded},
		},
	})

	ctx := context.Background()
	_, block, err := prov.IngestBlockByNumber(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, block)

	txFromIdx := block.Indexes.Get(evm.TransactionFragmentID, evm.IndexTransactionByFromAddress)
	require.NotNil(t, txFromIdx)
	fromKey, err := fragment.B160Value(addr(1)[:])
	require.NoError(t, err)
	bm, err := txFromIdx.Get(fromKey)
	require.NoError(t, err)
	require.True(t, bm.Contains(0))
	require.False(t, bm.Contains(1))

	createIdx := block.Indexes.Get(evm.TransactionFragmentID, evm.IndexTransactionByCreate)
	bm, err = createIdx.Get(fragment.BoolValue(true))
	require.NoError(t, err)
	require.True(t, bm.Contains(1))

	logAddrIdx := block.Indexes.Get(evm.LogFragmentID, evm.IndexLogByAddress)
	addrKey, err := fragment.B160Value(addr(2)[:])
	require.NoError(t, err)
	bm, err = logAddrIdx.Get(addrKey)
	require.NoError(t, err)
	require.True(t, bm.Contains(0))

	join := block.JoinFor(evm.LogFragmentID, evm.TransactionFragmentID)
	require.NotNil(t, join)
	target, ok := join.GetOne(0)
	require.True(t, ok)
	require.Equal(t, uint32(0), target)
}

func TestFilterFactoryCompilesTransactionAndLogFilters(t *testing.T) {
	fromAddr := addr(1)
	logAddr := addr(2)
	rf := evm.RawFilter{
		Transactions: []evm.TransactionFilter{{ID: 1, From: fromAddr[:]}},
		Logs:         []evm.LogFilter{{ID: 2, Address: logAddr[:]}},
	}
	raw, err := json.Marshal(rf)
	require.NoError(t, err)

	factory := evm.FilterFactory{}
	bfs, err := factory.CreateBlockFilter([][]byte{raw})
	require.NoError(t, err)
	require.Len(t, bfs, 1)

	bf := bfs[0]
	require.Len(t, bf.Filters[evm.TransactionFragmentID], 1)
	require.Len(t, bf.Filters[evm.LogFragmentID], 1)
	require.Contains(t, bf.Filters[evm.LogFragmentID][0].Joins, evm.TransactionFragmentID)
}

func TestFilterFactoryRejectsMalformedJSON(t *testing.T) {
	factory := evm.FilterFactory{}
	_, err := factory.CreateBlockFilter([][]byte{[]byte("not json")})
	require.Error(t, err)
}
