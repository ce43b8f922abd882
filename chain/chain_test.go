package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore/memstore"
)

func TestAppendAndGet(t *testing.T) {
	store := memstore.New()
	log, err := chain.New(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	etag, err := log.Append(ctx, chain.Entry{Number: 1, Hash: []byte{0xaa}, Status: chain.Accepted}, "")
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	got, err := log.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Number)
	require.Equal(t, chain.Accepted, got.Status)
}

func TestAppendConflictingEtagIsPrecondition(t *testing.T) {
	store := memstore.New()
	log, err := chain.New(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = log.Append(ctx, chain.Entry{Number: 1, Hash: []byte{0xaa}}, "")
	require.NoError(t, err)

	_, err = log.Append(ctx, chain.Entry{Number: 1, Hash: []byte{0xbb}}, "")
	require.True(t, dnaerr.Is(err, dnaerr.Precondition))
}

func TestGetAtOrBeforeWalksBack(t *testing.T) {
	store := memstore.New()
	log, err := chain.New(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = log.Append(ctx, chain.Entry{Number: 5, Hash: []byte{0x05}}, "")
	require.NoError(t, err)

	got, err := log.GetAtOrBefore(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Number)

	_, err = log.GetAtOrBefore(ctx, 4)
	require.True(t, dnaerr.Is(err, dnaerr.NotFound))
}

func TestRewriteFromReportsChangedCount(t *testing.T) {
	store := memstore.New()
	log, err := chain.New(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for n := uint64(10); n <= 12; n++ {
		_, err := log.Append(ctx, chain.Entry{Number: n, Hash: []byte{byte(n)}, Status: chain.Accepted}, "")
		require.NoError(t, err)
	}

	changed, err := log.RewriteFrom(ctx, 11, []chain.Entry{
		{Number: 11, Hash: []byte{0xff}, Status: chain.Accepted},
		{Number: 12, Hash: []byte{12}, Status: chain.Accepted},
	})
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	got, err := log.Get(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff}, got.Hash)
}

func TestRewriteFromRejectsNonContiguous(t *testing.T) {
	store := memstore.New()
	log, err := chain.New(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = log.RewriteFrom(ctx, 5, []chain.Entry{{Number: 7}})
	require.True(t, dnaerr.Is(err, dnaerr.BadInput))
}
