package memkv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/kv"
	"github.com/prysmaticlabs/dna/kv/memkv"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := memkv.New()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.True(t, kv.IsNotFound(err))

	require.NoError(t, c.Put(ctx, "chain/0000000001", []byte("hello")))
	got, err := c.Get(ctx, "chain/0000000001")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Value)
	require.Greater(t, got.Revision, int64(0))
}

func TestGetPrefix(t *testing.T) {
	c := memkv.New()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "chain/0000000001", []byte("a")))
	require.NoError(t, c.Put(ctx, "chain/0000000002", []byte("b")))
	require.NoError(t, c.Put(ctx, "other/x", []byte("c")))

	kvs, err := c.GetPrefix(ctx, "chain/")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
}

func TestTxnPutAndDeleteIsAtomicInEffect(t *testing.T) {
	c := memkv.New()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "segmented", []byte("0")))
	require.NoError(t, c.Put(ctx, "block/0000000001", []byte("x")))

	err := c.TxnPutAndDelete(ctx, kv.PutAndDelete{
		Puts:    map[string][]byte{"segmented": []byte("1")},
		Deletes: []string{"block/0000000001"},
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, "segmented")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got.Value)

	_, err = c.Get(ctx, "block/0000000001")
	require.True(t, kv.IsNotFound(err))
}

func TestWatchPrefixObservesPut(t *testing.T) {
	c := memkv.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.WatchPrefix(ctx, "chain/", 0)
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "chain/0000000001", []byte("v")))

	select {
	case ev := <-ch:
		require.Equal(t, "chain/0000000001", ev.Key)
		require.False(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestLockExcludesConcurrentHolder(t *testing.T) {
	c := memkv.New()
	ctx := context.Background()

	l1, err := c.Lock(ctx, "leader", 10)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		l2, err := c.Lock(ctx, "leader", 10)
		require.NoError(t, err)
		close(acquired)
		require.NoError(t, l2.Unlock(ctx))
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired before first was released")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, l1.Unlock(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}
