package boltkv_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/kv"
	"github.com/prysmaticlabs/dna/kv/boltkv"
)

func open(t *testing.T) *boltkv.Client {
	t.Helper()
	c, err := boltkv.Open(filepath.Join(t.TempDir(), "dna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestGetPutRoundTrip(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.True(t, kv.IsNotFound(err))

	require.NoError(t, c.Put(ctx, "chain/0000000001", []byte("hello")))
	got, err := c.Get(ctx, "chain/0000000001")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Value)
}

func TestPutSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dna.db")

	c1, err := boltkv.Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, c1.Close())

	c2, err := boltkv.Open(path)
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got.Value)
}

func TestGetPrefix(t *testing.T) {
	c := open(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "chain/0000000001", []byte("a")))
	require.NoError(t, c.Put(ctx, "chain/0000000002", []byte("b")))
	require.NoError(t, c.Put(ctx, "other/x", []byte("c")))

	kvs, err := c.GetPrefix(ctx, "chain/")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
}

func TestTxnPutAndDeleteIsAtomicInEffect(t *testing.T) {
	c := open(t)
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
	c := open(t)
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
	c := open(t)
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
