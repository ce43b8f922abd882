// Package boltkv is a single-process, durable kv.Client backed by
// go.etcd.io/bbolt, for standalone dna deployments that want the
// ingestion-lock and chain-log metadata to survive a restart without
// standing up an etcd cluster. Watches and locks are served in-process,
// the same way kv/memkv serves them, since bbolt gives no cross-process
// watch primitive of its own — only Get/Put/GetPrefix/TxnPutAndDelete
// actually touch disk.
package boltkv

import (
	"context"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/prysmaticlabs/dna/kv"
)

var dataBucket = []byte("kv")

// Client is a kv.Client whose Get/Put/GetPrefix/TxnPutAndDelete state
// lives in one bbolt file; revision tracking, prefix watches and
// in-process locks mirror kv/memkv's in-memory bookkeeping on top of it.
type Client struct {
	db *bolt.DB

	mu       sync.Mutex
	revision int64
	watchers map[string][]chan kv.WatchEvent
	locks    map[string]chan struct{}
}

// Open creates or reuses the bbolt file at path and returns a Client
// backed by it.
func Open(path string) (*Client, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{
		db:       db,
		watchers: make(map[string][]chan kv.WatchEvent),
		locks:    make(map[string]chan struct{}),
	}, nil
}

// Close releases the underlying bbolt file.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Get(_ context.Context, key string) (kv.KeyValue, error) {
	var out kv.KeyValue
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get([]byte(key))
		if v == nil {
			return kv.ErrNotFound
		}
		out = kv.KeyValue{Key: key, Value: append([]byte(nil), v...)}
		return nil
	})
	if err != nil {
		return kv.KeyValue{}, err
	}
	c.mu.Lock()
	out.Revision = c.revision
	c.mu.Unlock()
	return out, nil
}

func (c *Client) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(key, value)
}

func (c *Client) putLocked(key string, value []byte) error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put([]byte(key), value)
	}); err != nil {
		return err
	}
	c.revision++
	c.notifyLocked(kv.WatchEvent{Key: key, Value: append([]byte(nil), value...), Revision: c.revision})
	return nil
}

func (c *Client) notifyLocked(ev kv.WatchEvent) {
	for prefix, chans := range c.watchers {
		if !strings.HasPrefix(ev.Key, prefix) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (c *Client) GetPrefix(_ context.Context, prefix string) ([]kv.KeyValue, error) {
	var out []kv.KeyValue
	c.mu.Lock()
	rev := c.revision
	c.mu.Unlock()
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(dataBucket).Cursor()
		p := []byte(prefix)
		for k, v := cur.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = cur.Next() {
			out = append(out, kv.KeyValue{Key: string(k), Value: append([]byte(nil), v...), Revision: rev})
		}
		return nil
	})
	return out, err
}

func (c *Client) TxnPutAndDelete(_ context.Context, txn kv.PutAndDelete) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		for _, k := range txn.Deletes {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range txn.Puts {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range txn.Deletes {
		c.revision++
		c.notifyLocked(kv.WatchEvent{Key: k, Revision: c.revision, Deleted: true})
	}
	for k, v := range txn.Puts {
		c.revision++
		c.notifyLocked(kv.WatchEvent{Key: k, Value: append([]byte(nil), v...), Revision: c.revision})
	}
	return nil
}

func (c *Client) WatchPrefix(ctx context.Context, prefix string, _ int64) (<-chan kv.WatchEvent, error) {
	ch := make(chan kv.WatchEvent, 64)
	c.mu.Lock()
	c.watchers[prefix] = append(c.watchers[prefix], ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		chans := c.watchers[prefix]
		for i, existing := range chans {
			if existing == ch {
				c.watchers[prefix] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

type boltLock struct {
	client *Client
	key    string
	ch     chan struct{}
}

func (l *boltLock) Key() string { return l.key }

func (l *boltLock) Unlock(_ context.Context) error {
	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	if l.client.locks[l.key] == l.ch {
		delete(l.client.locks, l.key)
		close(l.ch)
	}
	return nil
}

// Lock serializes holders of key in-process. A bbolt file is only ever
// safely opened by one process at a time, so unlike kv/etcdkv this never
// needs a lease: the holder set is exactly the set of live goroutines
// that have called Lock and not yet Unlock.
func (c *Client) Lock(ctx context.Context, key string, _ int64) (kv.Lock, error) {
	for {
		c.mu.Lock()
		if _, held := c.locks[key]; !held {
			ch := make(chan struct{})
			c.locks[key] = ch
			c.mu.Unlock()
			return &boltLock{client: c, key: key, ch: ch}, nil
		}
		waitOn := c.locks[key]
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitOn:
		}
	}
}
