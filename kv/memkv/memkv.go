// Package memkv is an in-memory kv.Client used by tests, mirroring the
// fake in-memory stores under Prysm's shared/testutil.
package memkv

import (
	"context"
	"strings"
	"sync"

	"github.com/prysmaticlabs/dna/kv"
)

type record struct {
	value    []byte
	revision int64
}

// Client is a goroutine-safe, single-process implementation of
// kv.Client. Watches and locks are served in-process; it never
// persists to disk.
type Client struct {
	mu       sync.Mutex
	data     map[string]record
	revision int64
	watchers map[string][]chan kv.WatchEvent
	locks    map[string]chan struct{}
}

func New() *Client {
	return &Client{
		data:     make(map[string]record),
		watchers: make(map[string][]chan kv.WatchEvent),
		locks:    make(map[string]chan struct{}),
	}
}

func (c *Client) Get(_ context.Context, key string) (kv.KeyValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	if !ok {
		return kv.KeyValue{}, kv.ErrNotFound
	}
	return kv.KeyValue{Key: key, Value: append([]byte(nil), r.value...), Revision: r.revision}, nil
}

func (c *Client) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
	return nil
}

func (c *Client) putLocked(key string, value []byte) {
	c.revision++
	cp := append([]byte(nil), value...)
	c.data[key] = record{value: cp, revision: c.revision}
	c.notifyLocked(kv.WatchEvent{Key: key, Value: cp, Revision: c.revision})
}

func (c *Client) deleteLocked(key string) {
	if _, ok := c.data[key]; !ok {
		return
	}
	c.revision++
	delete(c.data, key)
	c.notifyLocked(kv.WatchEvent{Key: key, Revision: c.revision, Deleted: true})
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
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []kv.KeyValue
	for k, r := range c.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kv.KeyValue{Key: k, Value: append([]byte(nil), r.value...), Revision: r.revision})
		}
	}
	return out, nil
}

func (c *Client) TxnPutAndDelete(_ context.Context, txn kv.PutAndDelete) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range txn.Deletes {
		c.deleteLocked(k)
	}
	for k, v := range txn.Puts {
		c.putLocked(k, v)
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

type memLock struct {
	client *Client
	key    string
	ch     chan struct{}
}

func (l *memLock) Key() string { return l.key }

func (l *memLock) Unlock(_ context.Context) error {
	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	if l.client.locks[l.key] == l.ch {
		delete(l.client.locks, l.key)
		close(l.ch)
	}
	return nil
}

func (c *Client) Lock(ctx context.Context, key string, _ int64) (kv.Lock, error) {
	for {
		c.mu.Lock()
		if _, held := c.locks[key]; !held {
			ch := make(chan struct{})
			c.locks[key] = ch
			c.mu.Unlock()
			return &memLock{client: c, key: key, ch: ch}, nil
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
